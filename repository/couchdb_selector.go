package repository

import (
	"fmt"
	"strconv"

	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/types"
)

const (
	// Sources holds one SourceRecord per storage identifier
	Sources = "sources"
)

type DBSelector interface {
	ChooseDB(dbName string) (Repository, error)
}

type CouchDBSelector struct {
	dbs []Repository
}

func NewCouchDBSelector() *CouchDBSelector {
	return &CouchDBSelector{}
}

// adds a database to the databse selector
func (c *CouchDBSelector) AddDB(db Repository) {
	c.dbs = append(c.dbs, db)
}

// returns the required database
func (c *CouchDBSelector) ChooseDB(dbName string) (Repository, error) {
	if len(c.dbs) == 0 {
		return nil, types.ErrNotFound
	}
	for i, r := range c.dbs {
		if r.GetDBName() == dbName {
			return c.dbs[i], nil
		}
	}
	return nil, types.ErrNotFound
}

// Close closes every registered database
func (c *CouchDBSelector) Close() error {
	var firstErr error
	for _, r := range c.dbs {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewDBSelectorFromConfig opens every database of the configured backend
func NewDBSelectorFromConfig(dbConf global.DatabaseConfig, couchConf global.CouchDBConfig) (*CouchDBSelector, error) {
	selector := NewCouchDBSelector()
	switch dbConf.Type {
	case "couchdb":
		repoUrl := couchConf.Scheme + "://" + couchConf.Host + ":" + strconv.Itoa(couchConf.Port)
		sourceRepo, err := NewCouchDBRepository(repoUrl, Sources, couchConf.Username, couchConf.Password, false)
		if err != nil {
			return nil, err
		}
		selector.AddDB(sourceRepo)
	default:
		if dbConf.Path == "" {
			return nil, fmt.Errorf("database.path is required for badger: %w", types.ErrInvalidParameter)
		}
		sourceRepo, err := NewBadgerRepository(dbConf.Path, Sources, false)
		if err != nil {
			return nil, err
		}
		selector.AddDB(sourceRepo)
	}
	return selector, nil
}
