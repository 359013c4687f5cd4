package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/sourcedrop/sourcedrop-server/types"
)

// implements Repository interface using CouchDB
type CouchDBRepository struct {
	client *resty.Client
	dbName string
}

func NewCouchDBRepository(url, DBName string, username string, password string, mock bool) (Repository, error) {
	cl := resty.New().SetBaseURL(url).SetTimeout(time.Second * 10)
	cl.SetHeader("Content-Type", "application/json")
	cl.SetHeader("Accept", "application/json")
	cl.SetHeader("User-Agent", "sourcedrop-server/1.0.0")
	if username != "" {
		cl.SetBasicAuth(username, password)
	}

	if mock {
		httpmock.ActivateNonDefault(cl.GetClient())
	}

	existstRes, exsistsErr := cl.R().Head(DBName)
	if exsistsErr != nil {
		return nil, fmt.Errorf("failed to check if database exists: %w", errors.Join(types.ErrStorageUnavailable, exsistsErr))
	}
	if existstRes.StatusCode() == 200 {
		return &CouchDBRepository{cl, DBName}, nil
	}

	var ok types.OK
	var dbErr2 types.CouchDBError
	// create DB since it doesn't exist
	_, putErr := cl.R().SetResult(&ok).SetError(&dbErr2).Put(DBName)
	if putErr != nil {
		return nil, fmt.Errorf("failed to create database %s: %w", DBName, errors.Join(types.ErrStorageUnavailable, putErr))
	}
	if dbErr2.Error != "" {
		return nil, fmt.Errorf("failed to create database %s: %s", DBName, dbErr2.Error)
	}
	if !ok.IsOK {
		return nil, fmt.Errorf("failed to create database %s", DBName)
	}
	return &CouchDBRepository{cl, DBName}, nil
}

// GetByID decodes the document with the given ID into out
func (c *CouchDBRepository) GetByID(ctx context.Context, id string, out interface{}) error {
	response, err := c.client.R().SetContext(ctx).Get(fmt.Sprintf("%s/%s", c.dbName, id))
	if err != nil {
		return errors.Join(types.ErrStorageUnavailable, err)
	}
	if hErr := handleError(response); hErr != nil {
		return hErr
	}
	return MapToObject(response, out)
}

// Save creates a new doc or updates an existing one (data must carry the current _rev)
func (c *CouchDBRepository) Save(ctx context.Context, docID string, data interface{}) error {
	var ok types.OK
	response, err := c.client.R().SetContext(ctx).SetBody(data).SetResult(&ok).Put(fmt.Sprintf("%s/%s", c.dbName, docID))
	if err != nil {
		return errors.Join(types.ErrStorageUnavailable, err)
	}
	if hErr := handleError(response); hErr != nil {
		return hErr
	}
	if rv, isRev := data.(types.Revisioned); isRev && ok.Rev != "" {
		rv.SetRev(ok.Rev)
	}
	return nil
}

// Delete deletes a document by its ID
func (c *CouchDBRepository) Delete(ctx context.Context, id string) error {
	var doc types.BaseDocument
	if err := c.GetByID(ctx, id, &doc); err != nil {
		return err
	}

	response, err := c.client.R().SetContext(ctx).SetQueryParam("rev", doc.Rev).Delete(fmt.Sprintf("%s/%s", c.dbName, id))
	if err != nil {
		return errors.Join(types.ErrStorageUnavailable, err)
	}
	return handleError(response)
}

// return name of the database
func (c *CouchDBRepository) GetDBName() string {
	return c.dbName
}

func (c *CouchDBRepository) Close() error {
	return nil
}

// returns a resty client
func (c *CouchDBRepository) GetClient() interface{} {
	return c.client
}
