package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sourcedrop/sourcedrop-server/types"
)

// BadgerRepository keeps documents in an embedded badger database. Revisions
// are generated the CouchDB way ("<generation>-<digest>") so services can
// treat both backends alike.
type BadgerRepository struct {
	db     *badger.DB
	dbName string
}

// NewBadgerRepository opens (or creates) <path>/<dbName>. With inMemory the
// path is ignored and nothing touches the disk.
func NewBadgerRepository(path, dbName string, inMemory bool) (*BadgerRepository, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(path, dbName))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database %s: %w", dbName, errors.Join(types.ErrStorageUnavailable, err))
	}
	return &BadgerRepository{db: db, dbName: dbName}, nil
}

func (b *BadgerRepository) key(id string) []byte {
	return []byte(b.dbName + "/" + id)
}

func (b *BadgerRepository) GetByID(ctx context.Context, id string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.ErrNotFound
	}
	if err != nil {
		return errors.Join(types.ErrStorageUnavailable, err)
	}
	return mapBytes(raw, out)
}

func (b *BadgerRepository) Save(ctx context.Context, docID string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", docID, err)
	}
	var incoming types.BaseDocument
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return fmt.Errorf("failed to read document revision %s: %w", docID, err)
	}

	var rev string
	err = b.db.Update(func(txn *badger.Txn) error {
		generation := 1
		item, getErr := txn.Get(b.key(docID))
		switch {
		case errors.Is(getErr, badger.ErrKeyNotFound):
			if incoming.Rev != "" {
				return types.ErrConflict
			}
		case getErr != nil:
			return getErr
		default:
			var existing types.BaseDocument
			if vErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); vErr != nil {
				return vErr
			}
			if incoming.Rev != existing.Rev {
				return types.ErrConflict
			}
			generation = revGeneration(existing.Rev) + 1
		}

		digest := sha256.Sum256(raw)
		rev = strconv.Itoa(generation) + "-" + hex.EncodeToString(digest[:16])

		var doc map[string]interface{}
		if uErr := json.Unmarshal(raw, &doc); uErr != nil {
			return uErr
		}
		doc["_id"] = docID
		doc["_rev"] = rev
		stored, mErr := json.Marshal(doc)
		if mErr != nil {
			return mErr
		}
		return txn.Set(b.key(docID), stored)
	})
	if errors.Is(err, types.ErrConflict) || errors.Is(err, badger.ErrConflict) {
		return types.ErrConflict
	}
	if err != nil {
		return errors.Join(types.ErrStorageUnavailable, err)
	}
	if rv, ok := data.(types.Revisioned); ok {
		rv.SetRev(rev)
	}
	return nil
}

func (b *BadgerRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(b.key(id)); err != nil {
			return err
		}
		return txn.Delete(b.key(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.ErrNotFound
	}
	if err != nil {
		return errors.Join(types.ErrStorageUnavailable, err)
	}
	return nil
}

func (b *BadgerRepository) GetDBName() string {
	return b.dbName
}

func (b *BadgerRepository) Close() error {
	return b.db.Close()
}

func revGeneration(rev string) int {
	gen, _, _ := strings.Cut(rev, "-")
	n, err := strconv.Atoi(gen)
	if err != nil {
		return 0
	}
	return n
}
