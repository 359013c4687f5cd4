package repository

import (
	"context"
)

// Repository stores JSON documents by ID. Save follows CouchDB revision
// semantics: overwriting an existing document requires its current _rev,
// otherwise types.ErrConflict is returned.
type Repository interface {
	GetByID(ctx context.Context, id string, out interface{}) error
	Save(ctx context.Context, docID string, data interface{}) error
	Delete(ctx context.Context, id string) error
	GetDBName() string
	Close() error
}
