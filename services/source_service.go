package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/repository"
	"github.com/sourcedrop/sourcedrop-server/types"
)

const maxUpdateAttempts = 5

// SourceService persists source records. Records are keyed by storage
// identifier and hold no secret.
type SourceService struct {
	sourceRepo repository.Repository
	now        func() time.Time
}

func NewSourceService(dbSelector repository.DBSelector) *SourceService {
	db, err := dbSelector.ChooseDB(repository.Sources)
	if err != nil {
		panic(err)
	}
	return &SourceService{
		sourceRepo: db,
		now:        time.Now,
	}
}

// Create stores a new record for sid. If the record exists already (or a
// concurrent request created it) the existing record is returned.
func (ss *SourceService) Create(ctx context.Context, sid, displayID string) (*types.SourceRecord, error) {
	existing, err := ss.Get(ctx, sid)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	now := ss.now().UTC().UnixMilli()
	record := &types.SourceRecord{
		BaseDocument:          types.BaseDocument{ID: sid},
		FilesystemID:          sid,
		JournalistDesignation: displayID,
		Created:               now,
		LastUpdated:           now,
	}
	sErr := ss.sourceRepo.Save(ctx, sid, record)
	if errors.Is(sErr, types.ErrConflict) {
		level.Warn(global.Logger).Log("msg", "duplicate ID on source creation")
		return ss.Get(ctx, sid)
	}
	if sErr != nil {
		return nil, sErr
	}
	return record, nil
}

// Get returns the record of sid or types.ErrNotFound
func (ss *SourceService) Get(ctx context.Context, sid string) (*types.SourceRecord, error) {
	var record types.SourceRecord
	if err := ss.sourceRepo.GetByID(ctx, sid, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SetFlagged marks a source for reply key generation (operator action)
func (ss *SourceService) SetFlagged(ctx context.Context, sid string, flagged bool) (*types.SourceRecord, error) {
	return ss.update(ctx, sid, func(r *types.SourceRecord) {
		r.Flagged = flagged
	})
}

// RecordSubmissions appends references to newly stored submissions and marks
// the source as pending
func (ss *SourceService) RecordSubmissions(ctx context.Context, sid string, names []string) (*types.SourceRecord, error) {
	return ss.update(ctx, sid, func(r *types.SourceRecord) {
		now := ss.now().UTC().UnixMilli()
		for _, name := range names {
			r.Submissions = append(r.Submissions, &types.SubmissionRef{Filename: name, Created: now})
		}
		r.Pending = true
		r.LastUpdated = now
	})
}

// update re-reads and re-applies the mutation when the stored revision moved
func (ss *SourceService) update(ctx context.Context, sid string, mutate func(*types.SourceRecord)) (*types.SourceRecord, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		record, err := ss.Get(ctx, sid)
		if err != nil {
			return nil, err
		}
		mutate(record)
		sErr := ss.sourceRepo.Save(ctx, sid, record)
		if sErr == nil {
			return record, nil
		}
		if !errors.Is(sErr, types.ErrConflict) {
			return nil, sErr
		}
		level.Debug(global.Logger).Log("msg", "source record update conflict, retrying", "attempt", attempt+1)
	}
	return nil, fmt.Errorf("source record update failed after %d attempts: %w", maxUpdateAttempts, types.ErrConflict)
}
