package services

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/types"
)

// KeyGenScheduler hands key generation to a background runner
type KeyGenScheduler interface {
	Schedule(ctx context.Context, job *types.KeyGenJob) error
}

// SubmissionService runs the submit, lookup and reply deletion flows of an
// authenticated source
type SubmissionService struct {
	store     *StoreService
	vault     *KeyVaultService
	sources   *SourceService
	scheduler KeyGenScheduler
}

func NewSubmissionService(store *StoreService, vault *KeyVaultService, sources *SourceService, scheduler KeyGenScheduler) *SubmissionService {
	if store == nil || vault == nil || sources == nil || scheduler == nil {
		panic("store, vault, sources and scheduler are required")
	}
	return &SubmissionService{
		store:     store,
		vault:     vault,
		sources:   sources,
		scheduler: scheduler,
	}
}

// Submit stores a message and/or a file. The names of the stored objects are
// returned even when a later step fails, and objects stored before the failure
// are still recorded on the source record.
func (ss *SubmissionService) Submit(ctx context.Context, srcCtx *types.SourceContext, input *types.SubmissionInput) ([]string, error) {
	if input == nil || (input.Message == "" && input.File == nil) {
		return nil, fmt.Errorf("empty submission: %w", types.ErrInvalidParameter)
	}
	names := []string{}
	if input.Message != "" {
		name, err := ss.store.SaveMessage(srcCtx.StorageID, input.Message)
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
	if input.File != nil {
		name, err := ss.store.SaveFile(srcCtx.StorageID, input.File)
		if err != nil {
			ss.recordPartial(ctx, srcCtx, names)
			return names, err
		}
		names = append(names, name)
	}

	record, err := ss.sources.RecordSubmissions(ctx, srcCtx.StorageID, names)
	if err != nil {
		return names, err
	}
	srcCtx.Source = record

	all, lErr := ss.store.ListSubmissions(srcCtx.StorageID)
	if lErr == nil {
		lErr = ss.store.NormalizeTimestamps(srcCtx.StorageID, all)
	}
	if lErr != nil {
		level.Error(global.Logger).Log("msg", "failed to normalize submission timestamps", "err", lErr)
	}
	return names, nil
}

// recordPartial keeps the source record in step with objects stored before a
// failed submission step
func (ss *SubmissionService) recordPartial(ctx context.Context, srcCtx *types.SourceContext, names []string) {
	if len(names) == 0 {
		return
	}
	record, err := ss.sources.RecordSubmissions(ctx, srcCtx.StorageID, names)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to record partially stored submission", "stored", len(names), "err", err)
		return
	}
	srcCtx.Source = record
}

// Lookup returns the replies of a source. A flagged source without keypair
// gets key generation scheduled; the lookup does not wait for it.
func (ss *SubmissionService) Lookup(ctx context.Context, srcCtx *types.SourceContext) (*types.LookupResult, error) {
	record, err := ss.sources.Get(ctx, srcCtx.StorageID)
	if err != nil {
		return nil, err
	}
	srcCtx.Source = record

	replies, err := ss.store.ListReplies(srcCtx.StorageID, srcCtx.Session.Codename)
	if err != nil {
		return nil, err
	}

	hasKey := ss.vault.HasKeypair(srcCtx.StorageID)
	if record.Flagged && !hasKey {
		job := &types.KeyGenJob{StorageID: srcCtx.StorageID, Codename: srcCtx.Session.Codename}
		if sErr := ss.scheduler.Schedule(ctx, job); sErr != nil {
			level.Error(global.Logger).Log("msg", "failed to schedule key generation", "err", sErr)
		}
	}
	return &types.LookupResult{
		DisplayID: srcCtx.DisplayID,
		Replies:   replies,
		Flagged:   record.Flagged,
		HasKey:    hasKey,
	}, nil
}

// DeleteReply securely deletes one reply of the source
func (ss *SubmissionService) DeleteReply(ctx context.Context, srcCtx *types.SourceContext, name string) error {
	if !validObjectReference(name) || ObjectKind(name) != types.ObjectKindReply {
		return types.ErrInvalidReference
	}
	return ss.store.DeleteObject(srcCtx.StorageID, name)
}
