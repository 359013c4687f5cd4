package queue

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/metrics"
	"github.com/sourcedrop/sourcedrop-server/types"
)

// KeyGenerator creates source keypairs
type KeyGenerator interface {
	HasKeypair(sid string) bool
	GenerateKeypair(sid, codename string) error
}

// KeyQueue handles key generation jobs for both task runners
type KeyQueue struct {
	vault  KeyGenerator
	secret *[32]byte
}

func NewKeyQueue(vault KeyGenerator, secret *[32]byte) *KeyQueue {
	return &KeyQueue{vault: vault, secret: secret}
}

// Handle generates the keypair of a job unless it exists already
func (kq *KeyQueue) Handle(ctx context.Context, job *types.KeyGenJob) error {
	if kq.vault.HasKeypair(job.StorageID) {
		return nil
	}
	if err := kq.vault.GenerateKeypair(job.StorageID, job.Codename); err != nil {
		metrics.KeypairFailuresMetricsCount.Inc()
		level.Error(global.Logger).Log("msg", "key generation failed", "err", err)
		return err
	}
	return nil
}

// ProcessKeyGenTask is the asynq handler of types.QueueTypeKeyGen
func (kq *KeyQueue) ProcessKeyGenTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != types.QueueTypeKeyGen {
		return fmt.Errorf("unexpected task type: %s, %w", t.Type(), asynq.SkipRetry)
	}
	job, err := openJob(kq.secret, t.Payload())
	if err != nil {
		// a payload sealed under another secret never becomes readable
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return kq.Handle(ctx, job)
}
