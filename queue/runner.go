package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
)

var (
	ErrRunnerClosed = errors.New("task runner is shut down")

	validate = validator.New()
)

// TaskRunner executes key generation jobs in the background. Scheduling a job
// for a target that is already pending is a no-op.
type TaskRunner interface {
	Schedule(ctx context.Context, job *types.KeyGenJob) error
	Shutdown()
}

// JobHandler runs one job
type JobHandler interface {
	Handle(ctx context.Context, job *types.KeyGenJob) error
}

// sealJob encrypts a job so the codename never reaches the broker in clear
func sealJob(secret *[32]byte, job *types.KeyGenJob) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return util.SealSecret(secret, payload)
}

func openJob(secret *[32]byte, sealed []byte) (*types.KeyGenJob, error) {
	payload, err := util.OpenSecret(secret, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open job payload: %w", err)
	}
	var job types.KeyGenJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if err := validate.Struct(job); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	return &job, nil
}
