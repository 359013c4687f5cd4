package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/types"
)

const defaultQueue = "default"

// AsynqRunner schedules jobs on a redis backed asynq queue. The task ID is
// derived from the job target, so asynq itself rejects duplicates.
type AsynqRunner struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	secret    *[32]byte
	maxRetry  int
}

func NewAsynqRunner(redisOpt asynq.RedisConnOpt, secret *[32]byte, maxRetry int) *AsynqRunner {
	return &AsynqRunner{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		secret:    secret,
		maxRetry:  maxRetry,
	}
}

func (r *AsynqRunner) Schedule(ctx context.Context, job *types.KeyGenJob) error {
	sealed, err := sealJob(r.secret, job)
	if err != nil {
		return err
	}
	task := types.NewKeyGenTask(sealed)
	_, err = r.client.EnqueueContext(ctx, task, asynq.TaskID(job.Target()), asynq.MaxRetry(r.maxRetry), asynq.Queue(defaultQueue))
	if err == nil {
		return nil
	}
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue key generation: %w", err)
	}

	// an archived task (retries exhausted) keeps its ID until deleted
	info, iErr := r.inspector.GetTaskInfo(defaultQueue, job.Target())
	if iErr != nil || info.State != asynq.TaskStateArchived {
		return nil
	}
	level.Info(global.Logger).Log("msg", "re-scheduling archived key generation task")
	if dErr := r.inspector.DeleteTask(defaultQueue, job.Target()); dErr != nil && !errors.Is(dErr, asynq.ErrTaskNotFound) {
		return fmt.Errorf("failed to delete archived task: %w", dErr)
	}
	_, err = r.client.EnqueueContext(ctx, task, asynq.TaskID(job.Target()), asynq.MaxRetry(r.maxRetry), asynq.Queue(defaultQueue))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue key generation: %w", err)
	}
	return nil
}

func (r *AsynqRunner) Shutdown() {
	r.inspector.Close()
	r.client.Close()
}

// RetryDelayFunc calculates the retry delay using exponential backoff
// Here, baseDelay is the initial delay, and maxDelay caps the delay duration
func RetryDelayFunc(attempt int, err error, t *asynq.Task) time.Duration {
	baseDelay := 10 * time.Second
	maxDelay := 10 * time.Minute

	if attempt > 16 {
		return maxDelay
	}
	// in retry(3), this should be 20s, 40s, 80s (left shifting 0001)
	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// NewAsynqServer creates the task processing server for key generation jobs
func NewAsynqServer(redisOpt asynq.RedisConnOpt, concurrency int, mode string, kq *KeyQueue) (*asynq.Server, *asynq.ServeMux) {
	logLevel := asynq.InfoLevel
	if mode != "debug" {
		logLevel = asynq.WarnLevel
	}
	if concurrency < 1 {
		concurrency = 2
	}
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:    concurrency,
			LogLevel:       logLevel,
			RetryDelayFunc: RetryDelayFunc, // overriding the default retry delay function
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(types.QueueTypeKeyGen, kq.ProcessKeyGenTask)
	return server, mux
}
