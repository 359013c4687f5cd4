package types

import (
	"github.com/hibiken/asynq"
)

var (
	QueueTypeKeyGen = "keypair:generate"
)

// KeyGenJob asks the background runner to create the reply keypair of a source
type KeyGenJob struct {
	StorageID string `json:"sid" validate:"required"`
	Codename  string `json:"codename" validate:"required"`
}

// Target identifies the logical job, two jobs with the same target are duplicates
func (j *KeyGenJob) Target() string {
	return "keypair:" + j.StorageID
}

// NewKeyGenTask wraps an already sealed job payload into an asynq task
func NewKeyGenTask(sealedPayload []byte) *asynq.Task {
	return asynq.NewTask(QueueTypeKeyGen, sealedPayload)
}
