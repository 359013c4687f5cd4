package types

import "io"

// SubmissionInput is one submit request: a message, a file, or both
type SubmissionInput struct {
	Message string
	File    *FileSubmission
}

// FileSubmission is an uploaded document with an optional detached signature
type FileSubmission struct {
	Filename      string
	ContentType   string
	Stream        io.Reader
	Signature     io.Reader
	StripMetadata bool
}

// object kinds as encoded in storage object names
const (
	ObjectKindMessage = "msg"
	ObjectKindFile    = "doc"
	ObjectKindReply   = "reply"
)
