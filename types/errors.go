package types

import "errors"

var (
	// ErrInvalidParameter is returned for out of policy input (e.g. word count)
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidReference is returned when an object or identifier reference is malformed
	ErrInvalidReference = errors.New("invalid reference")

	// ErrUnknownIdentity is returned for any failed authentication. It never says why.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrDecryptionFailed covers wrong phrase, corrupt ciphertext and missing keypair
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMalformedPlaintext is returned when decrypted bytes are not valid text
	ErrMalformedPlaintext = errors.New("malformed plaintext")

	// ErrStorageUnavailable is returned when a namespace or object cannot be read or written
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDeletionIncomplete is returned when a secure overwrite could not be guaranteed
	ErrDeletionIncomplete = errors.New("secure deletion incomplete")

	// ErrKeyNotFound is returned when a source has no keypair yet
	ErrKeyNotFound = errors.New("keypair not found")

	// ErrNotFound is returned when a document or object doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the resource conflicts (e.g. update of old revision)
	ErrConflict = errors.New("conflict")

	// ErrBadRequest is returned for malformed requests
	ErrBadRequest = errors.New("bad request")

	// ErrNotAuthorized is returned when the caller is not allowed to access the resource
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInternal (for unahandled exceptions)
	ErrInternal = errors.New("internal error")
)
