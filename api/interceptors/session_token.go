package interceptors

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v3"
	"github.com/sourcedrop/sourcedrop-server/types"
)

var ErrInvalidToken = errors.New("invalid session token")

// TokenCodec seals a SourceSession into a compact JWE (dir + A256GCM) under a
// server key. The codename inside never leaves the server unencrypted.
type TokenCodec struct {
	key []byte
}

func NewTokenCodec(secret *[32]byte) *TokenCodec {
	key := make([]byte, len(secret))
	copy(key, secret[:])
	return &TokenCodec{key: key}
}

func (tc *TokenCodec) Seal(sess *types.SourceSession) (string, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	encrypter, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: tc.key}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}
	object, err := encrypter.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}
	return object.CompactSerialize()
}

func (tc *TokenCodec) Open(token string) (*types.SourceSession, error) {
	object, err := jose.ParseEncrypted(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	payload, err := object.Decrypt(tc.key)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var sess types.SourceSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, ErrInvalidToken
	}
	return &sess, nil
}
