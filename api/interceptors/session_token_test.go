package interceptors

import (
	"testing"

	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec(fill byte) *TokenCodec {
	var key [32]byte
	for i := range key {
		key[i] = fill
	}
	return NewTokenCodec(&key)
}

func TestTokenRoundTrip(t *testing.T) {
	codec := testCodec(1)
	sess := &types.SourceSession{Codename: "abandon ability able about above absent absorb abstract", State: types.SessionAuthenticated, ExpiresAt: 1234}

	token, err := codec.Seal(sess)
	require.NoError(t, err)
	assert.NotContains(t, token, "abandon")

	opened, err := codec.Open(token)
	require.NoError(t, err)
	assert.Equal(t, sess, opened)
}

func TestTokenWrongKey(t *testing.T) {
	token, err := testCodec(1).Seal(&types.SourceSession{Codename: "x"})
	require.NoError(t, err)

	_, err = testCodec(2).Open(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenTampered(t *testing.T) {
	codec := testCodec(1)
	token, err := codec.Seal(&types.SourceSession{Codename: "x"})
	require.NoError(t, err)

	tampered := []byte(token)
	last := len(tampered) - 2
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}
	_, err = codec.Open(string(tampered))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = codec.Open("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
