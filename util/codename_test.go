package util

import (
	"strings"
	"testing"

	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec() *Codec {
	return NewCodec(global.CodenameConfig{
		DefaultWords:  8,
		MinWords:      7,
		MaxWords:      10,
		IDPepper:      "id-pepper",
		DisplayPepper: "display-pepper",
		ScryptN:       16,
		ScryptR:       1,
		ScryptP:       1,
	})
}

func TestGeneratePhraseWordCount(t *testing.T) {
	codec := testCodec()
	for n := 7; n <= 10; n++ {
		phrase, err := codec.GeneratePhrase(n)
		require.NoError(t, err)
		words := strings.Fields(phrase)
		assert.Len(t, words, n)
		for _, w := range words {
			assert.Contains(t, codec.words, w)
		}
	}

	_, err := codec.GeneratePhrase(6)
	assert.Error(t, err)
	_, err = codec.GeneratePhrase(11)
	assert.Error(t, err)
}

func TestHashCodenameDeterministic(t *testing.T) {
	codec := testCodec()
	phrase := "abandon ability able about above absent absorb abstract"

	first, err := codec.HashCodename(phrase)
	require.NoError(t, err)
	second, err := codec.HashCodename("  ABANDON ability\table about above absent absorb   abstract ")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, IsValidStorageID(first))
	assert.Len(t, first, 52)

	// a fresh codec with the same configuration agrees
	third, err := testCodec().HashCodename(phrase)
	require.NoError(t, err)
	assert.Equal(t, first, third)

	other, err := codec.HashCodename("abandon ability able about above absent absorb abuse")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	_, err = codec.HashCodename("   ")
	assert.Error(t, err)
}

func TestHashCodenameDependsOnPepper(t *testing.T) {
	conf := global.CodenameConfig{MinWords: 7, MaxWords: 10, IDPepper: "one", DisplayPepper: "x", ScryptN: 16, ScryptR: 1, ScryptP: 1}
	a, err := NewCodec(conf).HashCodename("some phrase")
	require.NoError(t, err)
	conf.IDPepper = "two"
	b, err := NewCodec(conf).HashCodename("some phrase")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStorageIDSampling(t *testing.T) {
	codec := testCodec()
	samples := 100000
	if testing.Short() {
		samples = 1000
	}
	seen := make(map[string]struct{}, samples)
	for i := 0; i < samples; i++ {
		phrase, err := codec.GeneratePhrase(7)
		require.NoError(t, err)
		sid, err := codec.HashCodename(phrase)
		require.NoError(t, err)
		require.True(t, IsValidStorageID(sid), sid)
		seen[sid] = struct{}{}
	}
	assert.Len(t, seen, samples)
}

func TestDisplayID(t *testing.T) {
	codec := testCodec()
	phrase := "abandon ability able about above absent absorb abstract"
	display := codec.DisplayID(phrase)
	assert.Equal(t, display, codec.DisplayID(strings.ToUpper(phrase)))
	assert.Len(t, strings.Fields(display), 2)
}

func TestIsValidStorageID(t *testing.T) {
	assert.False(t, IsValidStorageID(""))
	assert.False(t, IsValidStorageID("../../etc"))
	assert.False(t, IsValidStorageID(strings.Repeat("a", 52)))
	assert.False(t, IsValidStorageID(strings.Repeat("A", 51)))
	assert.True(t, IsValidStorageID(strings.Repeat("A", 52)))
}
