package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/tyler-smith/go-bip39/wordlists"
	"golang.org/x/crypto/scrypt"
)

const (
	StorageIDBytes = 32 // scrypt output length
)

var (
	// unpadded base32 of 32 bytes is 52 characters
	storageIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	storageIDRegex    = regexp.MustCompile("^[A-Z2-7]{52}$")
)

// Codec derives storage and display identifiers from a codename. A codec is
// a pure function of its configuration and the codename.
type Codec struct {
	words         []string
	minWords      int
	maxWords      int
	idPepper      []byte
	displayPepper []byte
	scryptN       int
	scryptR       int
	scryptP       int
}

// NewCodec creates a codec over the BIP-39 english wordlist
func NewCodec(conf global.CodenameConfig) *Codec {
	return &Codec{
		words:         wordlists.English,
		minWords:      conf.MinWords,
		maxWords:      conf.MaxWords,
		idPepper:      []byte(conf.IDPepper),
		displayPepper: []byte(conf.DisplayPepper),
		scryptN:       conf.ScryptN,
		scryptR:       conf.ScryptR,
		scryptP:       conf.ScryptP,
	}
}

// GeneratePhrase draws wordCount words uniformly at random from the wordlist
func (c *Codec) GeneratePhrase(wordCount int) (string, error) {
	if wordCount < c.minWords || wordCount > c.maxWords {
		return "", fmt.Errorf("word count %d outside [%d, %d]: %w", wordCount, c.minWords, c.maxWords, types.ErrInvalidParameter)
	}
	max := big.NewInt(int64(len(c.words)))
	picked := make([]string, wordCount)
	for i := range picked {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random word index: %w", err)
		}
		picked[i] = c.words[idx.Int64()]
	}
	return strings.Join(picked, " "), nil
}

// HashCodename returns the storage identifier of a codename. It is slow on
// purpose (scrypt) and deterministic: the only salt is the configured pepper.
func (c *Codec) HashCodename(codename string) (string, error) {
	normalized := NormalizeCodename(codename)
	if normalized == "" {
		return "", fmt.Errorf("empty codename: %w", types.ErrInvalidParameter)
	}
	dk, err := scrypt.Key([]byte(normalized), c.idPepper, c.scryptN, c.scryptR, c.scryptP, StorageIDBytes)
	if err != nil {
		return "", fmt.Errorf("failed to derive storage id: %w", err)
	}
	return storageIDEncoding.EncodeToString(dk), nil
}

// DisplayID returns a two word decoy name for operator facing display. It is
// keyed separately from the storage identifier.
func (c *Codec) DisplayID(codename string) string {
	mac := hmac.New(sha256.New, c.displayPepper)
	mac.Write([]byte(NormalizeCodename(codename)))
	sum := mac.Sum(nil)

	n := uint32(len(c.words))
	first := binary.BigEndian.Uint16(sum[0:2])
	second := binary.BigEndian.Uint16(sum[2:4])
	return c.words[uint32(first)%n] + " " + c.words[uint32(second)%n]
}

// ValidWordCount reports whether n is within the configured word policy
func (c *Codec) ValidWordCount(n int) bool {
	return n >= c.minWords && n <= c.maxWords
}

// NormalizeCodename trims, collapses whitespace and lowercases a codename
func NormalizeCodename(codename string) string {
	return strings.ToLower(strings.Join(strings.Fields(codename), " "))
}

// IsValidStorageID checks the storage id format (never the existence)
func IsValidStorageID(id string) bool {
	return storageIDRegex.MatchString(id)
}
