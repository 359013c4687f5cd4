package util

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/sourcedrop/sourcedrop-server/types"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	PublicKeyPEMType     = "PUBLIC KEY"
	SealedPrivateKeyType = "SOURCEDROP SEALED PRIVATE KEY"

	envelopeMagic  = "SDE1"
	secretKeySize  = 32
	secretboxNonce = 24
	wrapSaltSize   = 16
)

// Argon2Params tune the private key wrapping KDF
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

const (
	maxArgon2Time   = 64
	maxArgon2Memory = 4 << 20 // KiB
)

// check rejects parameters argon2 panics on, and values too costly to honor
// from a keyring header
func (p Argon2Params) check() error {
	if p.Time == 0 || p.Time > maxArgon2Time {
		return fmt.Errorf("argon2 time %d out of range", p.Time)
	}
	if p.Memory < 8 || p.Memory > maxArgon2Memory {
		return fmt.Errorf("argon2 memory %d KiB out of range", p.Memory)
	}
	if p.Threads == 0 {
		return errors.New("argon2 threads must be positive")
	}
	return nil
}

// SealEnvelope encrypts plaintext for the holder of the RSA private key:
// a random secretbox key is wrapped with RSA-OAEP-SHA256 and the content is
// sealed with secretbox.
//
//	"SDE1" | uint16 wrapped key length | wrapped key | nonce | box
func SealEnvelope(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("nil public key")
	}
	var key [secretKeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	defer wipe(key[:])

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key[:], []byte(envelopeMagic))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap content key: %w", err)
	}

	var nonce [secretboxNonce]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(envelopeMagic)+2+len(wrapped)+secretboxNonce+len(plaintext)+secretbox.Overhead)
	out = append(out, envelopeMagic...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(wrapped)))
	out = append(out, wrapped...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &key), nil
}

// OpenEnvelope reverses SealEnvelope. Every failure is ErrDecryptionFailed.
func OpenEnvelope(priv *rsa.PrivateKey, envelope []byte) ([]byte, error) {
	if priv == nil {
		return nil, types.ErrDecryptionFailed
	}
	if len(envelope) < len(envelopeMagic)+2 || !bytes.Equal(envelope[:len(envelopeMagic)], []byte(envelopeMagic)) {
		return nil, fmt.Errorf("not an envelope: %w", types.ErrDecryptionFailed)
	}
	rest := envelope[len(envelopeMagic):]
	wrappedLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < wrappedLen+secretboxNonce+secretbox.Overhead {
		return nil, fmt.Errorf("truncated envelope: %w", types.ErrDecryptionFailed)
	}

	keyBytes, err := rsa.DecryptOAEP(sha256.New(), nil, priv, rest[:wrappedLen], []byte(envelopeMagic))
	if err != nil || len(keyBytes) != secretKeySize {
		return nil, fmt.Errorf("failed to unwrap content key: %w", types.ErrDecryptionFailed)
	}
	defer wipe(keyBytes)
	var key [secretKeySize]byte
	copy(key[:], keyBytes)
	defer wipe(key[:])

	var nonce [secretboxNonce]byte
	copy(nonce[:], rest[wrappedLen:wrappedLen+secretboxNonce])

	plaintext, ok := secretbox.Open(nil, rest[wrappedLen+secretboxNonce:], &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("failed to open content box: %w", types.ErrDecryptionFailed)
	}
	return plaintext, nil
}

// SealSecret encrypts small payloads (queue jobs) with a symmetric server key
func SealSecret(key *[32]byte, plaintext []byte) ([]byte, error) {
	var nonce [secretboxNonce]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// OpenSecret reverses SealSecret
func OpenSecret(key *[32]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < secretboxNonce+secretbox.Overhead {
		return nil, types.ErrDecryptionFailed
	}
	var nonce [secretboxNonce]byte
	copy(nonce[:], sealed[:secretboxNonce])
	plaintext, ok := secretbox.Open(nil, sealed[secretboxNonce:], &nonce, key)
	if !ok {
		return nil, types.ErrDecryptionFailed
	}
	return plaintext, nil
}

// ParseHexKey decodes a 32 byte hex encoded symmetric key
func ParseHexKey(hexKey string) (*[32]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid key length: expected 32 bytes, got %d bytes", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// WrapPrivateKey seals a PKCS#8 encoded RSA key with XChaCha20-Poly1305 under
// an argon2id key derived from the passphrase. The salt travels in the PEM
// headers.
func WrapPrivateKey(priv *rsa.PrivateKey, passphrase string, params Argon2Params) (*pem.Block, error) {
	if err := params.check(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidParameter, err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	defer wipe(der)

	salt := make([]byte, wrapSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	kek := argon2.IDKey([]byte(passphrase), salt, params.Time, params.Memory, params.Threads, chacha20poly1305.KeySize)
	defer wipe(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &pem.Block{
		Type: SealedPrivateKeyType,
		Headers: map[string]string{
			"KDF":     "argon2id",
			"Salt":    hex.EncodeToString(salt),
			"Time":    fmt.Sprint(params.Time),
			"Memory":  fmt.Sprint(params.Memory),
			"Threads": fmt.Sprint(params.Threads),
		},
		Bytes: aead.Seal(nonce, nonce, der, []byte(SealedPrivateKeyType)),
	}, nil
}

// UnwrapPrivateKey opens a block produced by WrapPrivateKey. The returned DER
// bytes must be wiped by the caller.
func UnwrapPrivateKey(block *pem.Block, passphrase string) ([]byte, error) {
	if block == nil || block.Type != SealedPrivateKeyType {
		return nil, fmt.Errorf("not a sealed private key: %w", types.ErrDecryptionFailed)
	}
	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil || len(salt) != wrapSaltSize {
		return nil, fmt.Errorf("invalid salt: %w", types.ErrDecryptionFailed)
	}
	var params Argon2Params
	var threads uint32
	if _, err := fmt.Sscan(block.Headers["Time"], &params.Time); err != nil {
		return nil, fmt.Errorf("invalid kdf time: %w", types.ErrDecryptionFailed)
	}
	if _, err := fmt.Sscan(block.Headers["Memory"], &params.Memory); err != nil {
		return nil, fmt.Errorf("invalid kdf memory: %w", types.ErrDecryptionFailed)
	}
	if _, err := fmt.Sscan(block.Headers["Threads"], &threads); err != nil || threads == 0 || threads > 255 {
		return nil, fmt.Errorf("invalid kdf threads: %w", types.ErrDecryptionFailed)
	}
	params.Threads = uint8(threads)
	if err := params.check(); err != nil {
		return nil, fmt.Errorf("invalid kdf parameters: %w", errors.Join(types.ErrDecryptionFailed, err))
	}

	kek := argon2.IDKey([]byte(passphrase), salt, params.Time, params.Memory, params.Threads, chacha20poly1305.KeySize)
	defer wipe(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", types.ErrDecryptionFailed)
	}
	if len(block.Bytes) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("truncated private key: %w", types.ErrDecryptionFailed)
	}
	nonce := block.Bytes[:chacha20poly1305.NonceSizeX]
	der, err := aead.Open(nil, nonce, block.Bytes[chacha20poly1305.NonceSizeX:], []byte(SealedPrivateKeyType))
	if err != nil {
		return nil, fmt.Errorf("failed to open private key: %w", types.ErrDecryptionFailed)
	}
	return der, nil
}

// EncodePublicKeyPEM returns the armored PKIX form of an RSA public key
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: PublicKeyPEMType, Bytes: der}), nil
}

// ParsePublicKeyPEM finds the first PUBLIC KEY block in data
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM block containing public key")
		}
		if block.Type != PublicKeyPEMType {
			continue
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPub, nil
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
