package services

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/awnumar/memguard"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/metrics"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
)

const keyringExt = ".keyring"

// KeyVaultService owns the per source reply keypairs and the operator key.
// A source private key exists on disk only sealed under the codename.
type KeyVaultService struct {
	keysDir     string
	bits        int
	kdf         util.Argon2Params
	operatorKey *rsa.PublicKey
	operatorPEM []byte
	keyName     string
}

func NewKeyVaultService(keysConf global.KeysConfig, operatorConf global.OperatorConfig) (*KeyVaultService, error) {
	if err := os.MkdirAll(keysConf.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keys dir: %w", errors.Join(types.ErrStorageUnavailable, err))
	}
	operatorPEM, err := os.ReadFile(operatorConf.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read operator public key: %w", err)
	}
	operatorKey, err := util.ParsePublicKeyPEM(operatorPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid operator public key %s: %w", operatorConf.PublicKeyPath, err)
	}
	bits := keysConf.Bits
	if bits == 0 {
		bits = 4096
	}
	return &KeyVaultService{
		keysDir: keysConf.Dir,
		bits:    bits,
		kdf: util.Argon2Params{
			Time:    keysConf.Argon2Time,
			Memory:  keysConf.Argon2Memory,
			Threads: keysConf.Argon2Threads,
		},
		operatorKey: operatorKey,
		operatorPEM: operatorPEM,
		keyName:     operatorConf.KeyName,
	}, nil
}

func (kv *KeyVaultService) keyringPath(sid string) (string, error) {
	if !util.IsValidStorageID(sid) {
		return "", types.ErrInvalidReference
	}
	return filepath.Join(kv.keysDir, sid+keyringExt), nil
}

// HasKeypair reports whether a keyring has been published for the source
func (kv *KeyVaultService) HasKeypair(sid string) bool {
	path, err := kv.keyringPath(sid)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// GenerateKeypair creates the reply keypair of a source exactly once. The
// keyring is written to a temp file and hard linked into place, so a
// concurrent generator that loses the race discards its key.
func (kv *KeyVaultService) GenerateKeypair(sid, codename string) error {
	path, err := kv.keyringPath(sid)
	if err != nil {
		return err
	}
	if kv.HasKeypair(sid) {
		return nil
	}
	if util.NormalizeCodename(codename) == "" {
		return fmt.Errorf("empty codename: %w", types.ErrInvalidParameter)
	}

	start := time.Now()
	priv, err := rsa.GenerateKey(rand.Reader, kv.bits)
	if err != nil {
		return fmt.Errorf("failed to generate rsa key: %w", err)
	}
	pubPEM, err := util.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return err
	}
	sealed, err := util.WrapPrivateKey(priv, util.NormalizeCodename(codename), kv.kdf)
	if err != nil {
		return err
	}
	keyring := append(pubPEM, pem.EncodeToMemory(sealed)...)

	tmp := filepath.Join(kv.keysDir, ".tmp-"+uuid.NewString())
	defer os.Remove(tmp)
	if err := writeSynced(tmp, keyring); err != nil {
		return fmt.Errorf("failed to write keyring: %w", errors.Join(types.ErrStorageUnavailable, err))
	}

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			level.Debug(global.Logger).Log("msg", "keypair already published by a concurrent job")
			return nil
		}
		return fmt.Errorf("failed to publish keyring: %w", errors.Join(types.ErrStorageUnavailable, err))
	}
	metrics.KeypairsGeneratedMetricsCount.Inc()
	metrics.KeypairGenerationLatency.Observe(float64(time.Since(start).Milliseconds()))
	return nil
}

func (kv *KeyVaultService) readKeyring(sid string) (pub *pem.Block, sealed *pem.Block, err error) {
	path, err := kv.keyringPath(sid)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, types.ErrKeyNotFound
		}
		return nil, nil, errors.Join(types.ErrStorageUnavailable, err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case util.PublicKeyPEMType:
			pub = block
		case util.SealedPrivateKeyType:
			sealed = block
		}
	}
	if pub == nil || sealed == nil {
		return nil, nil, fmt.Errorf("keyring of source is incomplete: %w", types.ErrStorageUnavailable)
	}
	return pub, sealed, nil
}

// ExportPublicKey returns the armored public key of a source
func (kv *KeyVaultService) ExportPublicKey(sid string) ([]byte, error) {
	pub, _, err := kv.readKeyring(sid)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(pub), nil
}

// ExportOperatorKey returns the armored operator public key and its attachment name
func (kv *KeyVaultService) ExportOperatorKey() ([]byte, string, error) {
	if len(kv.operatorPEM) == 0 {
		return nil, "", types.ErrKeyNotFound
	}
	return kv.operatorPEM, kv.keyName + ".asc", nil
}

func (kv *KeyVaultService) EncryptFor(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	return util.SealEnvelope(pub, plaintext)
}

func (kv *KeyVaultService) EncryptForOperator(plaintext []byte) ([]byte, error) {
	return util.SealEnvelope(kv.operatorKey, plaintext)
}

func (kv *KeyVaultService) EncryptForSource(sid string, plaintext []byte) ([]byte, error) {
	block, _, err := kv.readKeyring(sid)
	if err != nil {
		return nil, err
	}
	pub, err := util.ParsePublicKeyPEM(pem.EncodeToMemory(block))
	if err != nil {
		return nil, errors.Join(types.ErrStorageUnavailable, err)
	}
	return util.SealEnvelope(pub, plaintext)
}

// DecryptWith opens an envelope with the source private key unsealed by the
// codename. Missing keyring, wrong codename and corrupt input all fail with
// ErrDecryptionFailed.
func (kv *KeyVaultService) DecryptWith(sid, codename string, ciphertext []byte) ([]byte, error) {
	_, sealed, err := kv.readKeyring(sid)
	if err != nil {
		if errors.Is(err, types.ErrInvalidReference) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrDecryptionFailed, err)
	}
	der, err := util.UnwrapPrivateKey(sealed, util.NormalizeCodename(codename))
	if err != nil {
		return nil, err
	}
	// wipes der
	locked := memguard.NewBufferFromBytes(der)
	defer locked.Destroy()

	key, err := x509.ParsePKCS8PrivateKey(locked.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", types.ErrDecryptionFailed)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type: %w", types.ErrDecryptionFailed)
	}
	return util.OpenEnvelope(priv, ciphertext)
}

// DecryptText is DecryptWith for text content
func (kv *KeyVaultService) DecryptText(sid, codename string, ciphertext []byte) (string, error) {
	plaintext, err := kv.DecryptWith(sid, codename, ciphertext)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", types.ErrMalformedPlaintext
	}
	return string(plaintext), nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
