package services

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/metrics"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
)

const (
	objectExt          = ".sde"
	tempPrefix         = ".tmp-"
	tombstonePrefix    = ".del-"
	maxAllocateRetries = 1000
)

var objectNameRegex = regexp.MustCompile(`^(\d{10})-(msg|doc|reply)\.sde$`)

// StoreService keeps the encrypted objects of every source in a per source
// directory. Object names carry only a sequence number and a kind.
type StoreService struct {
	storeDir       string
	passes         int
	maxUploadBytes int64
	vault          *KeyVaultService
	mediumCheck    func(path string) error
}

func NewStoreService(conf global.StorageConfig, vault *KeyVaultService) (*StoreService, error) {
	if vault == nil {
		panic("vault cannot be nil")
	}
	if err := os.MkdirAll(conf.StoreDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", errors.Join(types.ErrStorageUnavailable, err))
	}
	return &StoreService{
		storeDir:       conf.StoreDir,
		passes:         conf.SecureDeletePasses,
		maxUploadBytes: conf.MaxUploadBytes,
		vault:          vault,
		mediumCheck:    util.CheckInPlaceMedium,
	}, nil
}

// IsObjectName reports whether name is a listable storage object name
func IsObjectName(name string) bool {
	return objectNameRegex.MatchString(name)
}

// ObjectKind returns the kind tag of an object name ("" when invalid)
func ObjectKind(name string) string {
	m := objectNameRegex.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[2]
}

// Path returns the namespace directory of a source, or an object within it
func (s *StoreService) Path(sid string, name ...string) (string, error) {
	if !util.IsValidStorageID(sid) {
		return "", types.ErrInvalidReference
	}
	if len(name) == 0 {
		return filepath.Join(s.storeDir, sid), nil
	}
	if len(name) > 1 || !validObjectReference(name[0]) {
		return "", types.ErrInvalidReference
	}
	return filepath.Join(s.storeDir, sid, name[0]), nil
}

func validObjectReference(name string) bool {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return IsObjectName(name)
}

// CreateNamespace creates the directory of a source. An existing directory is
// not an error.
func (s *StoreService) CreateNamespace(sid string) error {
	dir, err := s.Path(sid)
	if err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			level.Warn(global.Logger).Log("msg", "duplicate ID on namespace creation")
			return nil
		}
		return fmt.Errorf("failed to create namespace: %w", errors.Join(types.ErrStorageUnavailable, err))
	}
	return nil
}

func (s *StoreService) NamespaceExists(sid string) bool {
	dir, err := s.Path(sid)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// SaveMessage stores a text message encrypted to the operator
func (s *StoreService) SaveMessage(sid, message string) (string, error) {
	sealed, err := s.vault.EncryptForOperator([]byte(message))
	if err != nil {
		return "", err
	}
	name, err := s.store(sid, types.ObjectKindMessage, sealed)
	if err != nil {
		return "", err
	}
	metrics.SubmissionsStoredMetricsCount.WithLabelValues(types.ObjectKindMessage).Inc()
	return name, nil
}

// SaveFile archives an uploaded file (and its detached signature, if any) and
// stores it encrypted to the operator
func (s *StoreService) SaveFile(sid string, file *types.FileSubmission) (string, error) {
	if file == nil || file.Stream == nil {
		return "", fmt.Errorf("missing file stream: %w", types.ErrInvalidParameter)
	}
	content, err := s.readBounded(file.Stream)
	if err != nil {
		return "", err
	}
	if file.StripMetadata {
		stripped, sErr := util.StripMetadata(content, file.ContentType)
		if sErr != nil {
			level.Info(global.Logger).Log("msg", "metadata not stripped", "stripped", false, "contentType", file.ContentType, "err", sErr)
		} else {
			content = stripped
		}
	}

	filename := util.SanitizeFilename(file.Filename)
	entries := []util.ArchiveEntry{{Name: filename, Content: content}}
	if file.Signature != nil {
		sig, sErr := s.readBounded(file.Signature)
		if sErr != nil {
			return "", sErr
		}
		if len(sig) > 0 {
			entries = append(entries, util.ArchiveEntry{Name: filename + ".sig", Content: sig})
		}
	}
	archive, err := util.PackArchive(entries...)
	if err != nil {
		return "", err
	}
	sealed, err := s.vault.EncryptForOperator(archive)
	if err != nil {
		return "", err
	}
	name, err := s.store(sid, types.ObjectKindFile, sealed)
	if err != nil {
		return "", err
	}
	metrics.SubmissionsStoredMetricsCount.WithLabelValues(types.ObjectKindFile).Inc()
	return name, nil
}

// SaveReply stores an operator reply encrypted to the source keypair
func (s *StoreService) SaveReply(sid, message string) (string, error) {
	sealed, err := s.vault.EncryptForSource(sid, []byte(message))
	if err != nil {
		return "", err
	}
	return s.store(sid, types.ObjectKindReply, sealed)
}

func (s *StoreService) readBounded(r io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, s.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(content)) > s.maxUploadBytes {
		return nil, fmt.Errorf("upload exceeds %d bytes: %w", s.maxUploadBytes, types.ErrInvalidParameter)
	}
	return content, nil
}

// store writes sealed content under the next free sequence number. os.Link
// fails if the target exists, so two writers never share a name.
func (s *StoreService) store(sid, kind string, sealed []byte) (string, error) {
	dir, err := s.Path(sid)
	if err != nil {
		return "", err
	}
	if !s.NamespaceExists(sid) {
		return "", fmt.Errorf("namespace missing: %w", types.ErrStorageUnavailable)
	}

	tmp := filepath.Join(dir, tempPrefix+uuid.NewString())
	defer os.Remove(tmp)
	if err := writeSynced(tmp, sealed); err != nil {
		return "", fmt.Errorf("failed to write object: %w", errors.Join(types.ErrStorageUnavailable, err))
	}

	seq, err := maxSequence(dir)
	if err != nil {
		return "", err
	}
	for i := 0; i < maxAllocateRetries; i++ {
		seq++
		name := fmt.Sprintf("%010d-%s%s", seq, kind, objectExt)
		lErr := os.Link(tmp, filepath.Join(dir, name))
		if lErr == nil {
			return name, nil
		}
		if !errors.Is(lErr, fs.ErrExist) {
			return "", fmt.Errorf("failed to publish object: %w", errors.Join(types.ErrStorageUnavailable, lErr))
		}
	}
	return "", fmt.Errorf("no free object name after %d attempts: %w", maxAllocateRetries, types.ErrStorageUnavailable)
}

func maxSequence(dir string) (int, error) {
	names, err := listObjects(dir)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, name := range names {
		seq, _ := strconv.Atoi(name[:10])
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

// listObjects returns object names in sequence order. Temp files and
// tombstones never match the object pattern.
func listObjects(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace: %w", errors.Join(types.ErrStorageUnavailable, err))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && IsObjectName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	// zero padded sequence sorts lexically
	sort.Strings(names)
	return names, nil
}

// ListReplies decrypts every reply of a source. Replies that fail to decrypt
// or decode are logged and skipped.
func (s *StoreService) ListReplies(sid, codename string) ([]*types.Reply, error) {
	dir, err := s.Path(sid)
	if err != nil {
		return nil, err
	}
	names, err := listObjects(dir)
	if err != nil {
		return nil, err
	}
	replies := make([]*types.Reply, 0)
	for _, name := range names {
		if ObjectKind(name) != types.ObjectKindReply {
			continue
		}
		path := filepath.Join(dir, name)
		info, sErr := os.Stat(path)
		if sErr != nil {
			// deleted concurrently
			continue
		}
		sealed, rErr := os.ReadFile(path)
		if rErr != nil {
			continue
		}
		text, dErr := s.vault.DecryptText(sid, codename, sealed)
		if dErr != nil {
			if errors.Is(dErr, types.ErrMalformedPlaintext) {
				level.Error(global.Logger).Log("msg", "could not decode reply", "reply", name, "err", dErr)
			} else {
				level.Error(global.Logger).Log("msg", "could not decrypt reply", "reply", name, "err", dErr)
			}
			metrics.ReplyDecryptFailuresMetricsCount.Inc()
			continue
		}
		replies = append(replies, &types.Reply{ID: name, Date: info.ModTime().UTC().Unix(), Message: text})
	}
	return replies, nil
}

// ListSubmissions returns message and document object names in sequence order
func (s *StoreService) ListSubmissions(sid string) ([]string, error) {
	dir, err := s.Path(sid)
	if err != nil {
		return nil, err
	}
	names, err := listObjects(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if kind := ObjectKind(name); kind == types.ObjectKindMessage || kind == types.ObjectKindFile {
			out = append(out, name)
		}
	}
	return out, nil
}

// DeleteObject securely deletes one object. The object is renamed to a hidden
// tombstone first, so it disappears from listings before the overwrite starts.
// ErrDeletionIncomplete means the object is gone from the namespace but its
// bytes may survive on the medium.
func (s *StoreService) DeleteObject(sid, name string) error {
	path, err := s.Path(sid, name)
	if err != nil {
		return err
	}
	tombstone := filepath.Join(filepath.Dir(path), tombstonePrefix+uuid.NewString())
	if err := os.Rename(path, tombstone); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.ErrNotFound
		}
		return fmt.Errorf("failed to remove object: %w", errors.Join(types.ErrStorageUnavailable, err))
	}

	dErr := util.SecureDeleteChecked(tombstone, s.passes, s.mediumCheck)
	if errors.Is(dErr, types.ErrDeletionIncomplete) {
		metrics.SecureDeletesMetricsCount.WithLabelValues("incomplete").Inc()
		level.Warn(global.Logger).Log("msg", "secure deletion incomplete", "object", name, "err", dErr)
		return dErr
	}
	if dErr != nil {
		return dErr
	}
	metrics.SecureDeletesMetricsCount.WithLabelValues("complete").Inc()
	return nil
}

// NormalizeTimestamps sets the times of all named objects to the modification
// time of the last one, so submission times cannot be told apart.
func (s *StoreService) NormalizeTimestamps(sid string, names []string) error {
	if len(names) < 2 {
		return nil
	}
	paths := make([]string, len(names))
	for i, name := range names {
		path, err := s.Path(sid, name)
		if err != nil {
			return err
		}
		paths[i] = path
	}
	last, err := os.Stat(paths[len(paths)-1])
	if err != nil {
		return fmt.Errorf("failed to stat newest object: %w", errors.Join(types.ErrStorageUnavailable, err))
	}
	mtime := last.ModTime()
	for _, path := range paths[:len(paths)-1] {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			return fmt.Errorf("failed to normalize timestamps: %w", errors.Join(types.ErrStorageUnavailable, err))
		}
	}
	return nil
}

// ReadObject returns the sealed bytes of an object (operator tooling)
func (s *StoreService) ReadObject(sid, name string) ([]byte, error) {
	path, err := s.Path(sid, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(types.ErrStorageUnavailable, err)
	}
	return data, nil
}

// SweepStale removes temp files and tombstones older than maxAge that an
// interrupted write or delete left behind. Tombstones are securely deleted.
func (s *StoreService) SweepStale(maxAge time.Duration) (int, error) {
	namespaces, err := os.ReadDir(s.storeDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list store: %w", errors.Join(types.ErrStorageUnavailable, err))
	}
	cutoff := time.Now().Add(-maxAge)
	swept := 0
	for _, ns := range namespaces {
		if !ns.IsDir() || !util.IsValidStorageID(ns.Name()) {
			continue
		}
		dir := filepath.Join(s.storeDir, ns.Name())
		entries, rErr := os.ReadDir(dir)
		if rErr != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			isTemp := strings.HasPrefix(name, tempPrefix)
			isTombstone := strings.HasPrefix(name, tombstonePrefix)
			if !isTemp && !isTombstone {
				continue
			}
			info, iErr := e.Info()
			if iErr != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, name)
			var dErr error
			if isTombstone {
				dErr = util.SecureDeleteChecked(path, s.passes, s.mediumCheck)
			} else {
				dErr = os.Remove(path)
			}
			if dErr != nil && !errors.Is(dErr, types.ErrDeletionIncomplete) {
				level.Warn(global.Logger).Log("msg", "failed to sweep stale file", "err", dErr)
				continue
			}
			swept++
		}
	}
	return swept, nil
}
