// Package artifacts persists job outputs in object storage under an owner/job prefix.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/types"
)

// GzipSuffix is appended to the names of compressed artifacts
const GzipSuffix = ".gz"

var (
	// ErrArtifactExists is returned when a filename was already written for a job
	ErrArtifactExists = errors.New("artifact already exists")
	// ErrArtifactNotFound is returned when no object exists for a filename
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrInvalidFilename is returned for empty names or names containing path separators
	ErrInvalidFilename = errors.New("invalid artifact filename")
)

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key  string
	Size int64
}

// Backend is the object storage the store writes to
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// StatsRecorder accumulates per-job artifact counters
type StatsRecorder interface {
	AddArtifactStats(ctx context.Context, jobID uuid.UUID, files int, bytes int64) error
}

// Object is the result of a successful put
type Object struct {
	Ref      string `json:"object_ref"`
	Filename string `json:"filename"`
	Size     int64  `json:"size_bytes"`
}

// FileInfo is one entry of a job's artifact listing
type FileInfo struct {
	Filename   string `json:"filename"`
	Type       string `json:"type"`
	Label      string `json:"label"`
	Size       int64  `json:"size"`
	Compressed bool   `json:"compressed"`
}

// Store writes append-only artifacts and keeps job counters in step with them
type Store struct {
	backend Backend
	stats   StatsRecorder
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock serializes puts of one object key. refs counts the holders and
// waiters so the entry can be dropped once nobody needs it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a store. stats may be nil when counters are tracked elsewhere.
func NewStore(backend Backend, stats StatsRecorder, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		stats:   stats,
		logger:  logging.NewComponentLogger(logger, "artifacts"),
		locks:   make(map[string]*keyLock),
	}
}

// Put stores content under the job prefix, gzip-compressing it when asked.
// Compressed artifacts get the .gz suffix appended to their name.
func (s *Store) Put(ctx context.Context, ownerID, jobID uuid.UUID, filename string, content []byte, compress bool) (*Object, error) {
	if err := checkFilename(filename); err != nil {
		return nil, err
	}

	name := filename
	data := content
	if compress {
		gz, err := gzipBytes(content)
		if err != nil {
			return nil, fmt.Errorf("failed to compress %s: %w", filename, err)
		}
		name += GzipSuffix
		data = gz
	}
	key := types.StoragePathFor(ownerID, jobID) + name

	unlock := s.lockKey(key)
	defer unlock()

	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check artifact %s: %w", key, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrArtifactExists, name)
	}

	if err := s.backend.Put(ctx, key, data, contentType(filename, compress)); err != nil {
		return nil, fmt.Errorf("failed to put artifact %s: %w", key, err)
	}

	size := int64(len(data))
	if s.stats != nil {
		if err := s.stats.AddArtifactStats(ctx, jobID, 1, size); err != nil {
			// an uncounted object must not stay behind, the job may already be terminal
			if delErr := s.backend.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Warn("failed to remove uncounted artifact",
					slog.String("object", key), logging.Error(delErr))
			}
			return nil, fmt.Errorf("failed to record artifact stats: %w", err)
		}
	}

	s.logger.Debug("artifact stored",
		slog.String(logging.FieldJobID, jobID.String()),
		slog.String("object", key),
		slog.Int64("size_bytes", size),
	)
	return &Object{Ref: key, Filename: name, Size: size}, nil
}

// Get returns the artifact content, decompressing names that end in .gz.
// A plain name that was stored compressed is found through its .gz sibling.
func (s *Store) Get(ctx context.Context, ownerID, jobID uuid.UUID, filename string) ([]byte, error) {
	if err := checkFilename(filename); err != nil {
		return nil, err
	}
	prefix := types.StoragePathFor(ownerID, jobID)

	name := filename
	data, err := s.backend.Get(ctx, prefix+name)
	if errors.Is(err, ErrArtifactNotFound) && !strings.HasSuffix(name, GzipSuffix) {
		name += GzipSuffix
		data, err = s.backend.Get(ctx, prefix+name)
	}
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, filename)
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", filename, err)
	}

	if strings.HasSuffix(name, GzipSuffix) {
		return gunzipBytes(data)
	}
	return data, nil
}

// List returns the artifacts stored for a job, sorted by name
func (s *Store) List(ctx context.Context, ownerID, jobID uuid.UUID) ([]FileInfo, error) {
	prefix := types.StoragePathFor(ownerID, jobID)
	objects, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	files := make([]FileInfo, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		fileType, label := Classify(name)
		files = append(files, FileInfo{
			Filename:   name,
			Type:       fileType,
			Label:      label,
			Size:       obj.Size,
			Compressed: strings.HasSuffix(name, GzipSuffix),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// Classify derives the display type and label of an artifact from its name
func Classify(filename string) (string, string) {
	base := strings.TrimSuffix(filename, GzipSuffix)
	switch {
	case strings.Contains(base, "pillar"):
		return "pillar", "Pillar article"
	case strings.Contains(base, "satellite"):
		n := strings.TrimPrefix(base, "satellite_")
		if i := strings.IndexAny(n, "_."); i >= 0 {
			n = n[:i]
		}
		return "satellite", "Satellite article " + n
	case strings.Contains(base, "article_main"):
		return "main", "Main article"
	case strings.Contains(base, "metadata"):
		return "metadata", "Metadata"
	default:
		return "other", base
	}
}

// lockKey acquires the lock of key and returns its release function
func (s *Store) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func checkFilename(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}

func contentType(filename string, compressed bool) string {
	if compressed {
		return "application/gzip"
	}
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func gzipBytes(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip artifact: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress artifact: %w", err)
	}
	return out, nil
}
