package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
)

// ErrConcurrentModification is returned when a commit loses a race against
// another writer.
var ErrConcurrentModification = errors.New("blobstore: concurrent modification detected")

// CurrentName is the blob holding the committed generation of a key.
const CurrentName = "CURRENT"

// Commit points a key at one published generation.
type Commit struct {
	Generation uint64
	Path       string
}

// CommitLog records which generation of a key is current. Generations start
// at 1 and a commit must name the generation after the current one.
type CommitLog interface {
	// Latest returns the current commit, or ErrNotFound when there is none.
	Latest(ctx context.Context, key string) (Commit, error)
	// Commit makes c current. It fails with ErrConcurrentModification when
	// c.Generation is not exactly one past the current generation.
	Commit(ctx context.Context, key string, c Commit) error
}

// BlobCommitLog keeps the commit pointer in a "<key>/CURRENT" blob. The
// compare-and-swap is serialized within one process only; use a DynamoDB
// commit log when several processes publish the same key.
type BlobCommitLog struct {
	store Store
	mu    sync.Mutex
}

// NewBlobCommitLog creates a commit log on store.
func NewBlobCommitLog(store Store) *BlobCommitLog {
	return &BlobCommitLog{store: store}
}

func currentName(key string) string {
	return path.Join(key, CurrentName)
}

// Latest reads the CURRENT blob of key.
func (l *BlobCommitLog) Latest(ctx context.Context, key string) (Commit, error) {
	data, err := ReadAll(ctx, l.store, currentName(key))
	if err != nil {
		return Commit{}, err
	}
	return parseCommit(data)
}

// Commit rewrites the CURRENT blob of key.
func (l *BlobCommitLog) Commit(ctx context.Context, key string, c Commit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var current uint64
	latest, err := l.Latest(ctx, key)
	switch {
	case err == nil:
		current = latest.Generation
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}
	if c.Generation != current+1 {
		return fmt.Errorf("%w: generation %d after %d", ErrConcurrentModification, c.Generation, current)
	}
	return l.store.Put(ctx, currentName(key), formatCommit(c))
}

func formatCommit(c Commit) []byte {
	return []byte(strconv.FormatUint(c.Generation, 10) + "\n" + c.Path + "\n")
}

func parseCommit(data []byte) (Commit, error) {
	gen, rest, ok := strings.Cut(string(data), "\n")
	if !ok {
		return Commit{}, fmt.Errorf("blobstore: malformed commit pointer %q", data)
	}
	n, err := strconv.ParseUint(gen, 10, 64)
	if err != nil || n == 0 {
		return Commit{}, fmt.Errorf("blobstore: malformed commit generation %q", gen)
	}
	return Commit{Generation: n, Path: strings.TrimSuffix(rest, "\n")}, nil
}
