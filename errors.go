package pagedb

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/persistence"
	"github.com/hupe1980/pagedb/resource"
)

var (
	// ErrClosed is returned by every operation on a closed DB.
	ErrClosed = errors.New("pagedb: database is closed")
	// ErrContainerExists is returned when a container is created or loaded twice.
	ErrContainerExists = errors.New("pagedb: container already open")
	// ErrContainerNotFound is returned for containers that are not open.
	ErrContainerNotFound = errors.New("pagedb: container not open")
	// ErrNoStore is returned by Publish and Fetch when no blob store is configured.
	ErrNoStore = errors.New("pagedb: no blob store configured")
	// ErrInvalidConfig is returned for configuration values out of range.
	ErrInvalidConfig = errors.New("pagedb: invalid configuration")
)

// ContainerError annotates a failed operation with the container it ran on.
//
// The underlying error is available through errors.Unwrap, so errors.Is and
// the Is* helpers see through it.
type ContainerError struct {
	Op   string
	Kind Kind
	Name string
	Err  error
}

func (e *ContainerError) Error() string {
	if e.Kind == KindDesign {
		return fmt.Sprintf("pagedb: %s %s: %v", e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("pagedb: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }

func containerError(op string, kind Kind, name string, err error) error {
	if err == nil {
		return nil
	}
	return &ContainerError{Op: op, Kind: kind, Name: name, Err: err}
}

// IsCapacity reports whether err means a pool, page or memory budget is exhausted.
func IsCapacity(err error) bool {
	return arena.IsCapacity(err) || errors.Is(err, resource.ErrMemoryLimitExceeded)
}

// IsAddressing reports whether err means a handle does not designate a live
// slot of the requested type.
func IsAddressing(err error) bool {
	return arena.IsAddressing(err) || errors.Is(err, arena.ErrPoolNotFound)
}

// IsIntegrity reports whether err means stored bytes are damaged: a checksum
// mismatch, a short or malformed header or an undecodable side file.
func IsIntegrity(err error) bool {
	return persistence.IsIntegrity(err)
}

// IsNotFound reports whether err means a file, blob or commit does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, blobstore.ErrNotFound) ||
		errors.Is(err, ErrContainerNotFound) ||
		errors.Is(err, fs.ErrNotExist)
}
