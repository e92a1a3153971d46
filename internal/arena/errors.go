package arena

import (
	"errors"
	"fmt"

	"github.com/hupe1980/pagedb/core"
)

var (
	// ErrTooManyPools is returned when the registry has handed out every pool number.
	ErrTooManyPools = errors.New("arena: max pools exceeded")
	// ErrTooManyPages is returned when a pool cannot address another chunk of pages.
	ErrTooManyPages = errors.New("arena: max pages exceeded")
	// ErrAllocationFailed is returned when chunk memory cannot be obtained.
	ErrAllocationFailed = errors.New("arena: allocation failed")
	// ErrAllocationTooLarge is returned when a slot does not fit in a single page.
	ErrAllocationTooLarge = errors.New("arena: allocation larger than page")
	// ErrInvalidSize is returned for non-positive allocation sizes.
	ErrInvalidSize = errors.New("arena: invalid allocation size")
	// ErrPointerType is returned when a stored type contains Go pointers.
	ErrPointerType = errors.New("arena: type contains pointers")

	// ErrInvalidHandle is returned when a handle does not address a live slot of the pool.
	ErrInvalidHandle = errors.New("arena: invalid handle")
	// ErrAmbiguousHandle is returned when a handle's pool number is claimed by
	// more than one pool after an image was restored under a new number.
	ErrAmbiguousHandle = errors.New("arena: ambiguous handle")
	// ErrFreedSlot is returned when a handle addresses a freed slot.
	ErrFreedSlot = errors.New("arena: slot has been freed")
	// ErrTypeMismatch is the sentinel wrapped by *TypeMismatchError.
	ErrTypeMismatch = errors.New("arena: type mismatch")

	// ErrPoolClosed is returned by every operation on a closed pool.
	ErrPoolClosed = errors.New("arena: pool is closed")
	// ErrPoolDetached is returned when allocating from a restored pool that is not registered yet.
	ErrPoolDetached = errors.New("arena: pool is not registered")
	// ErrPoolNotFound is returned when no pool is registered under a number or container.
	ErrPoolNotFound = errors.New("arena: pool not found")
	// ErrContainerExists is returned when a container already owns a pool.
	ErrContainerExists = errors.New("arena: container already has a pool")
	// ErrInvalidImage is returned when restored pool metadata is inconsistent.
	ErrInvalidImage = errors.New("arena: invalid pool image")
)

// TypeMismatchError reports a handle resolved with a tag or size other than
// the one it was allocated with.
type TypeMismatchError struct {
	ID       core.ObjectID
	Expected core.TypeTag
	Actual   core.TypeTag
	Size     uint32
	Want     uint32
}

func (e *TypeMismatchError) Error() string {
	if e.Expected != e.Actual {
		return fmt.Sprintf("arena: %s holds %s, requested %s", e.ID, e.Actual, e.Expected)
	}
	return fmt.Sprintf("arena: %s holds %d bytes, requested %d", e.ID, e.Size, e.Want)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// IsCapacity reports whether err is a capacity error (pool, page or memory exhaustion).
func IsCapacity(err error) bool {
	return errors.Is(err, ErrTooManyPools) ||
		errors.Is(err, ErrTooManyPages) ||
		errors.Is(err, ErrAllocationFailed)
}

// IsAddressing reports whether err is an addressing error (corrupt or mistyped handle).
func IsAddressing(err error) bool {
	return errors.Is(err, ErrInvalidHandle) ||
		errors.Is(err, ErrAmbiguousHandle) ||
		errors.Is(err, ErrFreedSlot) ||
		errors.Is(err, ErrTypeMismatch)
}
