package arena

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/hupe1980/pagedb/core"
)

var plainTypes sync.Map // reflect.Type -> error

// checkPlain rejects types the arena cannot hold: anything containing Go
// pointers, which the garbage collector would not see and which would not
// survive a save/load cycle.
func checkPlain(t reflect.Type) error {
	if v, ok := plainTypes.Load(t); ok {
		if v == nil {
			return nil
		}
		return v.(error)
	}

	var err error
	if !isPlain(t) {
		err = fmt.Errorf("%w: %s", ErrPointerType, t)
	}
	if err == nil {
		plainTypes.Store(t, nil)
	} else {
		plainTypes.Store(t, err)
	}
	return err
}

func isPlain(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isPlain(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !isPlain(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SizeOf returns the slot size of T, or an error when T cannot be stored in a pool.
func SizeOf[T any]() (int, error) {
	var zero T
	if err := checkPlain(reflect.TypeOf(&zero).Elem()); err != nil {
		return 0, err
	}
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		return 0, ErrInvalidSize
	}
	return size, nil
}

// Allocate allocates a zero T in p and returns it with its handle.
func Allocate[T any](p *Pool, tag core.TypeTag) (*T, core.ObjectID, error) {
	size, err := SizeOf[T]()
	if err != nil {
		return nil, core.NilID, err
	}
	id, b, err := p.Alloc(tag, size)
	if err != nil {
		return nil, core.NilID, err
	}
	return (*T)(unsafe.Pointer(&b[0])), id, nil //nolint:gosec // slot is sized and aligned for T
}

// AllocateArray allocates n contiguous zero Ts in a single slot.
func AllocateArray[T any](p *Pool, tag core.TypeTag, n int) ([]T, core.ObjectID, error) {
	if n <= 0 {
		return nil, core.NilID, ErrInvalidSize
	}
	size, err := SizeOf[T]()
	if err != nil {
		return nil, core.NilID, err
	}
	id, b, err := p.Alloc(tag, size*n)
	if err != nil {
		return nil, core.NilID, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n), id, nil //nolint:gosec // slot is sized and aligned for n Ts
}

// Resolve returns the T stored at id. The slot must have been allocated as a
// T with the same tag.
func Resolve[T any](p *Pool, tag core.TypeTag, id core.ObjectID) (*T, error) {
	size, err := SizeOf[T]()
	if err != nil {
		return nil, err
	}
	b, err := p.Lookup(tag, id)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, &TypeMismatchError{ID: id, Expected: tag, Actual: tag, Size: uint32(len(b)), Want: uint32(size)}
	}
	return (*T)(unsafe.Pointer(&b[0])), nil //nolint:gosec // size checked above
}

// ResolveArray returns the Ts stored in an array slot at id.
func ResolveArray[T any](p *Pool, tag core.TypeTag, id core.ObjectID) ([]T, error) {
	size, err := SizeOf[T]()
	if err != nil {
		return nil, err
	}
	b, err := p.Lookup(tag, id)
	if err != nil {
		return nil, err
	}
	if len(b)%size != 0 {
		return nil, &TypeMismatchError{ID: id, Expected: tag, Actual: tag, Size: uint32(len(b)), Want: uint32(size)}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/size), nil //nolint:gosec // length checked above
}

// MustResolve is Resolve for handles that are known to be valid. An
// addressing error means the handle or the registry is corrupt, so it panics.
func MustResolve[T any](p *Pool, tag core.TypeTag, id core.ObjectID) *T {
	v, err := Resolve[T](p, tag, id)
	if err != nil {
		panic(err)
	}
	return v
}
