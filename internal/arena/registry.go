package arena

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/pagedb/core"
)

// Registry assigns pool numbers and maps handles back to their pools.
//
// Pool numbers start at 1 and are never handed out twice during a registry's
// lifetime. Lookups go through an indexed table (number -> pool) or a map
// keyed by the owning container's id.
type Registry struct {
	mu          sync.Mutex
	maxPools    int
	next        int
	used        [core.MaxPools]bool
	pools       [core.MaxPools]*Pool
	aliasOf     [core.MaxPools]uint8 // pool number -> number recorded in its image
	byContainer map[uint64]*Pool
	current     uint8
	opts        []Option
}

// NewRegistry creates a registry handing out at most maxPools pool numbers.
// A maxPools outside [1, core.MaxPools-1] selects the maximum. opts apply to
// every pool the registry creates.
func NewRegistry(maxPools int, opts ...Option) (*Registry, error) {
	if maxPools <= 0 || maxPools >= core.MaxPools {
		maxPools = core.MaxPools - 1
	}
	if _, err := newOptions(opts); err != nil {
		return nil, err
	}
	return &Registry{
		maxPools:    maxPools,
		next:        1,
		byContainer: make(map[uint64]*Pool),
		opts:        opts,
	}, nil
}

// Options returns the pool options the registry was created with.
func (r *Registry) Options() []Option {
	return r.opts
}

// NewPool creates an empty pool for containerID under the next unused number.
func (r *Registry) NewPool(containerID uint64) (*Pool, error) {
	o, err := newOptions(r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byContainer[containerID]; ok {
		return nil, fmt.Errorf("%w: %d", ErrContainerExists, containerID)
	}
	no, err := r.claimLocked(0)
	if err != nil {
		return nil, err
	}

	p := newPool(no, containerID, o)
	r.pools[no] = p
	r.byContainer[containerID] = p
	return p, nil
}

// claimLocked hands out want if it was never used, otherwise the next unused number.
func (r *Registry) claimLocked(want uint8) (uint8, error) {
	if want != 0 && int(want) <= r.maxPools && !r.used[want] {
		r.used[want] = true
		return want, nil
	}
	for r.next <= r.maxPools && r.used[r.next] {
		r.next++
	}
	if r.next > r.maxPools {
		return 0, ErrTooManyPools
	}
	no := uint8(r.next)
	r.used[no] = true
	r.next++
	return no, nil
}

// Adopt registers a pool produced by Restore for containerID. The pool keeps
// the number recorded in its image when that number is still unused;
// otherwise it gets a fresh number and resolves the recorded one as an alias.
func (r *Registry) Adopt(containerID uint64, p *Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byContainer[containerID]; ok {
		return fmt.Errorf("%w: %d", ErrContainerExists, containerID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.no != 0 {
		return fmt.Errorf("arena: pool %d is already registered", p.no)
	}

	no, err := r.claimLocked(p.alias)
	if err != nil {
		return err
	}
	p.no = no
	if p.alias == no {
		p.alias = 0
	}
	r.aliasOf[no] = p.alias
	p.containerID = containerID
	for cls, ids := range p.free {
		for i, id := range ids {
			ids[i] = id.WithPool(no)
		}
		p.free[cls] = ids
	}

	r.pools[no] = p
	r.byContainer[containerID] = p
	return nil
}

// Pool returns the pool registered under no.
func (r *Registry) Pool(no uint8) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.poolLocked(no)
}

func (r *Registry) poolLocked(no uint8) (*Pool, error) {
	if int(no) >= len(r.pools) || r.pools[no] == nil {
		return nil, fmt.Errorf("%w: number %d", ErrPoolNotFound, no)
	}
	return r.pools[no], nil
}

// PoolFor returns the pool of the container with the given id.
func (r *Registry) PoolFor(containerID uint64) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byContainer[containerID]
	if !ok {
		return nil, fmt.Errorf("%w: container %d", ErrPoolNotFound, containerID)
	}
	return p, nil
}

// PoolOf returns the pool a handle resolves through. A number recorded as
// the alias of a restored pool resolves to that pool only while no live pool
// carries the number itself and no other restored pool claims it too;
// otherwise the handle is ambiguous and ErrAmbiguousHandle is returned.
func (r *Registry) PoolOf(id core.ObjectID) (*Pool, error) {
	if id.IsNil() {
		return nil, fmt.Errorf("%w: nil handle", ErrInvalidHandle)
	}
	no := id.Pool()

	r.mu.Lock()
	defer r.mu.Unlock()

	var via *Pool
	claims := 0
	for n, alias := range r.aliasOf {
		if alias == no && r.pools[n] != nil {
			via = r.pools[n]
			claims++
		}
	}
	switch {
	case claims == 0:
		return r.poolLocked(no)
	case claims == 1 && r.pools[no] == nil:
		return via, nil
	}
	return nil, fmt.Errorf("%w: %s: pool number %d is shared with a restored image", ErrAmbiguousHandle, id, no)
}

// SetCurrent moves the current-pool cursor. It must be set explicitly when
// switching containers; it is shared by all goroutines.
func (r *Registry) SetCurrent(no uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.poolLocked(no); err != nil {
		return err
	}
	r.current = no
	return nil
}

// Current returns the pool under the cursor, or nil when none is set.
func (r *Registry) Current() *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == 0 {
		return nil
	}
	return r.pools[r.current]
}

// DestroyPool unregisters and closes the pool registered under no.
// Its number is not handed out again.
func (r *Registry) DestroyPool(no uint8) error {
	r.mu.Lock()
	p, err := r.poolLocked(no)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.pools[no] = nil
	r.aliasOf[no] = 0
	delete(r.byContainer, p.ContainerID())
	if r.current == no {
		r.current = 0
	}
	r.mu.Unlock()

	return p.Close()
}

// Pools returns the registered pools ordered by number.
func (r *Registry) Pools() []*Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Pool, 0, len(r.byContainer))
	for _, p := range r.pools {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Stats returns the stats of every registered pool.
func (r *Registry) Stats() []Stats {
	pools := r.Pools()
	out := make([]Stats, len(pools))
	for i, p := range pools {
		out[i] = p.Stats()
	}
	return out
}

// Close destroys every registered pool.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.Pools() {
		if err := r.DestroyPool(p.Number()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveByID resolves a handle through the pool its number designates.
func ResolveByID[T any](r *Registry, tag core.TypeTag, id core.ObjectID) (*T, error) {
	p, err := r.PoolOf(id)
	if err != nil {
		return nil, err
	}
	return Resolve[T](p, tag, id)
}
