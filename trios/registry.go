package trios

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry maps bus addresses to instrument profiles. It is populated from
// configuration, from bus discovery, or both, and is safe for concurrent
// use.
type Registry struct {
	profiles *xsync.MapOf[BusID, *InstrumentProfile]
}

// NewRegistry creates an empty instrument registry.
func NewRegistry() *Registry {
	return &Registry{profiles: xsync.NewMapOf[BusID, *InstrumentProfile]()}
}

// Register adds a profile. It returns ErrDuplicateAddress when another
// instrument already occupies the profile's bus address.
func (r *Registry) Register(p *InstrumentProfile) error {
	if _, loaded := r.profiles.LoadOrStore(p.Addr.Bus(), p); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateAddress, p.Addr)
	}

	return nil
}

// Replace stores a profile, overwriting any previous instrument at the same
// bus address. Discovery uses it to refresh stale configuration entries.
func (r *Registry) Replace(p *InstrumentProfile) {
	r.profiles.Store(p.Addr.Bus(), p)
}

// Lookup returns the profile registered for the given bus address.
func (r *Registry) Lookup(id BusID) (*InstrumentProfile, bool) {
	return r.profiles.Load(id)
}

// Remove deletes the instrument at the given bus address.
func (r *Registry) Remove(id BusID) {
	r.profiles.Delete(id)
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int {
	return r.profiles.Size()
}

// Range calls fn for every registered profile until fn returns false.
func (r *Registry) Range(fn func(p *InstrumentProfile) bool) {
	r.profiles.Range(func(_ BusID, p *InstrumentProfile) bool {
		return fn(p)
	})
}
