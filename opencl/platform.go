package opencl

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/clvirt/refcount"
)

var lastPlatformID atomic.Uint64

// Platform groups devices. It has no behavior beyond reference counting: every Device retains its platform
// while alive.
type Platform struct {
	id   uint64
	name string
	ref  refcount.Object
}

// NewPlatform creates a platform with one reference, owned by the caller.
func NewPlatform(name string) *Platform {
	p := &Platform{id: lastPlatformID.Add(1), name: name}
	p.ref.Init("platform", nil)
	return p
}

// ID is a process-unique, non-zero identifier of the platform, used as its handle in device info queries.
func (p *Platform) ID() uint64 {
	return p.id
}

// Name given to NewPlatform.
func (p *Platform) Name() string {
	return p.name
}

// Retain adds a reference to the platform.
func (p *Platform) Retain() {
	p.ref.Retain()
}

// Release drops a reference and returns whether it was the last one.
// Releasing more than retained panics.
func (p *Platform) Release() bool {
	return p.ref.Release()
}

// RefCount returns the current number of references.
func (p *Platform) RefCount() int64 {
	return p.ref.Count()
}

// String implements fmt.Stringer.
func (p *Platform) String() string {
	if p == nil {
		return "Platform[nil]"
	}
	return fmt.Sprintf("Platform[%q, id=%d]", p.name, p.id)
}
