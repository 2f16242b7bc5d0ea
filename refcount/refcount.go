// Package refcount implements the reference counting shared by platforms and devices.
//
// An Object starts with one reference, owned by whoever created it. Every Retain must be matched by a Release,
// and the destroy function given to Init runs exactly once, on the Release that takes the count from 1 to 0.
package refcount

import (
	"fmt"
	"sync/atomic"
)

// Object is an atomic reference count. It is meant to be embedded in the shared entity.
//
// The zero value is not usable: call Init first.
type Object struct {
	count     atomic.Int64
	kind      string
	onZero    func()
	destroyed atomic.Bool
}

// Init sets the count to 1 and registers the function to call when the last reference is released.
// The kind is only used in panic messages, e.g. "device" or "platform".
func (o *Object) Init(kind string, onZero func()) {
	o.kind = kind
	o.onZero = onZero
	o.destroyed.Store(false)
	o.count.Store(1)
}

// Kind returns the kind given to Init.
func (o *Object) Kind() string {
	return o.kind
}

// Retain increments the reference count.
//
// It panics if the object has already been destroyed: reviving a dead object is a programming error.
func (o *Object) Retain() {
	if o.count.Add(1) <= 1 {
		panic(fmt.Sprintf("refcount: retain of destroyed %s", o.kind))
	}
}

// Release decrements the reference count. If it reaches zero the destroy function is called (in the calling
// goroutine) and Release returns true.
//
// Releasing below zero panics.
func (o *Object) Release() bool {
	n := o.count.Add(-1)
	switch {
	case n > 0:
		return false
	case n < 0:
		panic(fmt.Sprintf("refcount: too many releases of %s", o.kind))
	}
	if !o.destroyed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("refcount: %s destroyed twice", o.kind))
	}
	if o.onZero != nil {
		o.onZero()
	}
	return true
}

// Count returns the current number of references.
func (o *Object) Count() int64 {
	return o.count.Load()
}

// Destroyed reports whether the last reference has been released.
func (o *Object) Destroyed() bool {
	return o.destroyed.Load()
}
