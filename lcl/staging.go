package lcl

import (
	"math/bits"
	"sync"
)

// stagingBuffer is a block of host memory holding bytes of a virtual buffer while their transfer is deferred.
type stagingBuffer struct {
	buf       []byte
	poolIndex int // index in the stagingPools, -1 if not from a pool.
}

// Bytes returns the used part of the buffer.
func (s *stagingBuffer) Bytes() []byte {
	return s.buf
}

const (
	// minPooledStagingSize is the minimum size for pooled staging buffers.
	minPooledStagingSize = 256

	// maxPooledStagingSize is the maximum size for pooled staging buffers (16MB).
	maxPooledStagingSize = 16 * 1024 * 1024
)

// stagingPools manages pools of staging buffers with power-of-2 capacities.
// It is safe for concurrent use.
type stagingPools struct {
	// pools[i] contains buffers of capacity 2^(i+minShift).
	pools    []sync.Pool
	minShift int
	maxShift int
}

func newStagingPools() *stagingPools {
	minShift := bits.TrailingZeros(uint(minPooledStagingSize))
	maxShift := bits.TrailingZeros(uint(maxPooledStagingSize))
	return &stagingPools{
		pools:    make([]sync.Pool, maxShift-minShift+1),
		minShift: minShift,
		maxShift: maxShift,
	}
}

// Get returns a staging buffer of exactly size bytes, backed by a capacity rounded up to the next power of 2.
// Buffers larger than maxPooledStagingSize are allocated directly.
func (sp *stagingPools) Get(size int) *stagingBuffer {
	shift := bits.Len(uint(max(size, 1) - 1))
	shift = max(shift, sp.minShift)
	if shift > sp.maxShift {
		return &stagingBuffer{buf: make([]byte, size), poolIndex: -1}
	}
	poolIndex := shift - sp.minShift
	if obj := sp.pools[poolIndex].Get(); obj != nil {
		s := obj.(*stagingBuffer)
		s.buf = s.buf[:size]
		return s
	}
	return &stagingBuffer{buf: make([]byte, size, 1<<shift), poolIndex: poolIndex}
}

// Return gives the buffer back for reuse. The buffer must not be used afterward.
func (sp *stagingPools) Return(s *stagingBuffer) {
	if s == nil || s.poolIndex < 0 || s.poolIndex >= len(sp.pools) {
		return
	}
	clear(s.buf)
	s.buf = s.buf[:0]
	sp.pools[s.poolIndex].Put(s)
}

// span is a range of a virtual buffer whose content is known on the host.
type span struct {
	offset int
	data   *stagingBuffer

	// flushed is set once the span was written to the device.
	flushed bool

	// events of the writes waiting for the span to be flushed.
	events []*Event

	// waitList of the write. Kept after the flush: reads served from the span depend on it.
	waitList []*Event
}

// settled reports whether every event the write waits for completed successfully, that is, whether the staged
// bytes are certain to reach the device.
func (s *span) settled() bool {
	for _, e := range s.waitList {
		select {
		case <-e.Done():
			if e.Wait() != nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// spansSettled reports whether all spans overlapping [offset, offset+size) are settled.
func spansSettled(spans []*span, offset, size int) bool {
	for _, s := range spans {
		if s.offset < offset+size && offset < s.end() && !s.settled() {
			return false
		}
	}
	return true
}

func (s *span) end() int {
	return s.offset + len(s.data.Bytes())
}

// gather copies into dst the bytes of [offset, offset+len(dst)) known from the spans, later spans taking
// precedence. It returns whether all of dst was covered.
func gather(spans []*span, offset int, dst []byte) bool {
	covered := make([]bool, len(dst))
	for _, s := range spans {
		from := max(offset, s.offset)
		to := min(offset+len(dst), s.end())
		if from >= to {
			continue
		}
		copy(dst[from-offset:to-offset], s.data.Bytes()[from-s.offset:to-s.offset])
		for ii := from - offset; ii < to-offset; ii++ {
			covered[ii] = true
		}
	}
	for _, c := range covered {
		if !c {
			return false
		}
	}
	return true
}
