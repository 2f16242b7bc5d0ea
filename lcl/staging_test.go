package lcl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagingPools(t *testing.T) {
	pools := newStagingPools()
	for _, tc := range []struct {
		size, capacity, poolIndex int
	}{
		{0, 256, 0},
		{1, 256, 0},
		{256, 256, 0},
		{257, 512, 1},
		{1000, 1024, 2},
		{maxPooledStagingSize, maxPooledStagingSize, len(pools.pools) - 1},
	} {
		s := pools.Get(tc.size)
		assert.Len(t, s.Bytes(), tc.size, "size %d", tc.size)
		assert.Equal(t, tc.capacity, cap(s.buf), "size %d", tc.size)
		assert.Equal(t, tc.poolIndex, s.poolIndex, "size %d", tc.size)
		pools.Return(s)
	}

	large := pools.Get(maxPooledStagingSize + 1)
	require.Equal(t, -1, large.poolIndex)
	require.Len(t, large.Bytes(), maxPooledStagingSize+1)
	pools.Return(large)

	// Returned buffers are cleared.
	s := pools.Get(300)
	copy(s.Bytes(), sequence(1, 300))
	pools.Return(s)
	require.Empty(t, s.Bytes())
	s = pools.Get(300)
	require.Equal(t, make([]byte, 300), s.Bytes())
}

func TestGather(t *testing.T) {
	pools := newStagingPools()
	newSpan := func(offset int, data []byte) *span {
		s := pools.Get(len(data))
		copy(s.Bytes(), data)
		return &span{offset: offset, data: s}
	}
	spans := []*span{
		newSpan(0, sequence(0, 10)),
		newSpan(20, sequence(20, 10)),
		newSpan(5, []byte{100, 101, 102}),
	}
	require.Equal(t, 30, spans[1].end())

	dst := make([]byte, 8)
	require.True(t, gather(spans, 2, dst))
	require.Equal(t, []byte{2, 3, 4, 100, 101, 102, 8, 9}, dst)

	dst = make([]byte, 15)
	require.False(t, gather(spans, 8, dst))
	require.Equal(t, []byte{8, 9}, dst[:2])
	require.Equal(t, make([]byte, 10), dst[2:12])
	require.Equal(t, []byte{20, 21, 22}, dst[12:])

	require.False(t, gather(nil, 0, make([]byte, 1)))
	require.True(t, gather(spans, 25, make([]byte, 5)))
}
