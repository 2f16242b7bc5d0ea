package executive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, kind := range Kinds {
		parsed, err := ParseKind(kind.String())
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
	}
	k, err := ParseKind(" LLVM ")
	require.NoError(t, err)
	require.Equal(t, KindMulticoreCPU, k)
	_, err = ParseKind("tpu")
	require.ErrorContains(t, err, "unknown backend kind")
	require.Equal(t, "Kind(17)", Kind(17).String())
}

func TestModule(t *testing.T) {
	m := NewModule("m", nil, map[string]Kernel{
		"b": func(*KernelContext) error { return nil },
		"a": func(*KernelContext) error { return nil },
	})
	require.False(t, m.Loaded())
	require.NoError(t, m.LoadNow())
	require.True(t, m.Loaded())
	require.NoError(t, m.LoadNow())
	require.Equal(t, []string{"a", "b"}, m.KernelNames())
	_, found := m.Kernel("c")
	require.False(t, found)

	require.Error(t, NewModule("", []byte("x"), nil).LoadNow())
	require.Error(t, NewModule("empty", nil, nil).LoadNow())
}

func TestOptions(t *testing.T) {
	o := Options{"s": "x", "i": int64(3), "b": true, "l": []int64{1}, "f": float32(1)}
	require.NoError(t, o.Validate())
	require.Equal(t, []string{"b", "f", "i", "l", "s"}, o.Keys())

	i, err := o.GetInt64("i", 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), i)
	i, err = o.GetInt64("missing", 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), i)
	_, err = o.GetInt64("s", 0)
	require.Error(t, err)

	s, err := o.GetString("s", "")
	require.NoError(t, err)
	require.Equal(t, "x", s)
	b, err := o.GetBool("b", false)
	require.NoError(t, err)
	require.True(t, b)

	o["bad"] = 3
	require.ErrorContains(t, o.Validate(), `"bad"`)
}
