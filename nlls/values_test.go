package nlls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// tvec is a plain euclidean test variable.
type tvec struct {
	v []float64
}

func (t tvec) Dim() int { return len(t.v) }

func (t tvec) Retract(delta []float64) Variable {
	out := make([]float64, len(t.v))
	for i := range out {
		out[i] = t.v[i] + delta[i]
	}
	return tvec{v: out}
}

func TestKeyStringAndLess(t *testing.T) {
	k := NewKey('x', 12)
	require.Equal(t, "x12", k.String())
	require.True(t, NewKey('c', 5).Less(NewKey('x', 0)))
	require.True(t, NewKey('x', 0).Less(NewKey('x', 1)))
	require.False(t, NewKey('x', 1).Less(NewKey('x', 1)))
}

func TestValuesBasics(t *testing.T) {
	vals := NewValues()
	require.Equal(t, 0, vals.Len())
	require.False(t, vals.Has(NewKey('x', 0)))

	vals.Insert(NewKey('x', 1), tvec{v: []float64{1, 2}})
	vals.Insert(NewKey('c', 0), tvec{v: []float64{3}})
	require.Equal(t, 2, vals.Len())
	require.True(t, vals.Has(NewKey('x', 1)))
	require.Equal(t, []float64{1, 2}, vals.At(NewKey('x', 1)).(tvec).v)

	keys := vals.Keys()
	require.Equal(t, []Key{NewKey('c', 0), NewKey('x', 1)}, keys)

	vals.Erase(NewKey('x', 1))
	require.False(t, vals.Has(NewKey('x', 1)))
	require.Equal(t, 1, vals.Len())
}

func TestValuesAtMissingPanics(t *testing.T) {
	vals := NewValues()
	require.Panics(t, func() { vals.At(NewKey('x', 7)) })
}

func TestValuesCopyIsIndependent(t *testing.T) {
	vals := NewValues()
	vals.Insert(NewKey('x', 0), tvec{v: []float64{1}})

	cp := vals.Copy()
	cp.Insert(NewKey('x', 0), tvec{v: []float64{99}})
	cp.Insert(NewKey('x', 1), tvec{v: []float64{2}})

	require.Equal(t, []float64{1}, vals.At(NewKey('x', 0)).(tvec).v)
	require.False(t, vals.Has(NewKey('x', 1)))
	require.Equal(t, []float64{99}, cp.At(NewKey('x', 0)).(tvec).v)
}
