package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardinal/internal/heap"
)

func newTestHeap() *heap.Heap {
	return heap.New(1<<24, 1<<16, 50)
}

func TestNumberEqualityEpsilonAndZero(t *testing.T) {
	h := newTestHeap()
	assert.True(t, Equal(h, Number(0.0), Number(-0.0)))
	assert.True(t, Equal(h, Number(1.0), Number(1.0+1e-12)))
	assert.False(t, Equal(h, Number(1.0), Number(2.0)))
}

func TestStringEqualityByContent(t *testing.T) {
	h := newTestHeap()
	aHandle, _ := NewString(h, heap.Nil, "hello")
	bHandle, _ := NewString(h, heap.Nil, "hello")
	assert.True(t, Equal(h, Obj(aHandle), Obj(bHandle)))
}

func TestMapGrowAndRetainValues(t *testing.T) {
	h := newTestHeap()
	_, m := NewMap(h, heap.Nil)
	for i := 0; i < 1001; i++ {
		m.Set(h, Number(float64(i)), Number(float64(i*i)))
	}
	assert.Equal(t, 1001, m.Len())
	for i := 0; i < 1001; i++ {
		v, ok := m.Get(h, Number(float64(i)))
		require.True(t, ok)
		assert.Equal(t, float64(i*i), v.AsNumber())
	}
}

func TestMapTombstoneAndResizeOnDelete(t *testing.T) {
	h := newTestHeap()
	_, m := NewMap(h, heap.Nil)
	for i := 0; i < 100; i++ {
		m.Set(h, Number(float64(i)), Number(float64(i)))
	}
	for i := 0; i < 90; i++ {
		m.Delete(h, Number(float64(i)))
	}
	assert.Equal(t, 10, m.Len())
	for i := 90; i < 100; i++ {
		v, ok := m.Get(h, Number(float64(i)))
		require.True(t, ok)
		assert.Equal(t, float64(i), v.AsNumber())
	}
}

func TestListGrowShrink(t *testing.T) {
	h := newTestHeap()
	_, l := NewList(h, heap.Nil)
	for i := 0; i < 100; i++ {
		l.Append(Number(float64(i)))
	}
	for i := 99; i >= 10; i-- {
		l.RemoveAt(i)
	}
	assert.Equal(t, 10, l.Len())
	assert.GreaterOrEqual(t, cap(l.Items()), listMinCapacity)
}

func TestRangeDirectionAndContains(t *testing.T) {
	h := newTestHeap()
	_, r := NewRange(h, heap.Nil, 5, 1, true)
	assert.Equal(t, float64(-1), r.Step())
	assert.True(t, r.Contains(3))
	assert.True(t, r.Contains(5))
	assert.True(t, r.Contains(1))
}

func TestTableChaining(t *testing.T) {
	h := newTestHeap()
	_, tbl := NewTable(h, heap.Nil)
	for i := 0; i < 50; i++ {
		hnd, _ := NewString(h, heap.Nil, string(rune('a'+i%26))+string(rune(i)))
		tbl.Set(h, Obj(hnd), Number(float64(i)))
	}
	assert.Equal(t, 50, tbl.Len())
}
