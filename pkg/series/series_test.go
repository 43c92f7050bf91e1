package series

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		expected int
	}{
		{"default", 0, DefaultCapacity},
		{"negative", -3, DefaultCapacity},
		{"custom", 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New[int](tt.capacity)
			assert.Equal(t, tt.expected, s.Cap())
			assert.Equal(t, 0, s.Len())
			assert.NotNil(t, s.Snapshot())
		})
	}
}

func TestAppendBelowCapacity(t *testing.T) {
	s := New[int](5)
	for i := 1; i <= 3; i++ {
		s.Append(i)
	}
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []int{1, 2, 3}, s.Snapshot())
}

func TestAppendEvictsOldest(t *testing.T) {
	for _, total := range []int{6, 7, 10, 23, 100} {
		s := New[int](5)
		for i := 0; i < total; i++ {
			s.Append(i)
		}
		require.Equal(t, 5, s.Len(), "total=%d", total)

		want := make([]int, 0, 5)
		for i := total - 5; i < total; i++ {
			want = append(want, i)
		}
		assert.Equal(t, want, s.Snapshot(), "total=%d", total)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New[int](3)
	s.Append(1)
	s.Append(2)

	snap := s.Snapshot()
	snap[0] = 99
	assert.Equal(t, []int{1, 2}, s.Snapshot())

	s.Append(3)
	assert.Len(t, snap, 2)
}

func TestLast(t *testing.T) {
	s := New[string](2)
	_, ok := s.Last()
	assert.False(t, ok)

	s.Append("a")
	s.Append("b")
	s.Append("c")
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "c", last)
}

func TestReset(t *testing.T) {
	s := New[Point](3)
	s.Append(Point{Label: "Epoch 1", Value: 0.5})
	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Snapshot())

	s.Append(Point{Label: "Epoch 2", Value: 0.6})
	assert.Equal(t, []Point{{Label: "Epoch 2", Value: 0.6}}, s.Snapshot())
}

func TestDataSourceJSON(t *testing.T) {
	payload, err := json.Marshal(Point{Label: "Epoch 1", Value: 0.25, Source: Synthetic})
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"Epoch 1","value":0.25,"source":"synthetic"}`, string(payload))

	var p Point
	require.NoError(t, json.Unmarshal([]byte(`{"label":"Epoch 2","value":1,"source":"live"}`), &p))
	assert.Equal(t, Live, p.Source)

	assert.Error(t, json.Unmarshal([]byte(`{"source":"guessed"}`), &p))
}
