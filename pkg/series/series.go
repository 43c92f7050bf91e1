// Package series provides the fixed-capacity metric buffers that back the
// live training charts.
package series

import "fmt"

// DefaultCapacity is the number of points retained per metric when no
// capacity is configured.
const DefaultCapacity = 20

// DataSource tags where a point came from so that synthetic values are never
// mistaken for real measurements.
type DataSource int

const (
	Live DataSource = iota
	Synthetic
)

func (s DataSource) String() string {
	switch s {
	case Live:
		return "live"
	case Synthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// MarshalText renders the source as "live" or "synthetic" in JSON payloads.
func (s DataSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the values produced by MarshalText.
func (s *DataSource) UnmarshalText(text []byte) error {
	switch string(text) {
	case "live", "":
		*s = Live
	case "synthetic":
		*s = Synthetic
	default:
		return fmt.Errorf("unknown data source %q", string(text))
	}
	return nil
}

// Point is a single labelled chart value.
type Point struct {
	Label  string     `json:"label"`
	Value  float64    `json:"value"`
	Source DataSource `json:"source"`
}

// Series is a fixed-size circular buffer. Appending past capacity evicts
// the oldest element. Series is not safe for concurrent use; callers own
// the locking.
type Series[T any] struct {
	data  []T
	head  int
	count int
}

// New creates a series holding at most capacity elements.
func New[T any](capacity int) *Series[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Series[T]{data: make([]T, capacity)}
}

// Append adds v as the newest element.
func (s *Series[T]) Append(v T) {
	s.data[s.head] = v
	s.head = (s.head + 1) % len(s.data)
	if s.count < len(s.data) {
		s.count++
	}
}

// Len returns the number of stored elements.
func (s *Series[T]) Len() int { return s.count }

// Cap returns the fixed capacity.
func (s *Series[T]) Cap() int { return len(s.data) }

// Snapshot returns the stored elements oldest first. The returned slice is a
// copy and is never nil.
func (s *Series[T]) Snapshot() []T {
	out := make([]T, s.count)
	// head is the next write position, so the oldest element sits count
	// slots behind it.
	start := (s.head - s.count + len(s.data)) % len(s.data)
	for i := 0; i < s.count; i++ {
		out[i] = s.data[(start+i)%len(s.data)]
	}
	return out
}

// Last returns the newest element.
func (s *Series[T]) Last() (T, bool) {
	var zero T
	if s.count == 0 {
		return zero, false
	}
	return s.data[(s.head-1+len(s.data))%len(s.data)], true
}

// Reset drops every element and releases references held by the buffer.
func (s *Series[T]) Reset() {
	var zero T
	for i := range s.data {
		s.data[i] = zero
	}
	s.head = 0
	s.count = 0
}
