// internal/archive/set.go
package archive

import (
	"sort"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

// SegmentSet is an unordered set of WAL segments. Not safe for
// concurrent mutation; the tick loop is the single writer.
type SegmentSet struct {
	members map[wal.Segment]struct{}
}

// NewSegmentSet creates an empty set.
func NewSegmentSet() *SegmentSet {
	return &SegmentSet{members: make(map[wal.Segment]struct{})}
}

// Add inserts a segment. Returns true if it was not already present.
func (s *SegmentSet) Add(seg wal.Segment) bool {
	if _, ok := s.members[seg]; ok {
		return false
	}
	s.members[seg] = struct{}{}
	return true
}

// Remove deletes a segment if present.
func (s *SegmentSet) Remove(seg wal.Segment) {
	delete(s.members, seg)
}

// Contains reports membership.
func (s *SegmentSet) Contains(seg wal.Segment) bool {
	_, ok := s.members[seg]
	return ok
}

// Len returns the number of members.
func (s *SegmentSet) Len() int {
	return len(s.members)
}

// less orders segments by timeline, then position. Cross-timeline order
// has no archival meaning; it only makes set iteration deterministic.
func less(a, b wal.Segment) bool {
	if a.Timeline != b.Timeline {
		return a.Timeline < b.Timeline
	}
	return a.Before(b)
}

// Sorted returns the members in ascending order.
func (s *SegmentSet) Sorted() []wal.Segment {
	out := make([]wal.Segment, 0, len(s.members))
	for seg := range s.members {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Max returns the highest member, or false when the set is empty.
func (s *SegmentSet) Max() (wal.Segment, bool) {
	var max wal.Segment
	found := false
	for seg := range s.members {
		if !found || less(max, seg) {
			max = seg
			found = true
		}
	}
	return max, found
}

// CountBefore counts members strictly before the given segment. Members
// on other timelines never compare before and are not counted.
func (s *SegmentSet) CountBefore(seg wal.Segment) int {
	n := 0
	for member := range s.members {
		if member.Before(seg) {
			n++
		}
	}
	return n
}

// CountAfter counts members strictly after the given segment.
func (s *SegmentSet) CountAfter(seg wal.Segment) int {
	n := 0
	for member := range s.members {
		if seg.Before(member) {
			n++
		}
	}
	return n
}

// AnyAfter reports whether some member sorts strictly after the given
// segment.
func (s *SegmentSet) AnyAfter(seg wal.Segment) bool {
	for member := range s.members {
		if seg.Before(member) {
			return true
		}
	}
	return false
}
