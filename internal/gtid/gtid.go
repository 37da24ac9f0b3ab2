// Package gtid implements the global-identifier set the certifier uses
// as both a transaction's observed snapshot and its executed-set
// bookkeeping: a map from source identifier (a UUID string, mirroring
// Gtid_set's Tsid_map) to a sorted, coalesced list of sequence-number
// intervals. Grounded on original_source/plugin/group_replication's
// Gtid_set/Tsid_map model (certifier.h), re-expressed without the
// separate sidno indirection table since Go has no analogue need for
// a compact integer alias over a process-local string.
package gtid

import (
	"fmt"
	"sort"
	"strings"
)

// Interval is an inclusive range of sequence numbers [Start, End].
type Interval struct {
	Start int64
	End   int64
}

// Set maps a source id to its coalesced, sorted intervals.
type Set struct {
	m map[string][]Interval
}

// New returns an empty set.
func New() *Set { return &Set{m: make(map[string][]Interval)} }

// Clone deep-copies the set.
func (s *Set) Clone() *Set {
	out := New()
	for sid, ivs := range s.m {
		cp := make([]Interval, len(ivs))
		copy(cp, ivs)
		out.m[sid] = cp
	}
	return out
}

// SIDs returns the set's source ids in a stable (sorted) order.
func (s *Set) SIDs() []string {
	out := make([]string, 0, len(s.m))
	for sid := range s.m {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// Intervals returns sid's intervals (nil if sid is absent).
func (s *Set) Intervals(sid string) []Interval { return s.m[sid] }

// IsEmpty reports whether the set has no members.
func (s *Set) IsEmpty() bool { return len(s.m) == 0 }

// Add adds a single (sid, gno) pair, coalescing with adjacent intervals.
func (s *Set) Add(sid string, gno int64) {
	s.AddInterval(sid, Interval{Start: gno, End: gno})
}

// AddInterval merges iv into sid's interval list, keeping it sorted and
// coalesced, mirroring Gtid_set::_add_gtid's interval-merging behavior.
func (s *Set) AddInterval(sid string, iv Interval) {
	ivs := append(s.m[sid], iv)
	s.m[sid] = coalesce(ivs)
}

func coalesce(ivs []Interval) []Interval {
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })
	out := ivs[:0:0]
	for _, iv := range ivs {
		if len(out) > 0 && iv.Start <= out[len(out)-1].End+1 {
			if iv.End > out[len(out)-1].End {
				out[len(out)-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Contains reports whether (sid, gno) is a member of the set.
func (s *Set) Contains(sid string, gno int64) bool {
	for _, iv := range s.m[sid] {
		if gno >= iv.Start && gno <= iv.End {
			return true
		}
		if gno < iv.Start {
			break
		}
	}
	return false
}

// MaxSequence returns the highest gno recorded for sid, or 0 if absent.
func (s *Set) MaxSequence(sid string) int64 {
	ivs := s.m[sid]
	if len(ivs) == 0 {
		return 0
	}
	return ivs[len(ivs)-1].End
}

// IsSubsetOf reports whether every member of s is also a member of
// other — the core test behind certification's snapshot staleness
// check.
func (s *Set) IsSubsetOf(other *Set) bool {
	for sid, ivs := range s.m {
		otherIvs := other.m[sid]
		for _, iv := range ivs {
			if !intervalCoveredBy(iv, otherIvs) {
				return false
			}
		}
	}
	return true
}

func intervalCoveredBy(iv Interval, ivs []Interval) bool {
	for _, cand := range ivs {
		if iv.Start >= cand.Start && iv.End <= cand.End {
			return true
		}
	}
	// Fall back to per-point coverage across multiple candidate
	// intervals, since the subset relation does not require iv to sit
	// wholly inside a single stored interval.
	for gno := iv.Start; gno <= iv.End; gno++ {
		covered := false
		for _, cand := range ivs {
			if gno >= cand.Start && gno <= cand.End {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// Union returns a new set containing every member of s and other.
func Union(sets ...*Set) *Set {
	out := New()
	for _, s := range sets {
		if s == nil {
			continue
		}
		for sid, ivs := range s.m {
			for _, iv := range ivs {
				out.AddInterval(sid, iv)
			}
		}
	}
	return out
}

// Intersect returns the set of members present in every set given,
// used by the certifier's garbage-collection stable-set computation.
func Intersect(sets ...*Set) *Set {
	out := New()
	if len(sets) == 0 {
		return out
	}
	for sid, ivs := range sets[0].m {
		for _, iv := range ivs {
			for gno := iv.Start; gno <= iv.End; gno++ {
				inAll := true
				for _, other := range sets[1:] {
					if other == nil || !other.Contains(sid, gno) {
						inAll = false
						break
					}
				}
				if inAll {
					out.Add(sid, gno)
				}
			}
		}
	}
	return out
}

// String renders the set as "<sid>:<start>-<end>:<start>-<end>,<sid>:...",
// mirroring Gtid_set::to_string's text format.
func (s *Set) String() string {
	sids := s.SIDs()
	parts := make([]string, 0, len(sids))
	for _, sid := range sids {
		var b strings.Builder
		b.WriteString(sid)
		for _, iv := range s.m[sid] {
			if iv.Start == iv.End {
				fmt.Fprintf(&b, ":%d", iv.Start)
			} else {
				fmt.Fprintf(&b, ":%d-%d", iv.Start, iv.End)
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ",")
}
