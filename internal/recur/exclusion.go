package recur

import "sort"

// ExclusionSet records the sequence numbers removed from a series,
// interpreted against the 0-based numbering Instances assigns. A nil
// set excludes nothing.
type ExclusionSet struct {
	Seqs []int `json:"seqs" yaml:"seqs"`
}

// Add records a sequence number; duplicates are ignored and the set is
// kept ordered.
func (x *ExclusionSet) Add(seq int) {
	if x.Contains(seq) {
		return
	}
	x.Seqs = append(x.Seqs, seq)
	sort.Ints(x.Seqs)
}

// Contains reports whether seq has been excluded.
func (x *ExclusionSet) Contains(seq int) bool {
	if x == nil {
		return false
	}
	i := sort.SearchInts(x.Seqs, seq)
	return i < len(x.Seqs) && x.Seqs[i] == seq
}

// IsEmpty reports whether the set excludes nothing.
func (x *ExclusionSet) IsEmpty() bool {
	return x == nil || len(x.Seqs) == 0
}

// Apply returns the instances whose sequence number is not excluded.
// The input slice is left untouched.
func (x *ExclusionSet) Apply(in []Instance) []Instance {
	if x.IsEmpty() || len(in) == 0 {
		return in
	}
	out := make([]Instance, 0, len(in))
	for _, inst := range in {
		if !x.Contains(inst.Sequence) {
			out = append(out, inst)
		}
	}
	return out
}

// Clone returns a copy of the set.
func (x *ExclusionSet) Clone() *ExclusionSet {
	if x == nil {
		return nil
	}
	c := &ExclusionSet{}
	c.Seqs = append(c.Seqs, x.Seqs...)
	return c
}
