// Package sourcerange provides the (start, length) interval type every AST
// node, token, and diagnostic in the fish core carries to refer back to the
// original command string.
package sourcerange

import "fmt"

// SourceRange is a half-open byte interval [Start, Start+Length) over a
// source string.
type SourceRange struct {
	Start  uint32
	Length uint32
}

// New creates a SourceRange from a start offset and length.
func New(start, length uint32) SourceRange {
	return SourceRange{Start: start, Length: length}
}

// End returns the exclusive end offset of the range.
func (r SourceRange) End() uint32 {
	return r.Start + r.Length
}

// Empty reports whether the range covers zero bytes.
func (r SourceRange) Empty() bool {
	return r.Length == 0
}

// Slice returns the substring of src covered by r. It panics if the range
// falls outside of src, matching the invariant that every SourceRange is
// constructed from the string it refers to.
func (r SourceRange) Slice(src string) string {
	return src[r.Start:r.End()]
}

// Union returns the smallest range spanning both r and other.
func (r SourceRange) Union(other SourceRange) SourceRange {
	start := r.Start
	if other.Start < start {
		start = other.Start
	}
	end := r.End()
	if other.End() > end {
		end = other.End()
	}
	return SourceRange{Start: start, Length: end - start}
}

// Contains reports whether offset lies within the range.
func (r SourceRange) Contains(offset uint32) bool {
	return offset >= r.Start && offset < r.End()
}

func (r SourceRange) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End())
}
