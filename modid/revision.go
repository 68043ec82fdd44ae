package modid

import "fmt"

// RevisionTag identifies one compiled view of a module: the module's
// name together with a monotonically-assigned sequence number. The
// Version field of the originating ModuleId plays no part in revision
// identity — revisions are tracked per name, see spec §3.
type RevisionTag struct {
	Name     string
	Sequence int64
}

// NewRevision builds the RevisionTag for id at sequence seq.
func NewRevision(id ModuleId, seq int64) RevisionTag {
	return RevisionTag{Name: id.Name, Sequence: seq}
}

// SequenceOf returns the sequence number of t.
func SequenceOf(t RevisionTag) int64 { return t.Sequence }

func (t RevisionTag) String() string {
	return fmt.Sprintf("%s#%d", t.Name, t.Sequence)
}

// Less implements the RevisionRegistry's sort order: name ascending,
// ties broken by sequence descending (newest first), per spec §3.
func (t RevisionTag) Less(other RevisionTag) bool {
	if t.Name != other.Name {
		return t.Name < other.Name
	}
	return t.Sequence > other.Sequence
}

// Compare returns -1, 0 or 1 following the same ordering as Less, for
// use with slices.SortFunc and sorted-map implementations.
func Compare(a, b RevisionTag) int {
	if a.Name != b.Name {
		if a.Name < b.Name {
			return -1
		}
		return 1
	}
	switch {
	case a.Sequence > b.Sequence:
		return -1
	case a.Sequence < b.Sequence:
		return 1
	default:
		return 0
	}
}
