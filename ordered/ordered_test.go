package ordered

import (
	"encoding/json"
	"testing"

	"github.com/go-quicktest/qt"
)

func TestSetRoundtrip(t *testing.T) {
	s := NewSet("b", "a", "b", "c")
	qt.Assert(t, qt.DeepEquals(s.Items(), []string{"b", "a", "c"}))

	data, err := json.Marshal(s)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(string(data), `["b","a","c"]`))

	var back Set
	qt.Assert(t, qt.IsNil(json.Unmarshal(data, &back)))
	qt.Assert(t, qt.IsTrue(s.Equal(&back)))
}

func TestSetPrefixFilter(t *testing.T) {
	var empty Set
	qt.Assert(t, qt.IsTrue(empty.HasPrefixMatch("anything")))

	s := NewSet("com/acme/", "org/widgets/")
	qt.Assert(t, qt.IsTrue(s.HasPrefixMatch("com/acme/Foo")))
	qt.Assert(t, qt.IsFalse(s.HasPrefixMatch("com/other/Foo")))
}

func TestMapRoundtrip(t *testing.T) {
	var m Map
	m.Set("b", "2")
	m.Set("a", "1")
	data, err := json.Marshal(&m)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(string(data), `{"b":"2","a":"1"}`))

	var back Map
	qt.Assert(t, qt.IsNil(json.Unmarshal(data, &back)))
	qt.Assert(t, qt.IsTrue(m.Equal(&back)))
}
