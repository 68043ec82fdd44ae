package repository

import (
	"strconv"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/modkit/loader/modid"
)

func TestShardOfIsDeterministicAndInRange(t *testing.T) {
	id, err := modid.New("widgets", "1")
	qt.Assert(t, qt.IsNil(err))

	first := ShardOf(id, 8)
	qt.Assert(t, qt.IsTrue(first >= 0 && first < 8))

	second := ShardOf(id, 8)
	qt.Assert(t, qt.Equals(first, second))
}

func TestShardOfVariesAcrossModuleIds(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 32; i++ {
		id, err := modid.New("widgets", strconv.Itoa(i))
		qt.Assert(t, qt.IsNil(err))
		seen[ShardOf(id, 8)] = true
	}
	qt.Assert(t, qt.IsTrue(len(seen) > 1))
}
