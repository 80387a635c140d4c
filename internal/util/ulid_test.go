package util

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAt_SortsByTime(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, NewAt(base.Add(time.Duration(i/4)*time.Millisecond)))
	}
	assert.True(t, sort.StringsAreSorted(ids))
	for _, id := range ids {
		assert.Len(t, id, 26)
		assert.True(t, ValidID(id))
	}
}

func TestNew_ULIDsAreUnique(t *testing.T) {
	a := New()
	b := New()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(New()))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("NOPE"))
	assert.False(t, ValidID("01JABCDEFGHJKMNPQRSTVWXYZI")) // I is not in the alphabet
}
