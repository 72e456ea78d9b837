package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "karpathy", Normalize("@Karpathy"))
	assert.Equal(t, "sama", Normalize("  sama "))
	assert.Equal(t, "", Normalize("@"))
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry([]Person{
		{Handle: "@Karpathy", Appearances: 12},
		{Handle: "ylecun", Appearances: 4},
		{Handle: "", Appearances: 99},
	})

	assert.Equal(t, 2, r.Len())
	assert.True(t, r.Contains("KARPATHY"))
	assert.True(t, r.Contains("@ylecun"))
	assert.False(t, r.Contains("nobody"))

	p, ok := r.Lookup("karpathy")
	assert.True(t, ok)
	assert.Equal(t, 12, p.Appearances)
	assert.Equal(t, "karpathy", p.Handle)
}
