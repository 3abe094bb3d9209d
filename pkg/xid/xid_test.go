package xid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringParseRoundTrip(t *testing.T) {
	cases := []XID{
		{Kind: KindWorker, Serial: 1, Slot: 0},
		{Kind: KindJob, Serial: 123456789, Slot: 42},
		{Kind: KindManager, Serial: 0, Slot: 0},
	}
	for _, x := range cases {
		s := x.String()
		got, err := Parse(s)
		require.NoError(t, err)
		assert.True(t, x.Equal(got), "round trip mismatch: %v != %v", x, got)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "1-2", "1-2-3-4", "a-2-3", "1-b-3", "1-2-c"} {
		_, err := Parse(s)
		assert.Error(t, err, "expected parse error for %q", s)
	}
}

func TestGeneratorMonotonic(t *testing.T) {
	g := NewGenerator(KindWorker)
	var prev uint64
	for i := 0; i < 100; i++ {
		x := g.Next()
		assert.Equal(t, KindWorker, x.Kind)
		assert.Greater(t, x.Serial, prev, "serial %d does not increase", x.Serial)
		prev = x.Serial
	}
}

func TestEqualRequiresAllFields(t *testing.T) {
	a := XID{Kind: KindJob, Serial: 1, Slot: 2}
	assert.True(t, a.Equal(XID{Kind: KindJob, Serial: 1, Slot: 2}))
	assert.False(t, a.Equal(XID{Kind: KindWorker, Serial: 1, Slot: 2}))
	assert.False(t, a.Equal(XID{Kind: KindJob, Serial: 2, Slot: 2}))
	assert.False(t, a.Equal(XID{Kind: KindJob, Serial: 1, Slot: 3}))
}
