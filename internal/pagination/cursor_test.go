package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2024, 2, 15, 10, 30, 0, 0, time.UTC)

	c, err := Decode(Encode(ts, "inv_abc123"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, ts, c.At)
	assert.Equal(t, "inv_abc123", c.ID)
}

func TestDecode_EmptyIsNil(t *testing.T) {
	c, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{"not-base64!!!", "bm9waXBl", "YWJjfGlk", "MTIzfA"} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestCursor_Precedes(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &Cursor{At: at, ID: "inv_m"}

	assert.True(t, c.Precedes(at.Add(-time.Second), "inv_z"), "older rows come later")
	assert.False(t, c.Precedes(at.Add(time.Second), "inv_a"), "newer rows were already served")
	assert.True(t, c.Precedes(at, "inv_a"), "tie breaks on id")
	assert.False(t, c.Precedes(at, "inv_m"), "the cursor row itself is excluded")

	var none *Cursor
	assert.True(t, none.Precedes(at, "anything"))
}

func TestComputePage(t *testing.T) {
	key := func(s string) (time.Time, string) {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s
	}

	items, next, more := ComputePage([]string{"a", "b", "c"}, 5, key)
	assert.Len(t, items, 3)
	assert.Empty(t, next)
	assert.False(t, more)

	items, next, more = ComputePage([]string{"d", "c", "b", "a"}, 3, key)
	assert.Equal(t, []string{"d", "c", "b"}, items)
	assert.True(t, more)

	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)
}
