package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cscouto/acache/internal/cache"
	"github.com/cscouto/acache/internal/packet"
)

func idOf(n byte) [packet.IDSize]byte {
	var id [packet.IDSize]byte
	id[0] = n
	return id
}

func byID(id [packet.IDSize]byte) cache.Predicate {
	return func(arg any, e *cache.Entry) bool {
		return e.ID == arg.([packet.IDSize]byte)
	}
}

// P1: save then lookup returns the same buffer.
func TestAddThenLookupRoundTrips(t *testing.T) {
	c := cache.New(4, nil)
	id := idOf(1)
	buf := []byte("hello")

	_, found := c.Lookup(id)
	require.False(t, found)

	c.Add(id, buf)
	entry, found := c.Lookup(id)
	require.True(t, found)
	require.Equal(t, buf, entry.Buf)
	require.Equal(t, 1, c.Len())
}

// P2: after Add of capacity distinct IDs, exactly one eviction occurred.
func TestAddEvictsOnOverflow(t *testing.T) {
	var released []([packet.IDSize]byte)
	c := cache.New(4, func(e *cache.Entry) {
		released = append(released, e.ID)
	})

	for i := byte(1); i <= 4; i++ {
		c.Add(idOf(i), []byte{i})
	}

	require.Equal(t, 3, c.Len())
	require.Len(t, released, 1)
}

// P3: MatchingBits is reflexive, bounded, and symmetric.
func TestMatchingBitsProperties(t *testing.T) {
	a := [packet.AddrSize]byte{0xAA, 0xBB, 0xCC, 0, 0, 0, 0, 0}
	b := [packet.AddrSize]byte{0xAA, 0xB0, 0, 0, 0, 0, 0, 0}

	require.Equal(t, uint8(16), packet.MatchingBits(a, 16, a, 16))

	k1 := packet.MatchingBits(a, 24, b, 12)
	require.LessOrEqual(t, k1, uint8(12))

	k2 := packet.MatchingBits(b, 12, a, 24)
	require.Equal(t, k1, k2)
}

// P4: a request with src_nbits=0 matches every live entry.
func TestZeroBitsMatchesEverything(t *testing.T) {
	c := cache.New(8, nil)
	for i := byte(1); i <= 3; i++ {
		c.Add(idOf(i), []byte{i})
	}
	var zero [packet.AddrSize]byte
	pred := func(arg any, e *cache.Entry) bool {
		var dst [packet.AddrSize]byte
		dst[0] = e.Buf[0]
		return packet.Matches(arg.([packet.AddrSize]byte), 0, dst, 8*packet.AddrSize)
	}
	matches := c.AllMatches(pred, zero)
	require.Len(t, matches, 3)
}

func TestRemoveFreesSlotAndReleases(t *testing.T) {
	var releasedCount int
	c := cache.New(4, func(e *cache.Entry) { releasedCount++ })
	id := idOf(7)
	c.Add(id, []byte("x"))

	entry, found := c.Lookup(id)
	require.True(t, found)

	c.Remove(entry)
	require.Equal(t, 0, c.Len())
	require.Equal(t, 1, releasedCount)

	_, found = c.Lookup(id)
	require.False(t, found)
}

func TestGetMatchFindsFirstPredicateHit(t *testing.T) {
	c := cache.New(4, nil)
	c.Add(idOf(1), []byte("a"))
	c.Add(idOf(2), []byte("b"))

	got := c.GetMatch(byID(idOf(2)), idOf(2))
	require.NotNil(t, got)
	require.Equal(t, []byte("b"), got.Buf)

	require.Nil(t, c.GetMatch(byID(idOf(9)), idOf(9)))
}

// P6: Close drains every live entry exactly once.
func TestCloseDrainsAllLiveEntries(t *testing.T) {
	var released int
	c := cache.New(4, func(e *cache.Entry) { released++ })
	c.Add(idOf(1), []byte("a"))
	c.Add(idOf(2), []byte("b"))
	c.Add(idOf(3), []byte("c"))

	c.Close()
	require.Equal(t, 0, c.Len())
	require.Equal(t, 3, released)
}
