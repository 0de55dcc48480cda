// Package bench provides reproducible micro-benchmarks for the packet
// cache's hot paths. Run via:
//
//	go test ./bench -bench=. -benchmem
package bench

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/cscouto/acache/internal/cache"
	"github.com/cscouto/acache/internal/packet"
)

const benchCapacity = 8192

func idFor(i int) [packet.IDSize]byte {
	var id [packet.IDSize]byte
	binary.LittleEndian.PutUint64(id[:8], uint64(i))
	return id
}

func newBenchCache() *cache.Cache {
	return cache.New(benchCapacity, nil)
}

func BenchmarkAdd(b *testing.B) {
	c := newBenchCache()
	payload := make([]byte, 256)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Add(idFor(i), payload)
	}
}

func BenchmarkLookup(b *testing.B) {
	c := newBenchCache()
	payload := make([]byte, 256)
	for i := 0; i < benchCapacity; i++ {
		c.Add(idFor(i), payload)
	}
	ids := make([][packet.IDSize]byte, benchCapacity)
	for i := range ids {
		ids[i] = idFor(i)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Lookup(ids[i%len(ids)])
	}
}

func BenchmarkMatchingBits(b *testing.B) {
	addrs := make([][packet.AddrSize]byte, 1024)
	rng := rand.New(rand.NewSource(1))
	for i := range addrs {
		rng.Read(addrs[i][:])
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		packet.MatchingBits(addrs[i%len(addrs)], 64, addrs[(i+1)%len(addrs)], 64)
	}
}

type prefixArg struct {
	addr  [packet.AddrSize]byte
	nbits uint8
}

func matchesPrefix(arg any, e *cache.Entry) bool {
	pa := arg.(prefixArg)
	h, err := packet.Parse(e.Buf[:e.Len])
	if err != nil {
		return false
	}
	return packet.Matches(pa.addr, pa.nbits, h.Destination, h.DstNBits)
}

func BenchmarkGetMatch(b *testing.B) {
	c := newBenchCache()
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < benchCapacity; i++ {
		h := packet.Header{DstNBits: 64}
		rng.Read(h.Destination[:])
		buf := packet.Encode(h, nil)
		c.Add(idFor(i), buf)
	}

	var probe [packet.AddrSize]byte
	rng.Read(probe[:])
	arg := prefixArg{addr: probe, nbits: 4}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.GetMatch(matchesPrefix, arg)
	}
}
