// Package packet implements the mesh wire header: parsing, encoding, the
// bit-prefix address matcher, and the per-message-type ID extraction policy
// that the cache and key responder both depend on.
//
// The layout is bit-exact with the original allnet packet header: a fixed
// 8-byte prefix, two address fields, then a variable transport-indicated
// tail whose presence is encoded by the transport flags byte. Everything
// past the fixed prefix is therefore a pure function of TransportFlags.
package packet

import (
	"encoding/binary"
	"errors"
)

// Sizes mandated by the wire format (spec.md §6.1).
const (
	AddrSize     = 8  // N_ADDR: address byte width
	IDSize       = 16 // ID_SIZE: ack/packet/message ID token width
	StreamIDSize = 8  // STREAM_ID_SIZE

	fixedHeaderSize = 8 + 2*AddrSize // version..sig_algo + source + destination
)

// MessageType enumerates the packet taxonomy the core understands.
type MessageType uint8

const (
	TypeData MessageType = iota
	TypeAck
	TypeDataReq
	TypeKeyXchg
	TypeKeyReq
	TypeClear
)

// TransportFlags is a bitfield controlling which optional fixed-width fields
// follow the fixed header, in a fixed order: PacketID, MessageID, StreamID,
// Expiration.
type TransportFlags uint8

const (
	FlagPacketID TransportFlags = 1 << iota
	FlagMessageID
	FlagStream
	FlagExpiration
	FlagDoNotCache
)

// SigAlgo identifies the signature algorithm carried by a header.
type SigAlgo uint8

const (
	SigNone SigAlgo = iota
	SigRSAPKCS1
)

// Priority classes a dispatcher attaches when emitting a packet through the
// AD channel. PriorityRealtime is reserved for latency-sensitive payloads
// (voice-over-mesh, SPEC_FULL.md §10.7); the dispatcher never assigns it,
// and it does not keep an inbound packet's priority when caching the packet.
type Priority int32

const (
	PriorityDefault       Priority = 0
	PriorityCacheResponse Priority = 1
	PriorityRealtime      Priority = 2
)

// HopExtra is the constant number of hops a key-responder reply header adds
// on top of the request's hop count (spec.md §4.5, H_EXTRA).
const HopExtra = 4

var (
	ErrTooShort       = errors.New("packet: buffer shorter than header")
	ErrInvalidNBits   = errors.New("packet: nbits exceeds address width")
	ErrTransportShort = errors.New("packet: buffer shorter than transport-expanded header")
)

// Header is the decoded form of a packet's fixed + transport-indicated
// prefix. Address and optional ID fields are plain byte arrays copied out of
// the original buffer; Header does not retain a reference to it.
type Header struct {
	Version        uint8
	MessageType    MessageType
	HopsSoFar      uint8
	HopsMax        uint8
	Transport      TransportFlags
	SrcNBits       uint8
	DstNBits       uint8
	SigAlgo        SigAlgo
	Source         [AddrSize]byte
	Destination    [AddrSize]byte
	PacketID       [IDSize]byte
	HasPacketID    bool
	MessageID      [IDSize]byte
	HasMessageID   bool
	StreamID       [StreamIDSize]byte
	HasStreamID    bool
	Expiration     uint64
	HasExpiration  bool
}

// HeaderSize returns the number of header bytes implied by flags: the fixed
// prefix plus whichever optional fields the flags advertise, in wire order.
func HeaderSize(flags TransportFlags) int {
	n := fixedHeaderSize
	if flags&FlagPacketID != 0 {
		n += IDSize
	}
	if flags&FlagMessageID != 0 {
		n += IDSize
	}
	if flags&FlagStream != 0 {
		n += StreamIDSize
	}
	if flags&FlagExpiration != 0 {
		n += 8
	}
	return n
}

// IsValid reports whether buf could plausibly hold a well-formed header:
// long enough for the fixed prefix, long enough for the transport-expanded
// header implied by its own flags byte, and carrying sane nbits values.
func IsValid(buf []byte) bool {
	if len(buf) < fixedHeaderSize {
		return false
	}
	flags := TransportFlags(buf[4])
	if len(buf) < HeaderSize(flags) {
		return false
	}
	srcNBits, dstNBits := buf[5], buf[6]
	if int(srcNBits) > 8*AddrSize || int(dstNBits) > 8*AddrSize {
		return false
	}
	return true
}

// Parse decodes the header prefix of buf. Callers should call IsValid first;
// Parse itself re-validates and returns an error rather than panicking on a
// short or nonsensical buffer.
func Parse(buf []byte) (Header, error) {
	var h Header
	if len(buf) < fixedHeaderSize {
		return h, ErrTooShort
	}
	h.Version = buf[0]
	h.MessageType = MessageType(buf[1])
	h.HopsSoFar = buf[2]
	h.HopsMax = buf[3]
	h.Transport = TransportFlags(buf[4])
	h.SrcNBits = buf[5]
	h.DstNBits = buf[6]
	h.SigAlgo = SigAlgo(buf[7])

	if int(h.SrcNBits) > 8*AddrSize || int(h.DstNBits) > 8*AddrSize {
		return h, ErrInvalidNBits
	}

	need := HeaderSize(h.Transport)
	if len(buf) < need {
		return h, ErrTransportShort
	}

	off := 8
	copy(h.Source[:], buf[off:off+AddrSize])
	off += AddrSize
	copy(h.Destination[:], buf[off:off+AddrSize])
	off += AddrSize

	if h.Transport&FlagPacketID != 0 {
		copy(h.PacketID[:], buf[off:off+IDSize])
		h.HasPacketID = true
		off += IDSize
	}
	if h.Transport&FlagMessageID != 0 {
		copy(h.MessageID[:], buf[off:off+IDSize])
		h.HasMessageID = true
		off += IDSize
	}
	if h.Transport&FlagStream != 0 {
		copy(h.StreamID[:], buf[off:off+StreamIDSize])
		h.HasStreamID = true
		off += StreamIDSize
	}
	if h.Transport&FlagExpiration != 0 {
		h.Expiration = binary.LittleEndian.Uint64(buf[off : off+8])
		h.HasExpiration = true
		off += 8
	}

	return h, nil
}

// Encode serializes h and appends payload, returning a freshly allocated
// buffer. The caller owns the result.
func Encode(h Header, payload []byte) []byte {
	size := HeaderSize(h.Transport) + len(payload)
	buf := make([]byte, size)
	EncodeTo(h, buf)
	copy(buf[HeaderSize(h.Transport):], payload)
	return buf
}

// EncodeTo writes h's header bytes (not the payload) into the front of buf,
// which must be at least HeaderSize(h.Transport) bytes long. Returns the
// number of header bytes written.
func EncodeTo(h Header, buf []byte) int {
	buf[0] = h.Version
	buf[1] = uint8(h.MessageType)
	buf[2] = h.HopsSoFar
	buf[3] = h.HopsMax
	buf[4] = uint8(h.Transport)
	buf[5] = h.SrcNBits
	buf[6] = h.DstNBits
	buf[7] = uint8(h.SigAlgo)

	off := 8
	copy(buf[off:off+AddrSize], h.Source[:])
	off += AddrSize
	copy(buf[off:off+AddrSize], h.Destination[:])
	off += AddrSize

	if h.Transport&FlagPacketID != 0 {
		copy(buf[off:off+IDSize], h.PacketID[:])
		off += IDSize
	}
	if h.Transport&FlagMessageID != 0 {
		copy(buf[off:off+IDSize], h.MessageID[:])
		off += IDSize
	}
	if h.Transport&FlagStream != 0 {
		copy(buf[off:off+StreamIDSize], h.StreamID[:])
		off += StreamIDSize
	}
	if h.Transport&FlagExpiration != 0 {
		binary.LittleEndian.PutUint64(buf[off:off+8], h.Expiration)
		off += 8
	}
	return off
}

// Payload returns the slice of buf following the transport-expanded header.
// buf must already have passed IsValid.
func Payload(buf []byte) []byte {
	flags := TransportFlags(buf[4])
	return buf[HeaderSize(flags):]
}

// ExtractID implements the priority-ordered ID-extraction policy of
// spec.md §4.1 / original_source/src/acache.c's get_id: packet ID, else
// message ID, else (for ACK) the first ID_SIZE payload bytes, else (for
// KEY_XCHG/KEY_REQ) the ID_SIZE bytes following the payload's length byte.
// Returns false when no ID can be derived.
func ExtractID(buf []byte) (id [IDSize]byte, ok bool) {
	if !IsValid(buf) {
		return id, false
	}
	h, err := Parse(buf)
	if err != nil {
		return id, false
	}
	if h.HasPacketID {
		return h.PacketID, true
	}
	if h.HasMessageID {
		return h.MessageID, true
	}
	payload := Payload(buf)
	if h.MessageType == TypeAck && len(payload) >= IDSize {
		copy(id[:], payload[:IDSize])
		return id, true
	}
	if (h.MessageType == TypeKeyXchg || h.MessageType == TypeKeyReq) && len(payload) >= 1 {
		nbytes := int(payload[0])
		if nbytes >= IDSize && len(payload) >= 1+nbytes {
			copy(id[:], payload[1:1+IDSize])
			return id, true
		}
	}
	return id, false
}

// MatchingBits returns the number of equal leading bits between a (valid to
// aNBits) and b (valid to bNBits), never exceeding min(aNBits, bNBits).
func MatchingBits(a [AddrSize]byte, aNBits uint8, b [AddrSize]byte, bNBits uint8) uint8 {
	limit := aNBits
	if bNBits < limit {
		limit = bNBits
	}
	if limit == 0 {
		return 0
	}

	fullBytes := int(limit) / 8
	var matched uint8
	for i := 0; i < fullBytes; i++ {
		if a[i] != b[i] {
			return matchBitsInByte(a[i], b[i], 8) + uint8(8*i)
		}
		matched += 8
	}
	remBits := int(limit) % 8
	if remBits == 0 {
		return matched
	}
	extra := matchBitsInByte(a[fullBytes], b[fullBytes], remBits)
	return matched + extra
}

// matchBitsInByte counts equal leading bits (MSB-first) between x and y,
// capped at `limit` bits (0 <= limit <= 8).
func matchBitsInByte(x, y byte, limit int) uint8 {
	var n uint8
	for i := 0; i < limit; i++ {
		mask := byte(0x80) >> uint(i)
		if x&mask != y&mask {
			break
		}
		n++
	}
	return n
}

// Matches reports whether a (to aNBits) and b (to bNBits) share at least
// min(aNBits, bNBits) leading bits -- the prefix-match predicate used both
// by cache queries and by the key responder's destination targeting.
func Matches(a [AddrSize]byte, aNBits uint8, b [AddrSize]byte, bNBits uint8) bool {
	limit := aNBits
	if bNBits < limit {
		limit = bNBits
	}
	return MatchingBits(a, aNBits, b, bNBits) >= limit
}
