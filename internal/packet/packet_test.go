package packet_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cscouto/acache/internal/packet"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	h := packet.Header{
		Version:     1,
		MessageType: packet.TypeData,
		HopsSoFar:   2,
		HopsMax:     10,
		Transport:   packet.FlagMessageID | packet.FlagExpiration,
		SrcNBits:    64,
		DstNBits:    32,
		SigAlgo:     packet.SigRSAPKCS1,
	}
	h.Source[0] = 0xAA
	h.Destination[0] = 0xBB
	h.MessageID[0] = 0x11
	h.Expiration = 123456789

	buf := packet.Encode(h, []byte("hello world"))
	require.True(t, packet.IsValid(buf))

	got, err := packet.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, h.Version, got.Version)
	require.Equal(t, h.MessageType, got.MessageType)
	require.Equal(t, h.Transport, got.Transport)
	require.Equal(t, h.SrcNBits, got.SrcNBits)
	require.Equal(t, h.DstNBits, got.DstNBits)
	require.Equal(t, h.Source, got.Source)
	require.Equal(t, h.Destination, got.Destination)
	require.True(t, got.HasMessageID)
	require.Equal(t, h.MessageID, got.MessageID)
	require.True(t, got.HasExpiration)
	require.Equal(t, h.Expiration, got.Expiration)
	require.False(t, got.HasPacketID)
	require.Equal(t, []byte("hello world"), packet.Payload(buf))
}

func TestIsValidRejectsShortAndNonsensicalBuffers(t *testing.T) {
	require.False(t, packet.IsValid(nil))
	require.False(t, packet.IsValid(make([]byte, 4)))

	h := packet.Header{SrcNBits: 255}
	buf := packet.Encode(h, nil)
	require.False(t, packet.IsValid(buf)) // 255 > 8*AddrSize

	h2 := packet.Header{Transport: packet.FlagPacketID}
	buf2 := packet.Encode(h2, nil)
	require.True(t, packet.IsValid(buf2))
	require.False(t, packet.IsValid(buf2[:len(buf2)-1]))
}

func TestExtractIDPriorityOrder(t *testing.T) {
	// 1. packet ID wins when present.
	h := packet.Header{Transport: packet.FlagPacketID | packet.FlagMessageID}
	h.PacketID[0] = 0xAA
	h.MessageID[0] = 0xBB
	buf := packet.Encode(h, nil)
	id, ok := packet.ExtractID(buf)
	require.True(t, ok)
	require.Equal(t, h.PacketID, id)

	// 2. message ID when no packet ID.
	h2 := packet.Header{Transport: packet.FlagMessageID}
	h2.MessageID[0] = 0xCC
	buf2 := packet.Encode(h2, nil)
	id2, ok2 := packet.ExtractID(buf2)
	require.True(t, ok2)
	require.Equal(t, h2.MessageID, id2)

	// 3. ACK payload first ID_SIZE bytes.
	h3 := packet.Header{MessageType: packet.TypeAck}
	token := make([]byte, packet.IDSize)
	token[0] = 0xDD
	buf3 := packet.Encode(h3, token)
	id3, ok3 := packet.ExtractID(buf3)
	require.True(t, ok3)
	var want3 [packet.IDSize]byte
	copy(want3[:], token)
	require.Equal(t, want3, id3)

	// 4. KEY_REQ payload: length byte then ID.
	h4 := packet.Header{MessageType: packet.TypeKeyReq}
	payload := append([]byte{byte(packet.IDSize)}, make([]byte, packet.IDSize)...)
	payload[1] = 0xEE
	buf4 := packet.Encode(h4, payload)
	id4, ok4 := packet.ExtractID(buf4)
	require.True(t, ok4)
	require.Equal(t, byte(0xEE), id4[0])

	// 5. no ID derivable.
	h5 := packet.Header{MessageType: packet.TypeData}
	buf5 := packet.Encode(h5, []byte("no id here"))
	_, ok5 := packet.ExtractID(buf5)
	require.False(t, ok5)
}

func TestMatchesUsesShorterLength(t *testing.T) {
	a := [packet.AddrSize]byte{0b11000000}
	b := [packet.AddrSize]byte{0b11100000}
	require.True(t, packet.Matches(a, 2, b, 8)) // shared prefix only needs to be 2 bits
	require.False(t, packet.Matches(a, 3, b, 8))
}

func TestHeaderSizeIsPureFunctionOfFlags(t *testing.T) {
	require.Equal(t, 8+2*packet.AddrSize, packet.HeaderSize(0))
	require.Equal(t, 8+2*packet.AddrSize+packet.IDSize, packet.HeaderSize(packet.FlagPacketID))
	require.Equal(t, 8+2*packet.AddrSize+2*packet.IDSize, packet.HeaderSize(packet.FlagPacketID|packet.FlagMessageID))
	require.Equal(t, 8+2*packet.AddrSize+packet.StreamIDSize, packet.HeaderSize(packet.FlagStream))
	require.Equal(t, 8+2*packet.AddrSize+8, packet.HeaderSize(packet.FlagExpiration))
}
