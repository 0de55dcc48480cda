// Package pipemsg implements the framed message channel the dispatcher and
// key responder use to talk to the external application-delivery daemon
// ("AD", spec.md §6.2). The wire framing is "length-prefixed message with
// priority word": a 4-byte big-endian length, a 4-byte big-endian priority,
// then that many payload bytes.
//
// pipemsg is deliberately the one piece of the opaque AD collaborator this
// repo implements concretely, so the dispatcher and key responder can be
// exercised end-to-end without a real AD process.
package pipemsg

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/cscouto/acache/internal/packet"
)

// ErrClosed is returned by Receive once the channel has been closed, either
// by the peer (io.EOF on the underlying reader) or by an explicit Close.
var ErrClosed = errors.New("pipemsg: channel closed")

// Channel is the framed message interface the dispatcher and key responder
// depend on. Implementations must be safe to call Receive/Send from a single
// goroutine each (no internal synchronization is otherwise promised).
type Channel interface {
	// Receive blocks until a frame arrives, the peer closes the channel
	// (returns ErrClosed), or an I/O error occurs.
	Receive() (buf []byte, priority packet.Priority, err error)
	// Send copies buf into a frame and writes it at the given priority.
	// The callee must not retain buf beyond the call.
	Send(buf []byte, priority packet.Priority) error
	// Close releases the underlying transport.
	Close() error
}

// StreamChannel frames messages over an io.ReadWriteCloser (a Unix pipe, a
// socket, or any other byte stream to AD).
type StreamChannel struct {
	rwc io.ReadWriteCloser
	mu  sync.Mutex // serializes writes; reads are single-goroutine by contract
}

// NewStream wraps rwc as a framed Channel.
func NewStream(rwc io.ReadWriteCloser) *StreamChannel {
	return &StreamChannel{rwc: rwc}
}

func (s *StreamChannel) Receive() ([]byte, packet.Priority, error) {
	var head [8]byte
	if _, err := io.ReadFull(s.rwc, head[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
			return nil, 0, ErrClosed
		}
		return nil, 0, err
	}
	length := binary.BigEndian.Uint32(head[0:4])
	priority := packet.Priority(int32(binary.BigEndian.Uint32(head[4:8])))

	buf := make([]byte, length)
	if _, err := io.ReadFull(s.rwc, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
			return nil, 0, ErrClosed
		}
		return nil, 0, err
	}
	return buf, priority, nil
}

func (s *StreamChannel) Send(buf []byte, priority packet.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var head [8]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(len(buf)))
	binary.BigEndian.PutUint32(head[4:8], uint32(priority))
	if _, err := s.rwc.Write(head[:]); err != nil {
		return err
	}
	// Copy into the frame before handing to the transport: the cache's
	// AllMatches results are read-only views and must not be retained by
	// the channel past this call (spec.md §5).
	frame := make([]byte, len(buf))
	copy(frame, buf)
	_, err := s.rwc.Write(frame)
	return err
}

func (s *StreamChannel) Close() error {
	return s.rwc.Close()
}

// Sent is one outbound frame recorded by a MemChannel, for test assertions.
type Sent struct {
	Buf      []byte
	Priority packet.Priority
}

// MemChannel is an in-memory test double: a queue of inbound frames to
// Receive, and a log of every Send call.
type MemChannel struct {
	mu      sync.Mutex
	inbound [][2]any // {buf []byte, priority packet.Priority}
	sent    []Sent
	closed  bool
}

// NewMem constructs an empty MemChannel.
func NewMem() *MemChannel {
	return &MemChannel{}
}

// Feed enqueues a frame that a subsequent Receive call will return.
func (m *MemChannel) Feed(buf []byte, priority packet.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, [2]any{buf, priority})
}

func (m *MemChannel) Receive() ([]byte, packet.Priority, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.inbound) == 0 {
		return nil, 0, ErrClosed
	}
	next := m.inbound[0]
	m.inbound = m.inbound[1:]
	return next[0].([]byte), next[1].(packet.Priority), nil
}

func (m *MemChannel) Send(buf []byte, priority packet.Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	frame := make([]byte, len(buf))
	copy(frame, buf)
	m.sent = append(m.sent, Sent{Buf: frame, Priority: priority})
	return nil
}

func (m *MemChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns every frame recorded by Send so far.
func (m *MemChannel) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}
