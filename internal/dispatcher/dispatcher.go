// Package dispatcher implements the cache dispatcher: the single-threaded
// loop that reads framed messages from AD, classifies them, and invokes
// save/respond/ack on the packet cache (spec.md §4.4).
package dispatcher

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cscouto/acache/internal/cache"
	"github.com/cscouto/acache/internal/idhash"
	"github.com/cscouto/acache/internal/metrics"
	"github.com/cscouto/acache/internal/packet"
	"github.com/cscouto/acache/internal/pipemsg"
)

// Dispatcher owns a packet cache and drives it from one Channel.
type Dispatcher struct {
	cache   *cache.Cache
	log     *zap.Logger
	metrics metrics.Sink
}

// New constructs a Dispatcher over a cache of the given slot capacity.
// release is invoked whenever a stored buffer leaves the cache; it may be
// nil.
func New(capacity int, release cache.ReleaseFunc, log *zap.Logger, sink metrics.Sink) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = metrics.Noop()
	}
	return &Dispatcher{
		cache:   cache.New(capacity, release),
		log:     log.With(zap.String("component", "dispatcher")),
		metrics: sink,
	}
}

// Cache exposes the underlying cache for inspection (metrics, tests).
func (d *Dispatcher) Cache() *cache.Cache { return d.cache }

// Run drives the dispatch loop until ch reports closure or a non-nil error,
// at which point Run drains the cache (releasing every live entry) and
// returns. Receive may block indefinitely on a real channel implementation;
// closing the underlying transport is what unblocks it.
func (d *Dispatcher) Run(ch pipemsg.Channel) error {
	defer d.cache.Close()
	for {
		buf, priority, err := ch.Receive()
		if err != nil {
			if errors.Is(err, pipemsg.ErrClosed) {
				d.log.Info("channel closed, exiting")
				return nil
			}
			d.log.Error("channel read failed", zap.Error(err))
			return err
		}
		d.handle(buf, priority, ch)
		d.metrics.SetLiveEntries(d.cache.Len())
	}
}

// handle classifies and processes a single inbound message. Ownership of
// buf starts with the caller; save() either takes ownership (stored) or
// handle simply lets buf be garbage collected once this call returns
// (spec.md's "dispatcher releases buf" has no explicit free in Go -- not
// retaining a reference is the release).
func (d *Dispatcher) handle(buf []byte, priority packet.Priority, ch pipemsg.Channel) {
	if !packet.IsValid(buf) {
		d.log.Debug("rejected malformed packet", zap.Int("size", len(buf)))
		d.metrics.IncRejected("malformed")
		return
	}
	h, err := packet.Parse(buf)
	if err != nil {
		d.log.Debug("rejected unparsable packet", zap.Error(err))
		d.metrics.IncRejected("malformed")
		return
	}

	if h.MessageType == packet.TypeDataReq {
		// DATA_REQ is answered, never stored (SPEC_FULL.md §11, Open
		// Question Decisions).
		sent := d.respond(h, ch)
		if sent {
			d.log.Debug("responded to data request")
		} else {
			d.log.Debug("no response to data request")
		}
		return
	}

	if h.MessageType == packet.TypeAck {
		d.ack(buf)
	}

	if d.save(buf) {
		d.log.Debug("saved packet", zap.Uint8("type", uint8(h.MessageType)), zap.Int("size", len(buf)))
		d.metrics.IncAccepted(msgTypeLabel(h.MessageType))
	}
}

// save implements spec.md §4.4's save(): extract ID, refuse on absence or
// duplicate, otherwise install into the cache (possibly evicting).
func (d *Dispatcher) save(buf []byte) bool {
	id, ok := packet.ExtractID(buf)
	if !ok {
		d.metrics.IncRejected("no_id")
		return false
	}
	if _, found := d.cache.Lookup(id); found {
		d.metrics.IncRejected("duplicate")
		return false
	}
	_, evictedBefore := d.cache.Snapshot()
	d.cache.Add(id, buf)
	if _, evictedAfter := d.cache.Snapshot(); evictedAfter > evictedBefore {
		d.metrics.IncEvictions()
	}
	return true
}

// respondArg bundles the requester's source-prefix used by the predicate
// below, avoiding a closure allocation per call.
type respondArg struct {
	source [packet.AddrSize]byte
	nbits  uint8
}

func respondPredicate(arg any, e *cache.Entry) bool {
	req := arg.(respondArg)
	sh, err := packet.Parse(e.Buf)
	if err != nil {
		return false
	}
	return packet.Matches(req.source, req.nbits, sh.Destination, sh.DstNBits)
}

// respond implements spec.md §4.4's respond(): emit every cached packet
// whose destination prefix matches the requester's source prefix, at fixed
// cache-response priority. Returns true iff at least one candidate was sent.
func (d *Dispatcher) respond(req packet.Header, ch pipemsg.Channel) bool {
	matches := d.cache.AllMatches(respondPredicate, respondArg{source: req.Source, nbits: req.SrcNBits})
	for _, e := range matches {
		if err := ch.Send(e.Buf, packet.PriorityCacheResponse); err != nil {
			d.log.Warn("failed to send cache response", zap.Error(err))
		}
	}
	return len(matches) > 0
}

func idEqualsPredicate(arg any, e *cache.Entry) bool {
	return e.ID == arg.([packet.IDSize]byte)
}

// ack implements spec.md §4.4's ack(): every ID_SIZE token in the ACK
// payload is hashed; any cached entry whose ID equals that hash is removed.
// A single token may remove at most one entry since cache IDs are unique
// (invariant I1), but we loop until no match remains to mirror the
// original's defensive "while (found) remove" structure.
func (d *Dispatcher) ack(buf []byte) {
	payload := packet.Payload(buf)
	for len(payload) >= packet.IDSize {
		var token [packet.IDSize]byte
		copy(token[:], payload[:packet.IDSize])
		h := idhash.Hash(token)

		for {
			found := d.cache.GetMatch(idEqualsPredicate, h)
			if found == nil {
				break
			}
			d.cache.Remove(found)
			d.metrics.IncEvictions()
		}
		payload = payload[packet.IDSize:]
	}
}

func msgTypeLabel(t packet.MessageType) string {
	switch t {
	case packet.TypeData:
		return "data"
	case packet.TypeAck:
		return "ack"
	case packet.TypeDataReq:
		return "data_req"
	case packet.TypeKeyXchg:
		return "key_xchg"
	case packet.TypeKeyReq:
		return "key_req"
	case packet.TypeClear:
		return "clear"
	default:
		return "unknown"
	}
}
