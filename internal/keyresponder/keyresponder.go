// Package keyresponder implements the independent key-request responder
// loop (spec.md §4.5): for each valid KEY_REQ, enumerate local identities
// and emit one reply per identity whose address matches the request's
// destination prefix.
package keyresponder

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cscouto/acache/internal/keyring"
	"github.com/cscouto/acache/internal/metrics"
	"github.com/cscouto/acache/internal/packet"
	"github.com/cscouto/acache/internal/pipemsg"
)

// Encryptor is the opaque cryptographic collaborator the key responder
// consumes to encrypt a local public key for the requester's reply key
// (spec.md §1 names cryptographic primitives as out of scope for the core).
type Encryptor interface {
	Encrypt(pubKey, replyKey []byte) ([]byte, error)
}

// Responder drives the key-responder loop against one Keyring.
type Responder struct {
	keys    keyring.Keyring
	enc     Encryptor
	log     *zap.Logger
	metrics metrics.Sink
}

// New constructs a Responder. enc may be nil: requests without a valid
// reply key still receive the cleartext key, while a request carrying a
// valid reply key then gets no reply (counted as "encrypt_unavailable").
func New(keys keyring.Keyring, enc Encryptor, log *zap.Logger, sink metrics.Sink) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = metrics.Noop()
	}
	return &Responder{keys: keys, enc: enc, log: log.With(zap.String("component", "keyresponder")), metrics: sink}
}

// Run drives the loop until ch reports closure or a non-nil error.
func (r *Responder) Run(ch pipemsg.Channel) error {
	for {
		buf, _, err := ch.Receive()
		if err != nil {
			if errors.Is(err, pipemsg.ErrClosed) {
				r.log.Info("channel closed, exiting")
				return nil
			}
			r.log.Error("channel read failed", zap.Error(err))
			return err
		}
		r.handle(buf, ch)
	}
}

func (r *Responder) handle(buf []byte, ch pipemsg.Channel) {
	if !packet.IsValid(buf) {
		return
	}
	h, err := packet.Parse(buf)
	if err != nil || h.MessageType != packet.TypeKeyReq {
		return
	}

	replyKey, ok := parseReplyKey(packet.Payload(buf))
	if !ok {
		replyKey = nil // fall back to cleartext (SPEC_FULL.md §11)
	}

	for _, id := range r.keys.Identities() {
		if !packet.Matches(h.Destination, h.DstNBits, id.Address, 8*packet.AddrSize) {
			continue
		}
		r.reply(ch, h, id, replyKey)
	}
}

// parseReplyKey implements spec.md §4.5 step 1: the payload begins with a
// one-byte advertised bit-length, followed by ceil(nbits/8) ignored
// fingerprint bytes, followed by an optional reply key. The reply key is
// only accepted if it is exactly keyring.RSA4096KeyLen+1 bytes (algorithm
// tag + key material) and its leading byte is keyring.AlgoRSA4096.
func parseReplyKey(payload []byte) (key []byte, ok bool) {
	if len(payload) < 1 {
		return nil, false
	}
	nbits := int(payload[0])
	fpLen := (nbits + 7) / 8
	offset := 1 + fpLen
	if len(payload) <= offset {
		return nil, false
	}
	rest := payload[offset:]
	if len(rest) != 1+keyring.RSA4096KeyLen || rest[0] != keyring.AlgoRSA4096 {
		return nil, false
	}
	return rest, true
}

func (r *Responder) reply(ch pipemsg.Channel, req packet.Header, id keyring.Identity, replyKey []byte) {
	msgType := packet.TypeClear
	sigAlgo := packet.SigNone
	data := id.PubKey

	if len(replyKey) > 0 {
		if r.enc == nil {
			r.metrics.IncRejected("encrypt_unavailable")
			return
		}
		cipher, err := r.enc.Encrypt(id.PubKey, replyKey)
		if err != nil {
			r.log.Warn("encrypt failure, skipping reply", zap.Error(err))
			r.metrics.IncRejected("encrypt_failure")
			return
		}
		data = cipher
		msgType = packet.TypeData
	}

	out := packet.Header{
		Version:     req.Version,
		MessageType: msgType,
		HopsSoFar:   req.HopsSoFar + packet.HopExtra,
		HopsMax:     req.HopsMax,
		SigAlgo:     sigAlgo,
		SrcNBits:    8 * packet.AddrSize,
		DstNBits:    req.SrcNBits,
		Source:      id.Address,
		Destination: req.Source,
	}
	buf := packet.Encode(out, data)

	if err := ch.Send(buf, packet.PriorityDefault); err != nil {
		r.log.Warn("failed to send key reply", zap.Error(err))
		return
	}
	if msgType == packet.TypeData {
		r.metrics.IncKeyReply("encrypted")
	} else {
		r.metrics.IncKeyReply("clear")
	}
}
