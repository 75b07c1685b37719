package network

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Wire format
//
// Each frame is a big-endian u16 payload length followed by the payload.
// A batch of frames is terminated by the two bytes "OK", which read as a
// length equal to Sentinel. The server also sends a bare "OK" as soon as it
// accepts a connection.
const (
	Sentinel   uint16 = 0x4F4B // "OK"
	MaxPayload        = int(Sentinel) - 1
	headerSize        = 2
)

var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrUnknownEvent    = errors.New("unknown event kind")
)

var sentinelBytes = [headerSize]byte{'O', 'K'}

// ReadFrame reads one frame from r. end is true when the batch sentinel was
// read instead of a payload. Short reads are retried, so r may deliver bytes
// in chunks of any size.
func ReadFrame(r io.Reader) (payload []byte, end bool, err error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, false, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if n == Sentinel {
		return nil, true, nil
	}
	payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, false, err
	}
	return payload, false, nil
}

// WriteFrame writes one length-prefixed payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(payload))
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// WriteSentinel ends a batch (or greets a new connection).
func WriteSentinel(w io.Writer) error {
	_, err := w.Write(sentinelBytes[:])
	return err
}

// EncodeEnvelope serializes env into a frame payload.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if env.Event == nil {
		return nil, errors.Wrap(ErrInvalidMessage, "envelope without event")
	}
	b, err := msgpack.Marshal(env)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", env.Event.Kind())
	}
	if len(b) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%s is %d bytes", env.Event.Kind(), len(b))
	}
	return b, nil
}

// DecodeEnvelope parses a frame payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// EncodeMsgpack writes the envelope as [client, kind, event, seq].
func (e Envelope) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := encodeOptional(enc, e.Client); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(e.Event.Kind())); err != nil {
		return err
	}
	if err := enc.Encode(e.Event); err != nil {
		return err
	}
	return encodeOptional(enc, e.Seq)
}

// DecodeMsgpack is the inverse of EncodeMsgpack.
func (e *Envelope) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 4 {
		return errors.Wrapf(ErrInvalidMessage, "envelope has %d fields", n)
	}
	if e.Client, err = decodeOptional(dec); err != nil {
		return err
	}
	kind, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	if e.Event, err = decodeEvent(dec, EventKind(kind)); err != nil {
		return err
	}
	e.Seq, err = decodeOptional(dec)
	return err
}

func decodeEvent(dec *msgpack.Decoder, kind EventKind) (Event, error) {
	switch kind {
	case KindActorMove:
		var ev ActorMove
		err := dec.Decode(&ev)
		return ev, err
	case KindActorLoad:
		var ev ActorLoad
		err := dec.Decode(&ev)
		return ev, err
	case KindActorUnload:
		var ev ActorUnload
		err := dec.Decode(&ev)
		return ev, err
	case KindConnectionInit:
		var ev ConnectionInit
		err := dec.Decode(&ev)
		return ev, err
	case KindSceneLoad:
		var ev SceneLoad
		err := dec.Decode(&ev)
		return ev, err
	case KindTileChange:
		var ev TileChange
		err := dec.Decode(&ev)
		return ev, err
	case KindTileDiscover:
		var ev TileDiscover
		err := dec.Decode(&ev)
		return ev, err
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%s", kind)
	}
}

func encodeOptional(enc *msgpack.Encoder, v *uint32) error {
	if v == nil {
		return enc.EncodeNil()
	}
	return enc.EncodeUint32(*v)
}

func decodeOptional(dec *msgpack.Decoder) (*uint32, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	if code == msgpcode.Nil {
		return nil, dec.DecodeNil()
	}
	v, err := dec.DecodeUint32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}
