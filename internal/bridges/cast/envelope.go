package cast

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the CastV2 channel message schema.
// The envelope body is standard protobuf wire format; the fields are encoded
// and decoded directly with protowire rather than generated message types,
// since the schema is tiny and fixed.
const (
	fieldProtocolVersion = 1 // varint, always castV2Version
	fieldSourceID        = 2 // string
	fieldDestinationID   = 3 // string
	fieldNamespace       = 4 // string
	fieldPayloadType     = 5 // varint, string/binary discriminator
	fieldPayloadUTF8     = 6 // string
	fieldPayloadBinary   = 7 // bytes, never emitted by this controller
)

// Protocol constants carried in every envelope.
const (
	// castV2Version is the CASTV2_1_0 protocol version tag.
	castV2Version = 0

	// payloadTypeString marks a UTF-8 string payload. All control messages
	// defined by this bridge use the string variant.
	payloadTypeString = 0

	// payloadTypeBinary marks a binary payload. Accepted on decode only so
	// that foreign namespaces do not break framing; the payload is surfaced
	// as an opaque string.
	payloadTypeBinary = 1
)

// Framing constants.
const (
	// lengthPrefixSize is the size of the big-endian length prefix that
	// precedes every envelope body on the wire.
	lengthPrefixSize = 4

	// DefaultMaxFrameSize bounds the envelope body. Frames declaring a
	// larger body are rejected as a framing error before any body bytes
	// are read.
	DefaultMaxFrameSize = 2048
)

// Envelope is one control-channel message: routing metadata plus a UTF-8
// payload (conventionally JSON). Envelopes are immutable once built; the
// codec holds no state across calls.
type Envelope struct {
	// SourceID is the logical sender endpoint (e.g. "sender-0").
	SourceID string

	// DestinationID is the logical receiver endpoint (e.g. "receiver-0").
	DestinationID string

	// Namespace selects the sub-protocol the payload belongs to.
	Namespace string

	// Payload is the UTF-8 message body.
	Payload string
}

// EncodeEnvelope serializes an envelope to its wire form: a 4-byte big-endian
// length prefix followed by the protobuf-encoded body.
//
// Parameters:
//   - env: Envelope to serialize
//   - limit: Maximum body size in bytes (0 uses DefaultMaxFrameSize)
//
// Returns:
//   - []byte: Complete frame ready for the transport
//   - error: ErrFrameTooLarge if the body exceeds the limit
func EncodeEnvelope(env Envelope, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}

	body := appendEnvelopeBody(nil, env)
	if len(body) > limit {
		return nil, fmt.Errorf("%w: body is %d bytes, limit %d", ErrFrameTooLarge, len(body), limit)
	}

	frame := make([]byte, lengthPrefixSize, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body))) // #nosec G115 -- bounded by limit above
	return append(frame, body...), nil
}

// appendEnvelopeBody appends the protobuf encoding of env to b.
func appendEnvelopeBody(b []byte, env Envelope) []byte {
	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, castV2Version)
	b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, env.SourceID)
	b = protowire.AppendTag(b, fieldDestinationID, protowire.BytesType)
	b = protowire.AppendString(b, env.DestinationID)
	b = protowire.AppendTag(b, fieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, env.Namespace)
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, payloadTypeString)
	b = protowire.AppendTag(b, fieldPayloadUTF8, protowire.BytesType)
	b = protowire.AppendString(b, env.Payload)
	return b
}

// DecodeEnvelope parses a protobuf-encoded envelope body.
//
// Unknown fields are skipped so that receivers speaking a newer schema do not
// break framing. A missing namespace fails closed: such a message cannot be
// routed and a partially-populated Envelope must never be returned.
//
// Parameters:
//   - body: Envelope body bytes (without the length prefix)
//
// Returns:
//   - Envelope: Fully populated envelope
//   - error: ErrMalformedEnvelope if the body cannot be decoded
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	var sawNamespace bool
	payloadType := uint64(payloadTypeString)

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		body = body[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			body = body[n:]
			if num == fieldPayloadType {
				payloadType = v
			}
			// fieldProtocolVersion is accepted at any value; the receiver
			// negotiates versions, not the sender.

		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			body = body[n:]
			switch num {
			case fieldSourceID:
				env.SourceID = string(v)
			case fieldDestinationID:
				env.DestinationID = string(v)
			case fieldNamespace:
				env.Namespace = string(v)
				sawNamespace = true
			case fieldPayloadUTF8, fieldPayloadBinary:
				env.Payload = string(v)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}

	if !sawNamespace {
		return Envelope{}, fmt.Errorf("%w: missing namespace", ErrMalformedEnvelope)
	}
	if payloadType != payloadTypeString && payloadType != payloadTypeBinary {
		return Envelope{}, fmt.Errorf("%w: unknown payload type %d", ErrMalformedEnvelope, payloadType)
	}

	return env, nil
}

// ReadEnvelope reads one length-prefixed envelope from r.
//
// The read is strict: exactly 4 prefix bytes, then exactly the declared body
// length. A declared length of zero or above the limit is rejected before any
// body byte is read, so a corrupt prefix never triggers a large allocation.
//
// Parameters:
//   - r: Transport byte stream
//   - buf: Reusable body buffer; grown only if the body exceeds its capacity
//   - limit: Maximum body size in bytes (0 uses DefaultMaxFrameSize)
//
// Returns:
//   - Envelope: Decoded envelope
//   - error: Framing error (short read, zero/oversize length) or
//     ErrMalformedEnvelope from body decoding
func ReadEnvelope(r io.Reader, buf []byte, limit int) (Envelope, error) {
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}

	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Envelope{}, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return Envelope{}, fmt.Errorf("%w: zero-length frame", ErrMalformedEnvelope)
	}
	if int64(length) > int64(limit) {
		return Envelope{}, fmt.Errorf("%w: declared length %d, limit %d", ErrFrameTooLarge, length, limit)
	}

	if int(length) > len(buf) {
		buf = make([]byte, length)
	}
	body := buf[:length]
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}

	return DecodeEnvelope(body)
}
