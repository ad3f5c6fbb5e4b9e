package frame

import "github.com/segmentio/encoding/json"

// MessageType mirrors the two WebSocket message kinds this protocol cares
// about, kept independent of any particular WebSocket library.
type MessageType int

const (
	TextMessage MessageType = iota
	BinaryMessage
)

// Decoder turns a sequence of raw WebSocket messages into a stream of
// Items, enforcing the framing rules in spec.md §4.1:
//
//   - the first text message opens a new request
//   - subsequent binary messages are body chunks for it
//   - the literal text "end" closes it
//   - a new text message while a request is open (no "end" yet) is a
//     protocol violation
//   - a binary message before any meta is a protocol violation
//
// A Decoder is not safe for concurrent use; a Tunnel Session owns exactly
// one per connection and feeds it from a single receive loop.
type Decoder struct {
	open bool // true between a decoded meta and its "end"
}

// NewDecoder returns a Decoder ready to decode a fresh request stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one raw WebSocket message and returns the Item it produced.
// On a *ProtocolError the session must close; the Decoder's internal state
// is left as-is since the caller will not call Feed again.
func (d *Decoder) Feed(msgType MessageType, payload []byte) (Item, error) {
	switch msgType {
	case TextMessage:
		if string(payload) == EndMarker {
			if !d.open {
				return Item{}, &ProtocolError{Reason: `"end" received with no open request`}
			}
			d.open = false
			return Item{Kind: KindEnd}, nil
		}
		if d.open {
			return Item{}, &ProtocolError{Reason: "new meta received before previous request's \"end\""}
		}
		var meta RequestMeta
		if err := json.Unmarshal(payload, &meta); err != nil {
			return Item{}, &ProtocolError{Reason: "invalid JSON in request meta: " + err.Error()}
		}
		d.open = true
		return Item{Kind: KindMeta, Meta: meta}, nil
	case BinaryMessage:
		if !d.open {
			return Item{}, &ProtocolError{Reason: "binary frame received before any meta"}
		}
		return Item{Kind: KindChunk, Chunk: payload}, nil
	default:
		return Item{}, &ProtocolError{Reason: "unsupported websocket message type"}
	}
}
