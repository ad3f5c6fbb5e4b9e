package frame

import (
	"fmt"
	"io"

	"github.com/segmentio/encoding/json"
)

func marshalRequestMeta(meta RequestMeta) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("frame: encode request meta: %w", err)
	}
	return data, nil
}

// Writer abstracts the single WebSocket write operation the Encoder needs.
// Implementations must serialize concurrent calls themselves (spec.md §4.4,
// §5: "response encoding to the same WebSocket must be serialized").
type Writer interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
}

// Encoder writes one response (meta, then chunks, then "end") to a Writer,
// per spec.md §4.1.
type Encoder struct{}

// NewEncoder returns an Encoder. It carries no state: a Writer's caller is
// responsible for ensuring full response sequences aren't interleaved.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeResponse writes meta, then body split into chunks of at most
// MaxChunkSize bytes, then the "end" marker, in that order. If w returns an
// error partway through, EncodeResponse stops and returns it immediately.
func (e *Encoder) EncodeResponse(w Writer, meta ResponseMeta, body []byte) error {
	data, err := EncodeMeta(meta)
	if err != nil {
		return err
	}
	if err := w.WriteText(data); err != nil {
		return fmt.Errorf("frame: write meta: %w", err)
	}
	for _, chunk := range SplitChunks(body) {
		if err := w.WriteBinary(chunk); err != nil {
			return fmt.Errorf("frame: write chunk: %w", err)
		}
	}
	if err := w.WriteText([]byte(EndMarker)); err != nil {
		return fmt.Errorf("frame: write end: %w", err)
	}
	return nil
}

// EncodeResponseStream is EncodeResponse for a body that hasn't been read
// into memory yet (spec.md §4.2: "use a streaming read... so the origin's
// output is not buffered"). It reads body in MaxChunkSize pieces and
// writes each as its own binary frame as soon as it is available, rather
// than materializing the full response first.
func (e *Encoder) EncodeResponseStream(w Writer, meta ResponseMeta, body io.Reader) error {
	data, err := EncodeMeta(meta)
	if err != nil {
		return err
	}
	if err := w.WriteText(data); err != nil {
		return fmt.Errorf("frame: write meta: %w", err)
	}
	buf := make([]byte, MaxChunkSize)
	for {
		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if err := w.WriteBinary(append([]byte(nil), buf[:n]...)); err != nil {
				return fmt.Errorf("frame: write chunk: %w", err)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("frame: read response body: %w", readErr)
		}
	}
	if err := w.WriteText([]byte(EndMarker)); err != nil {
		return fmt.Errorf("frame: write end: %w", err)
	}
	return nil
}

// EncodeRequest writes a RequestMeta, then body chunks (no size limit per
// spec.md §3), then "end". Used by the (future) cloud-side test harness and
// by tests exercising the Decoder from the request side.
func (e *Encoder) EncodeRequest(w Writer, meta RequestMeta, body []byte, chunkSize int) error {
	data, err := marshalRequestMeta(meta)
	if err != nil {
		return err
	}
	if err := w.WriteText(data); err != nil {
		return fmt.Errorf("frame: write meta: %w", err)
	}
	if chunkSize <= 0 {
		chunkSize = MaxChunkSize
	}
	for off := 0; off < len(body); off += chunkSize {
		end := off + chunkSize
		if end > len(body) {
			end = len(body)
		}
		if err := w.WriteBinary(body[off:end]); err != nil {
			return fmt.Errorf("frame: write chunk: %w", err)
		}
	}
	if err := w.WriteText([]byte(EndMarker)); err != nil {
		return fmt.Errorf("frame: write end: %w", err)
	}
	return nil
}
