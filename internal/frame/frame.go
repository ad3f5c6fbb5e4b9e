// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package frame implements the three-part request/response framing
// protocol carried over a single WebSocket connection (spec.md §4.1, §6).
//
// A request is one text frame (JSON RequestMeta), zero or more binary
// frames (body chunks, any size), and one text frame "end". A response is
// the same shape with ResponseMeta and chunks capped at MaxChunkSize.
package frame

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

// MaxChunkSize is the largest binary frame the Encoder will emit for a
// response body (spec.md §4.1, §6).
const MaxChunkSize = 16 * 1024

// EndMarker is the literal text frame that closes a request or response.
const EndMarker = "end"

// RequestMeta is the JSON meta frame that opens a request (spec.md §3).
type RequestMeta struct {
	RequestID string            `json:"requestId"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Query     string            `json:"query"`
	Headers   map[string]string `json:"headers"`
}

// ResponseMeta is the JSON meta frame that opens a response (spec.md §3).
type ResponseMeta struct {
	RequestID string            `json:"requestId"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
}

// ItemKind discriminates the variants produced by the Decoder.
type ItemKind int

const (
	// KindMeta carries a freshly decoded RequestMeta.
	KindMeta ItemKind = iota
	// KindChunk carries a binary body chunk for the most recently
	// decoded meta.
	KindChunk
	// KindEnd closes the request opened by the most recent KindMeta.
	KindEnd
)

// Item is one decoded unit of the request stream.
type Item struct {
	Kind  ItemKind
	Meta  RequestMeta
	Chunk []byte
}

// ProtocolError marks a framing violation that must terminate the
// session (spec.md §4.1: "MUST terminate the session").
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("frame: protocol violation: %s", e.Reason)
}

// EncodeMeta marshals a ResponseMeta into the bytes of its text frame.
func EncodeMeta(meta ResponseMeta) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("frame: encode response meta: %w", err)
	}
	return data, nil
}

// SplitChunks splits body into frames of at most MaxChunkSize bytes each.
// An empty body yields zero chunks (spec.md §8: "Empty body: meta then
// \"end\" with no binary frames").
func SplitChunks(body []byte) [][]byte {
	if len(body) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(body)+MaxChunkSize-1)/MaxChunkSize)
	for off := 0; off < len(body); off += MaxChunkSize {
		end := off + MaxChunkSize
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, body[off:end])
	}
	return chunks
}
