// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"fmt"
	"time"
)

// TerminationKind discriminates why a Session stopped running (spec.md
// §9: "define a SessionTermination value with variants {AuthFailed,
// RateLimited(seconds), ProtocolError, TransportError, Closed}").
// Classification is a pure function of this value; the Supervisor never
// inspects errors directly.
type TerminationKind int

const (
	// Closed is a normal close (peer close, client close, or a clean
	// shutdown requested by the Supervisor's own context).
	Closed TerminationKind = iota
	// AuthFailed is close code 4001 or an HTTP 403 before upgrade
	// (spec.md §4.5, §7 category 3): fatal for the process, never retried.
	AuthFailed
	// RateLimited is close code 4008 with reason "Wait N seconds"
	// (spec.md §4.5, §7 category 4).
	RateLimited
	// ProtocolError is a framing violation (spec.md §4.1, §7 category 1).
	ProtocolError
	// TransportError is a TCP/TLS/ping-timeout failure (spec.md §7
	// category 2).
	TransportError
)

func (k TerminationKind) String() string {
	switch k {
	case Closed:
		return "closed"
	case AuthFailed:
		return "auth_failed"
	case RateLimited:
		return "rate_limited"
	case ProtocolError:
		return "protocol_error"
	case TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Termination is what a Session returns when it stops running. Duration
// is the session's total lifetime, used by the Supervisor's short/long
// connection classification (spec.md §4.5).
type Termination struct {
	Kind     TerminationKind
	Duration time.Duration

	// RateLimitSeconds is set only when Kind == RateLimited: the number
	// of seconds parsed out of the close reason "Wait N seconds".
	RateLimitSeconds int

	// Cause, if non-nil, is the underlying error (transport failure,
	// protocol violation) that produced this Termination.
	Cause error
}

func (t Termination) Error() string {
	if t.Cause != nil {
		return fmt.Sprintf("tunnel: session terminated (%s): %v", t.Kind, t.Cause)
	}
	return fmt.Sprintf("tunnel: session terminated (%s)", t.Kind)
}

func (t Termination) Unwrap() error {
	return t.Cause
}
