// Package errs defines the error taxonomy shared by the transport, session,
// and media pipeline packages (see the propagation policy in spec §7).
package errs

import "fmt"

// Kind identifies a class of failure so callers can branch with errors.Is
// instead of string matching.
type Kind int

const (
	// TransportFailed covers connection loss, auth rejection, or a
	// protocol violation on the underlying transport.
	TransportFailed Kind = iota
	// BroadcastUnavailable means the broadcast path does not exist or
	// went inactive.
	BroadcastUnavailable
	// DecoderUnsupported means no rendition the platform decoder can
	// decode was found.
	DecoderUnsupported
	// DecoderFatal means the platform decoder surfaced an error mid-stream.
	DecoderFatal
	// GroupLost means the transport cancelled a group stream.
	GroupLost
	// MalformedCatalog means the catalog JSON failed to parse.
	MalformedCatalog
	// MalformedContainer means a container decoder failed to parse a
	// group payload.
	MalformedContainer
)

func (k Kind) String() string {
	switch k {
	case TransportFailed:
		return "transport_failed"
	case BroadcastUnavailable:
		return "broadcast_unavailable"
	case DecoderUnsupported:
		return "decoder_unsupported"
	case DecoderFatal:
		return "decoder_fatal"
	case GroupLost:
		return "group_lost"
	case MalformedCatalog:
		return "malformed_catalog"
	case MalformedContainer:
		return "malformed_container"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried through the pipeline. It always
// has a Kind and a human-readable Reason, and optionally names the entity
// (track name, group number) that failed.
type Error struct {
	Kind   Kind
	Reason string
	Track  string // optional
	Group  int64  // optional, -1 if not applicable
	Err    error  // optional wrapped cause
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Track != "" {
		msg = fmt.Sprintf("%s (track=%s)", msg, e.Track)
	}
	if e.Group >= 0 {
		msg = fmt.Sprintf("%s (group=%d)", msg, e.Group)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is(err, errs.Kind) style comparisons by matching Kind
// against a sentinel constructed with New(kind, "").
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs a bare Error of the given kind, suitable both as a real
// error and as a sentinel passed to errors.Is.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Group: -1}
}

// Wrap constructs an Error that wraps cause, naming the failing track/group
// where applicable. group < 0 omits the group from the message.
func Wrap(kind Kind, reason string, track string, group int64, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Track: track, Group: group, Err: cause}
}
