package captions

import (
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
)

func encode(pts, channel uint64, text string) []byte {
	var out []byte
	out = quicvarint.Append(out, pts)
	out = quicvarint.Append(out, channel)
	out = append(out, []byte(text)...)
	return out
}

func TestDecodeRoundTrip(t *testing.T) {
	payload := encode(12345, 1, "hello world")

	cf, err := decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cf.PTS != 12345 {
		t.Errorf("PTS = %d, want 12345", cf.PTS)
	}
	if cf.Channel != 1 {
		t.Errorf("Channel = %d, want 1", cf.Channel)
	}
	if cf.Text != "hello world" {
		t.Errorf("Text = %q, want %q", cf.Text, "hello world")
	}
}

func TestDecodeEmptyText(t *testing.T) {
	// A clear-caption event carries no text, which must decode cleanly.
	payload := encode(500, 2, "")

	cf, err := decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cf.Text != "" {
		t.Errorf("Text = %q, want empty", cf.Text)
	}
}

func TestDecodeTruncatedChannel(t *testing.T) {
	full := encode(1, 2, "x")
	// Cut after the PTS varint so the channel varint is missing entirely.
	ptsLen := len(quicvarint.Append(nil, 1))
	truncated := full[:ptsLen]

	if _, err := decode(truncated); err == nil {
		t.Fatal("expected error decoding truncated caption payload")
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	if _, err := decode(nil); err == nil {
		t.Fatal("expected error decoding empty caption payload")
	}
}
