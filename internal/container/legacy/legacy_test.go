package legacy

import (
	"bytes"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
)

func encodeFrame(buf *bytes.Buffer, ts uint64, data []byte) {
	buf.Write(quicvarint.Append(nil, ts))
	buf.Write(quicvarint.Append(nil, uint64(len(data))))
	buf.Write(data)
}

func TestDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	encodeFrame(&buf, 0, []byte("keyframe"))
	encodeFrame(&buf, 33_333, []byte("delta-1"))
	encodeFrame(&buf, 66_666, []byte("delta-2"))

	samples, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}

	want := []struct {
		ts       int64
		keyframe bool
		data     string
	}{
		{0, true, "keyframe"},
		{33_333, false, "delta-1"},
		{66_666, false, "delta-2"},
	}
	for i, w := range want {
		if samples[i].Timestamp != w.ts {
			t.Errorf("sample %d: timestamp = %d, want %d", i, samples[i].Timestamp, w.ts)
		}
		if samples[i].Keyframe != w.keyframe {
			t.Errorf("sample %d: keyframe = %v, want %v", i, samples[i].Keyframe, w.keyframe)
		}
		if string(samples[i].Data) != w.data {
			t.Errorf("sample %d: data = %q, want %q", i, samples[i].Data, w.data)
		}
	}
}

func TestDecodeEmptyGroup(t *testing.T) {
	samples, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("got %d samples, want 0", len(samples))
	}
}

func TestDecodeTruncatedTimestamp(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatal("expected error on truncated varint")
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(quicvarint.Append(nil, 0))
	buf.Write(quicvarint.Append(nil, 10)) // claims 10 bytes of payload
	buf.WriteString("short")              // only 5 present
	if _, err := Decode(buf.Bytes()); err == nil {
		t.Fatal("expected error on truncated frame payload")
	}
}

func TestDecodeIsolatedFromSourceBuffer(t *testing.T) {
	var buf bytes.Buffer
	encodeFrame(&buf, 0, []byte("abc"))
	data := buf.Bytes()

	samples, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	data[len(data)-1] = 'Z'
	if string(samples[0].Data) == "abZ" {
		t.Fatal("sample data aliases the source buffer")
	}
}
