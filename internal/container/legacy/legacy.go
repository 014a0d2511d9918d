// Package legacy decodes the legacy framed container (spec §4.4): each
// group starts with a keyframe, and each frame is
// {varint timestamp_us, varint length, codec_data[length]}.
//
// The reader is grounded on the teacher's (zsiec/prism) own
// internal/moq/control.go bufReader, which parses MoQ control messages with
// the same varint-prefixed-bytes shape via quicvarint.Parse; this package
// adapts that reading style from control-message parsing to frame parsing.
package legacy

import (
	"io"

	"github.com/moqsub/player/internal/container"
	"github.com/moqsub/player/internal/errs"
	"github.com/quic-go/quic-go/quicvarint"
)

// Decode parses a full group payload into samples. The first frame in a
// group always carries Keyframe=true (§4.4); subsequent frames are delta.
// Samples are returned in the order they were framed, which §4.4 requires to
// already be timestamp order within a group.
func Decode(groupPayload []byte) ([]container.Sample, error) {
	r := newReader(groupPayload)

	var out []container.Sample
	idx := 0
	for r.pos < len(r.data) {
		ts, err := r.readVarint()
		if err != nil {
			return nil, errs.Wrap(errs.MalformedContainer, "legacy: read timestamp", "", -1, err)
		}
		data, err := r.readVarIntBytes()
		if err != nil {
			return nil, errs.Wrap(errs.MalformedContainer, "legacy: read frame bytes", "", -1, err)
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		out = append(out, container.Sample{
			Timestamp: int64(ts),
			Keyframe:  idx == 0,
			Data:      cp,
		})
		idx++
	}
	return out, nil
}

// reader wraps a byte slice for sequential varint/byte reading.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) readVarint() (uint64, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	val, n, err := quicvarint.Parse(r.data[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return val, nil
}

func (r *reader) readVarIntBytes() ([]byte, error) {
	length, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	end := r.pos + int(length)
	if end > len(r.data) || end < r.pos {
		return nil, io.ErrUnexpectedEOF
	}
	val := r.data[r.pos:end]
	r.pos = end
	return val, nil
}
