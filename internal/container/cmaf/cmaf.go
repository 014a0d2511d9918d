// Package cmaf decodes the CMAF container (spec §4.4): a group's frames
// concatenated into fragmented-MP4 moof/mdat pairs.
//
// Grounded on the mp4ff-based init-segment rewriting in
// cmd/livesim2-app's cmaf-ingester (other_examples, Dash-Industry-Forum &
// nvkhoi112358 livesim2 forks), which decodes a raw init segment via
// bits.NewFixedSliceReader + mp4.DecodeFileSR and walks moov.Trak/Mvex.Trex
// the same way this package does; that code rewrites box fields, this one
// reads samples out of the fragments that follow.
package cmaf

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/moqsub/player/internal/container"
	"github.com/moqsub/player/internal/errs"
)

// nonSyncSampleFlag is the ISO/IEC 14496-12 sample_is_non_sync_sample bit
// within a trun/tfhd sample_flags field.
const nonSyncSampleFlag = 0x00010000

// Decode parses groupPayload (concatenated moof/mdat fragments) into
// samples. initSegment is the catalog rendition's decoded description field
// (the moov box, per spec §6) and is used only to recover the track
// fragment's default flags/duration (trex) and timescale; per the design
// notes (§9) this is a pure function re-parsing both byte slices on every
// call, with no cached decoder state between groups.
func Decode(initSegment, groupPayload []byte) ([]container.Sample, error) {
	trex, timescale, err := readInit(initSegment)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedContainer, "cmaf: decode init segment", "", -1, err)
	}
	if timescale == 0 {
		return nil, errs.New(errs.MalformedContainer, "cmaf: init segment has zero timescale")
	}

	sr := bits.NewFixedSliceReader(groupPayload)
	f, err := mp4.DecodeFileSR(sr)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedContainer, "cmaf: decode fragments", "", -1, err)
	}

	var out []container.Sample
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			samples, err := frag.GetFullSamples(trex)
			if err != nil {
				return nil, errs.Wrap(errs.MalformedContainer, "cmaf: extract samples", "", -1, err)
			}
			for _, s := range samples {
				data := make([]byte, len(s.Data))
				copy(data, s.Data)
				out = append(out, container.Sample{
					Timestamp: int64(s.DecodeTime * 1_000_000 / uint64(timescale)),
					Keyframe:  s.Sample.Flags&nonSyncSampleFlag == 0,
					Data:      data,
				})
			}
		}
	}
	return out, nil
}

// readInit extracts the default trex entry and track timescale from a raw
// init segment (moov box).
func readInit(initSegment []byte) (*mp4.TrexBox, uint32, error) {
	sr := bits.NewFixedSliceReader(initSegment)
	f, err := mp4.DecodeFileSR(sr)
	if err != nil {
		return nil, 0, err
	}
	if f.Init == nil || f.Init.Moov == nil || f.Init.Moov.Trak == nil {
		return nil, 0, fmt.Errorf("cmaf: init segment has no moov/trak")
	}
	trak := f.Init.Moov.Trak
	if trak.Mdia == nil || trak.Mdia.Mdhd == nil {
		return nil, 0, fmt.Errorf("cmaf: init segment trak has no mdia/mdhd")
	}
	timescale := trak.Mdia.Mdhd.Timescale

	trex := &mp4.TrexBox{}
	if f.Init.Moov.Mvex != nil && f.Init.Moov.Mvex.Trex != nil {
		trex = f.Init.Moov.Mvex.Trex
	}
	return trex, timescale, nil
}
