package codec

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ErrEmptyBundle is returned when an Annex-B payload contains no NAL units.
var ErrEmptyBundle = errors.New("no NAL units in payload")

// FrameKind is the admission-relevant classification of an H.264 bundle.
type FrameKind int

const (
	// KindOther has no slice and no parameter sets (SEI, AUD, filler...).
	KindOther FrameKind = iota
	// KindParameterSets carries SPS and/or PPS but no slice.
	KindParameterSets
	// KindNonIDR carries at least one non-IDR slice and no IDR slice.
	KindNonIDR
	// KindIDR carries an IDR slice.
	KindIDR
)

func (k FrameKind) String() string {
	switch k {
	case KindParameterSets:
		return "parameter_sets"
	case KindNonIDR:
		return "non_idr"
	case KindIDR:
		return "idr"
	default:
		return "other"
	}
}

// H264Bundle is one Annex-B payload split into NAL units and classified by
// the NAL header byte of each unit.
type H264Bundle struct {
	NALUs [][]byte
	// SPS and PPS hold the last parameter sets in the bundle, if any.
	SPS []byte
	PPS []byte

	HasIDR    bool
	HasNonIDR bool
}

// ClassifyH264 splits an Annex-B byte sequence and classifies its NAL units.
// A bundle may hold SPS+PPS+IDR concatenated.
func ClassifyH264(annexB []byte) (H264Bundle, error) {
	if len(annexB) == 0 {
		return H264Bundle{}, ErrEmptyBundle
	}

	var au h264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		return H264Bundle{}, fmt.Errorf("splitting annex-b: %w", err)
	}

	b := H264Bundle{NALUs: au}
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			b.SPS = nalu
		case h264.NALUTypePPS:
			b.PPS = nalu
		case h264.NALUTypeIDR:
			b.HasIDR = true
		case h264.NALUTypeNonIDR:
			b.HasNonIDR = true
		}
	}
	if len(b.NALUs) == 0 {
		return H264Bundle{}, ErrEmptyBundle
	}
	return b, nil
}

// Kind returns the bundle classification.
func (b H264Bundle) Kind() FrameKind {
	switch {
	case b.HasIDR:
		return KindIDR
	case b.HasNonIDR:
		return KindNonIDR
	case b.SPS != nil || b.PPS != nil:
		return KindParameterSets
	default:
		return KindOther
	}
}

// HasParameterSets reports whether both SPS and PPS are present.
func (b H264Bundle) HasParameterSets() bool {
	return b.SPS != nil && b.PPS != nil
}

// WithParameterSets returns the bundle re-encoded as Annex-B with the given
// SPS and PPS in front of its NAL units. Parameter sets already present in
// the bundle are kept and the given ones are not added twice.
func (b H264Bundle) WithParameterSets(sps, pps []byte) ([]byte, error) {
	units := make([][]byte, 0, len(b.NALUs)+2)
	if b.SPS == nil && sps != nil {
		units = append(units, sps)
	}
	if b.PPS == nil && pps != nil {
		units = append(units, pps)
	}
	units = append(units, b.NALUs...)

	out, err := h264.AnnexB(units).Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding annex-b: %w", err)
	}
	return out, nil
}

// SPSInfo holds the stream parameters decoded from an SPS.
type SPSInfo struct {
	Width  int
	Height int
	FPS    float64
}

// ParseSPS decodes an SPS NAL unit.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	var sps h264.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		return SPSInfo{}, fmt.Errorf("parsing SPS: %w", err)
	}
	return SPSInfo{
		Width:  sps.Width(),
		Height: sps.Height(),
		FPS:    sps.FPS(),
	}, nil
}
