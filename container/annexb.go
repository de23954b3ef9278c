package container

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// auSplitter cuts an Annex-B byte stream into access units at access unit
// delimiter NAL units. The encoder is configured to emit one delimiter per
// picture.
type auSplitter struct {
	buf      []byte
	scanFrom int
}

// Feed appends p and returns every access unit that is now complete.
func (s *auSplitter) Feed(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var out [][]byte
	for {
		head, headEnd := findAUD(s.buf, 0)
		if head < 0 {
			return out
		}
		if head > 0 {
			s.buf = s.buf[head:]
			s.scanFrom = 0
			continue
		}

		next, _ := findAUD(s.buf, max(headEnd, s.scanFrom))
		if next < 0 {
			s.scanFrom = max(headEnd, len(s.buf)-4)
			return out
		}
		out = append(out, append([]byte(nil), s.buf[:next]...))
		s.buf = s.buf[next:]
		s.scanFrom = 0
	}
}

// Flush returns the trailing access unit, if any.
func (s *auSplitter) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	out := s.buf
	s.buf = nil
	s.scanFrom = 0
	return out
}

// findAUD locates the first start code at or after from whose NAL unit is an
// access unit delimiter. start includes the leading zero of a four byte start
// code; end is the offset just past the NAL header byte.
func findAUD(b []byte, from int) (start, end int) {
	for i := from; i+3 < len(b); i++ {
		if b[i] != 0 || b[i+1] != 0 || b[i+2] != 1 {
			continue
		}
		if h264.NALUType(b[i+3]&0x1f) != h264.NALUTypeAccessUnitDelimiter {
			continue
		}
		if i > from && b[i-1] == 0 {
			return i - 1, i + 4
		}
		return i, i + 4
	}
	return -1, -1
}

// parseAccessUnit splits raw Annex-B bytes into NAL units, dropping delimiters
// and fillers.
func parseAccessUnit(raw []byte) ([][]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(raw); err != nil {
		return nil, err
	}
	out := au[:0]
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1f) {
		case h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeFillerData:
			continue
		}
		out = append(out, nalu)
	}
	return out, nil
}

// parameterSets returns the SPS and PPS carried in au, if present.
func parameterSets(au [][]byte) (sps, pps []byte) {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1f) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}
	return sps, pps
}
