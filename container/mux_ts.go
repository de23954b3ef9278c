package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

const tsVideoPID = 0x0100

// tsMuxer writes an MPEG-TS with a single H.264 elementary stream. Keyframes
// missing in-band parameter sets get the last seen SPS/PPS prepended.
type tsMuxer struct {
	logger *slog.Logger
	track  *mpegts.Track
	writer *mpegts.Writer

	started   bool
	startPTS  int64
	sps, pps  []byte
	discarded int
}

func newTSMuxer(w io.Writer, logger *slog.Logger) (*tsMuxer, error) {
	track := &mpegts.Track{
		PID:   tsVideoPID,
		Codec: &mpegts.CodecH264{},
	}
	writer := &mpegts.Writer{
		W:      w,
		Tracks: []*mpegts.Track{track},
	}
	if err := writer.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts writer: %w", err)
	}
	return &tsMuxer{logger: logger, track: track, writer: writer}, nil
}

func (m *tsMuxer) WriteVideo(pts int64, au [][]byte, keyframe bool) (bool, error) {
	if len(au) == 0 {
		return false, nil
	}

	if sps, pps := parameterSets(au); sps != nil || pps != nil {
		if sps != nil {
			m.sps = append(m.sps[:0], sps...)
		}
		if pps != nil {
			m.pps = append(m.pps[:0], pps...)
		}
	} else if keyframe && m.sps != nil && m.pps != nil {
		au = append([][]byte{m.sps, m.pps}, au...)
	}

	if !m.started {
		if !keyframe {
			m.discarded++
			return false, nil
		}
		m.started = true
		m.startPTS = pts
		if m.discarded > 0 {
			m.logger.Debug("discarded pictures before first keyframe", slog.Int("count", m.discarded))
		}
	}

	rel := pts - m.startPTS
	if err := m.writer.WriteH264(m.track, rel, rel, au); err != nil {
		return false, err
	}
	return true, nil
}

func (m *tsMuxer) Finalize() error {
	if !m.started {
		return errors.New("no keyframe received")
	}
	return nil
}

func isKeyframe(au [][]byte) bool {
	return h264.IsRandomAccess(au)
}
