package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

const (
	videoTrackID         = 1
	defaultSampleTicks   = TimeScale / 30
	defaultFragmentTicks = TimeScale
)

// trackMuxer receives one H.264 access unit per picture, timestamped in
// TimeScale ticks, and writes a container. WriteVideo reports whether the
// picture went into the output.
type trackMuxer interface {
	WriteVideo(pts int64, au [][]byte, keyframe bool) (bool, error)
	Finalize() error
}

type heldSample struct {
	pts      int64
	au       [][]byte
	keyframe bool
}

// fmp4Muxer writes a fragmented MP4 with a single H.264 track. The init
// segment waits for the first keyframe carrying SPS and PPS; earlier pictures
// are undecodable and are discarded.
type fmp4Muxer struct {
	w             io.Writer
	logger        *slog.Logger
	fragmentTicks int64

	initWritten bool
	startPTS    int64
	seq         uint32
	baseTime    uint64

	held         *heldSample
	lastDuration uint32
	samples      []*fmp4.Sample
	fragTicks    int64
	discarded    int
}

func newFMP4Muxer(w io.Writer, fragment time.Duration, logger *slog.Logger) *fmp4Muxer {
	ticks := NanosToTicks(int64(fragment))
	if ticks <= 0 {
		ticks = defaultFragmentTicks
	}
	return &fmp4Muxer{
		w:             w,
		logger:        logger,
		fragmentTicks: ticks,
		seq:           1,
	}
}

func (m *fmp4Muxer) WriteVideo(pts int64, au [][]byte, keyframe bool) (bool, error) {
	if len(au) == 0 {
		return false, nil
	}

	if !m.initWritten {
		sps, pps := parameterSets(au)
		if !keyframe || sps == nil || pps == nil {
			m.discarded++
			return false, nil
		}
		if err := m.writeInit(sps, pps); err != nil {
			return false, err
		}
		m.initWritten = true
		m.startPTS = pts
		if m.discarded > 0 {
			m.logger.Debug("discarded pictures before first keyframe", slog.Int("count", m.discarded))
		}
	}

	rel := pts - m.startPTS
	if m.held != nil {
		if err := m.release(rel - m.held.pts); err != nil {
			return false, err
		}
	}

	if keyframe && m.fragTicks >= m.fragmentTicks {
		if err := m.flushFragment(); err != nil {
			return false, err
		}
	}

	m.held = &heldSample{pts: rel, au: au, keyframe: keyframe}
	return true, nil
}

// release turns the held picture into a sample now that its duration is
// known. Durations never drop below one tick so the track timeline stays
// monotonic even for out of order input.
func (m *fmp4Muxer) release(delta int64) error {
	d := uint32(1)
	if delta > 0 {
		d = uint32(min(delta, int64(^uint32(0))))
	}

	sample := &fmp4.Sample{Duration: d}
	if err := sample.FillH264(0, m.held.au); err != nil {
		return fmt.Errorf("fill h264 sample: %w", err)
	}
	sample.IsNonSyncSample = !m.held.keyframe

	m.samples = append(m.samples, sample)
	m.fragTicks += int64(d)
	m.lastDuration = d
	m.held = nil
	return nil
}

func (m *fmp4Muxer) Finalize() error {
	if !m.initWritten {
		return errors.New("no keyframe received")
	}
	if m.held != nil {
		d := m.lastDuration
		if d == 0 {
			d = defaultSampleTicks
		}
		if err := m.release(int64(d)); err != nil {
			return err
		}
	}
	return m.flushFragment()
}

func (m *fmp4Muxer) writeInit(sps, pps []byte) error {
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        videoTrackID,
			TimeScale: TimeScale,
			Codec: &mp4.CodecH264{
				SPS: append([]byte(nil), sps...),
				PPS: append([]byte(nil), pps...),
			},
		}},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal init segment: %w", err)
	}
	_, err := m.w.Write(buf.Bytes())
	return err
}

func (m *fmp4Muxer) flushFragment() error {
	if len(m.samples) == 0 {
		return nil
	}

	part := &fmp4.Part{
		SequenceNumber: m.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       videoTrackID,
			BaseTime: m.baseTime,
			Samples:  m.samples,
		}},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}
	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return err
	}

	for _, s := range m.samples {
		m.baseTime += uint64(s.Duration)
	}
	m.seq++
	m.samples = nil
	m.fragTicks = 0
	return nil
}
