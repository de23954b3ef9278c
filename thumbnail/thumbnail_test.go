package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/capture/synthetic"
	"go2tv.app/screenrec/catalog"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/pixbuf"
)

var (
	displayA = capture.Display{ID: 1, Frame: image.Rect(0, 0, 1000, 1000)}
	displayB = capture.Display{ID: 2, Frame: image.Rect(1000, 0, 2000, 1000)}
	app      = &capture.Application{BundleID: "org.example.app", Name: "App", PID: 77}
)

func batchFixture() synthetic.Options {
	return synthetic.Options{
		Displays: []capture.Display{displayA, displayB},
		Windows: []capture.Window{
			{ID: 11, Title: "one", Owner: app, OnScreen: true, Frame: image.Rect(10, 10, 110, 110)},
			{ID: 12, Title: "two", Owner: app, OnScreen: true, Frame: image.Rect(200, 10, 300, 110)},
			{ID: 13, Title: "three", Owner: app, OnScreen: true, Frame: image.Rect(400, 10, 500, 110)},
			{ID: 14, Title: "both", Owner: app, OnScreen: true, Frame: image.Rect(950, 10, 1050, 110)},
		},
		FrameInterval: 5 * time.Millisecond,
		Logger:        logging.Discard(),
	}
}

func setup(t *testing.T, opts synthetic.Options) (*synthetic.Backend, *catalog.Snapshot) {
	t.Helper()
	backend := synthetic.New(&opts)
	c := catalog.New(backend, &catalog.Options{Self: catalog.Identity{PID: 1}, Logger: logging.Discard()})
	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	return backend, snap
}

func ids(records []Record) []capture.TargetID {
	var out []capture.TargetID
	for _, r := range records {
		out = append(out, r.Window.ID)
	}
	return out
}

func TestCaptureBatch_GroupsByDisplayRegardlessOfArrivalOrder(t *testing.T) {
	orders := []map[capture.TargetID]time.Duration{
		{11: 60 * time.Millisecond, 12: 40 * time.Millisecond, 13: 20 * time.Millisecond},
		{14: 60 * time.Millisecond, 12: 30 * time.Millisecond},
		nil,
	}
	for _, delays := range orders {
		opts := batchFixture()
		opts.Delays = delays
		backend, snap := setup(t, opts)
		coord := New(backend, &Options{Logger: logging.Discard()})

		res, err := coord.CaptureBatch(context.Background(), snap, snap.ListWindows(true, true), true)
		require.NoError(t, err)

		assert.Equal(t, []capture.TargetID{11, 12, 13, 14}, ids(res.ByDisplay[displayA.ID]))
		assert.Equal(t, []capture.TargetID{14}, ids(res.ByDisplay[displayB.ID]))
		assert.Equal(t, 4, res.Captured)
		assert.Zero(t, res.Failed)
		for _, rec := range res.ByDisplay[displayA.ID] {
			assert.False(t, rec.Placeholder())
			_, err := png.Decode(bytes.NewReader(rec.PNG))
			assert.NoError(t, err)
		}
		assert.Zero(t, backend.Active())
		assert.Equal(t, StateComplete, coord.Current().State())
	}
}

func TestCaptureBatch_DedupsRepeatedWindows(t *testing.T) {
	backend, snap := setup(t, batchFixture())
	coord := New(backend, &Options{Logger: logging.Discard()})

	windows := snap.ListWindows(true, true)
	windows = append(windows, windows[3], windows[0])
	res, err := coord.CaptureBatch(context.Background(), snap, windows, true)
	require.NoError(t, err)
	assert.Equal(t, []capture.TargetID{11, 12, 13, 14}, ids(res.ByDisplay[displayA.ID]))
	assert.Equal(t, []capture.TargetID{14}, ids(res.ByDisplay[displayB.ID]))
}

func TestCaptureBatch_PlaceholdersWithoutCapture(t *testing.T) {
	backend, snap := setup(t, batchFixture())
	coord := New(backend, &Options{Logger: logging.Discard()})

	b := coord.Start(context.Background(), snap, snap.ListWindows(true, true), false)
	assert.Equal(t, StateComplete, b.State())
	res, err := b.Wait(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.ByDisplay[displayA.ID], 4)
	assert.Len(t, res.ByDisplay[displayB.ID], 1)
	for _, rec := range res.ByDisplay[displayA.ID] {
		assert.True(t, rec.Placeholder())
		assert.Empty(t, rec.PNG)
	}
	assert.Zero(t, backend.Opened())
}

func TestCaptureBatch_OnCompleteOnce(t *testing.T) {
	backend, snap := setup(t, batchFixture())

	var calls atomic.Int32
	var last Result
	var mu sync.Mutex
	coord := New(backend, &Options{
		Logger: logging.Discard(),
		OnComplete: func(r Result) {
			calls.Add(1)
			mu.Lock()
			last = r
			mu.Unlock()
		},
	})

	res, err := coord.CaptureBatch(context.Background(), snap, nil, true)
	require.NoError(t, err)
	assert.Empty(t, res.ByDisplay)
	assert.Equal(t, int32(1), calls.Load())

	res, err = coord.CaptureBatch(context.Background(), snap, snap.ListWindows(true, true), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	mu.Lock()
	assert.Equal(t, res.BatchID, last.BatchID)
	mu.Unlock()

	_, err = coord.Current().Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCaptureBatch_FailuresProduceNoRecord(t *testing.T) {
	opts := batchFixture()
	opts.StartErr = map[capture.TargetID]error{11: errors.New("start failed")}
	opts.SampleErr = map[capture.TargetID]error{12: errors.New("frame lost")}
	opts.Silent = map[capture.TargetID]bool{13: true}
	backend, snap := setup(t, opts)
	coord := New(backend, &Options{Logger: logging.Discard(), FirstFrameTimeout: 50 * time.Millisecond})

	res, err := coord.CaptureBatch(context.Background(), snap, snap.ListWindows(true, true), true)
	require.NoError(t, err)
	assert.Equal(t, []capture.TargetID{14}, ids(res.ByDisplay[displayA.ID]))
	assert.Equal(t, 1, res.Captured)
	assert.Equal(t, 3, res.Failed)
	assert.Zero(t, backend.Active())
}

func TestCaptureBatch_DropsWindowsOutsideDisplays(t *testing.T) {
	opts := batchFixture()
	opts.Windows = append(opts.Windows, capture.Window{ID: 15, Title: "lost", Owner: app, OnScreen: true, Frame: image.Rect(5000, 5000, 5100, 5100)})
	backend, snap := setup(t, opts)
	coord := New(backend, &Options{Logger: logging.Discard()})

	res, err := coord.CaptureBatch(context.Background(), snap, snap.ListWindows(true, true), true)
	require.NoError(t, err)
	_, ok := res.Record(15)
	assert.False(t, ok)
	assert.Len(t, res.ByDisplay[displayA.ID], 4)
}

func TestCaptureBatch_NewBatchCancelsPrevious(t *testing.T) {
	opts := batchFixture()
	opts.Silent = map[capture.TargetID]bool{11: true, 12: true, 13: true, 14: true}
	backend, snap := setup(t, opts)
	coord := New(backend, &Options{Logger: logging.Discard(), FirstFrameTimeout: time.Minute})

	first := coord.Start(context.Background(), snap, snap.ListWindows(true, true), true)
	assert.Equal(t, StateStreaming, first.State())

	second := coord.Start(context.Background(), snap, nil, true)
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("superseded batch did not complete")
	}
	res, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Failed)
	assert.Same(t, second, coord.Current())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestCaptureBatch_MaxEdge(t *testing.T) {
	opts := batchFixture()
	opts.Windows[0].Frame = image.Rect(0, 0, 800, 400)
	backend, snap := setup(t, opts)
	coord := New(backend, &Options{Logger: logging.Discard(), MaxEdge: 100})

	res, err := coord.CaptureBatch(context.Background(), snap, snap.ListWindows(true, true)[:1], true)
	require.NoError(t, err)
	rec, ok := res.Record(11)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 100, 50), rec.Image.Bounds())
}

func TestCaptureSingle_NotFoundOpensNothing(t *testing.T) {
	backend, snap := setup(t, batchFixture())
	coord := New(backend, &Options{Logger: logging.Discard()})

	_, err := coord.CaptureSingle(context.Background(), snap, 999)
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Zero(t, backend.Opened())
}

func TestCaptureSingle_ReturnsTIFF(t *testing.T) {
	backend, snap := setup(t, batchFixture())
	coord := New(backend, &Options{Logger: logging.Discard()})

	data, err := coord.CaptureSingle(context.Background(), snap, 12)
	require.NoError(t, err)
	img, err := tiff.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 1, backend.Opened())
	assert.Zero(t, backend.Active())
}

func TestCaptureSingle_Errors(t *testing.T) {
	opts := batchFixture()
	opts.SampleErr = map[capture.TargetID]error{11: errors.New("frame lost")}
	opts.Silent = map[capture.TargetID]bool{12: true}
	opts.StartErr = map[capture.TargetID]error{13: errors.New("start failed")}
	backend, snap := setup(t, opts)
	coord := New(backend, &Options{Logger: logging.Discard(), FirstFrameTimeout: 50 * time.Millisecond})

	for _, id := range []capture.TargetID{11, 12, 13} {
		_, err := coord.CaptureSingle(context.Background(), snap, id)
		assert.ErrorIs(t, err, ErrFrameExtractionFailed, "window %d", id)
	}
	assert.Zero(t, backend.Active())
}

// twoShotStream delivers two samples back to back.
type twoShotStream struct {
	ch    chan capture.Sample
	once  sync.Once
	stops atomic.Int32
}

func (s *twoShotStream) Samples() <-chan capture.Sample { return s.ch }

func (s *twoShotStream) Stop(ctx context.Context) error {
	s.stops.Add(1)
	s.once.Do(func() { close(s.ch) })
	return nil
}

type twoShotOpener struct {
	stream *twoShotStream
}

func (o *twoShotOpener) OpenStream(ctx context.Context, target capture.Target, cfg capture.StreamConfig) (capture.Stream, error) {
	first := synthetic.Pattern(1, cfg.Width, cfg.Height, 0, 0)
	second := synthetic.Pattern(2, cfg.Width, cfg.Height, 1, 1)
	o.stream = &twoShotStream{ch: make(chan capture.Sample, 2)}
	o.stream.ch <- capture.Sample{Frame: first}
	o.stream.ch <- capture.Sample{Frame: second}
	return o.stream, nil
}

func TestCaptureSingle_IgnoresLateSample(t *testing.T) {
	snap := catalog.NewSnapshot(capture.Content{
		Displays: []capture.Display{displayA},
		Windows:  []capture.Window{{ID: 5, Title: "w", Owner: app, Frame: image.Rect(0, 0, 64, 48)}},
	})
	opener := &twoShotOpener{}
	coord := New(opener, &Options{Logger: logging.Discard()})

	data, err := coord.CaptureSingle(context.Background(), snap, 5)
	require.NoError(t, err)

	img, err := tiff.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	want, err := synthetic.Pattern(1, 64, 48, 0, 0).Image()
	require.NoError(t, err)
	assert.Equal(t, color.RGBAModel.Convert(want.At(0, 0)), color.RGBAModel.Convert(img.At(0, 0)))

	assert.Equal(t, uint64(1), coord.lateSamples.Load())
	assert.Equal(t, int32(1), opener.stream.stops.Load())
}

func TestOneShot_SettlesOnce(t *testing.T) {
	h := newOneShot[int]()
	assert.True(t, h.settle(1))
	assert.False(t, h.settle(2))
	assert.Equal(t, 1, <-h.ch)
	assert.Equal(t, 1, h.ignored)
}

func TestFit(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 600))
	assert.Equal(t, image.Rect(0, 0, 50, 100), fit(img, 100).Bounds())
	assert.Same(t, img, fit(img, 0))
	assert.Same(t, img, fit(img, 600))
}

func TestExtract_EmptyFrame(t *testing.T) {
	_, err := extract(nil)
	assert.ErrorIs(t, err, ErrFrameExtractionFailed)

	_, err = extract(&pixbuf.Frame{Format: pixbuf.FormatBGRA, Width: 4, Height: 4})
	assert.ErrorIs(t, err, ErrFrameExtractionFailed)
}
