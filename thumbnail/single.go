package thumbnail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/catalog"
)

// oneShot is a completion handle that is settled exactly once. Later
// attempts are ignored and counted.
type oneShot[T any] struct {
	once    sync.Once
	ch      chan T
	ignored int
}

func newOneShot[T any]() *oneShot[T] {
	return &oneShot[T]{ch: make(chan T, 1)}
}

func (o *oneShot[T]) settle(v T) bool {
	settled := false
	o.once.Do(func() {
		o.ch <- v
		settled = true
	})
	if !settled {
		o.ignored++
	}
	return settled
}

// CaptureSingle grabs one full resolution frame of the window or display id
// and returns it as TIFF. No stream is opened when id is not in snap.
func (c *Coordinator) CaptureSingle(ctx context.Context, snap *catalog.Snapshot, id capture.TargetID) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	target, ok := snap.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}

	log := c.logger.With(slog.Uint64("target", uint64(id)), slog.String("kind", target.Kind().String()))
	stream, err := c.opener.OpenStream(ctx, target, capture.FullResolutionConfig(target.Bounds()))
	if err != nil {
		return nil, fmt.Errorf("%w: start stream: %w", ErrFrameExtractionFailed, err)
	}

	handle := newOneShot[capture.Sample]()
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for s := range stream.Samples() {
			handle.settle(s)
		}
		handle.settle(capture.Sample{Err: capture.ErrStreamStopped})
	}()

	timeout := time.NewTimer(c.opts.FirstFrameTimeout)
	defer timeout.Stop()

	var sample capture.Sample
	select {
	case sample = <-handle.ch:
	case <-ctx.Done():
		sample = capture.Sample{Err: ctx.Err()}
	case <-timeout.C:
		sample = capture.Sample{Err: fmt.Errorf("%w after %s", capture.ErrFirstFrameTimeout, c.opts.FirstFrameTimeout)}
	}

	c.stopStream(stream, log)
	select {
	case <-delivered:
		// The settle after the channel closes is always ignored once a
		// sample arrived, so only extra deliveries count as late.
		if late := handle.ignored - 1; late > 0 {
			c.lateSamples.Add(uint64(late))
			log.Debug("ignored late samples", slog.Int("count", late))
		}
	case <-time.After(stopTimeout):
		log.Warn("capture stream did not close after stop")
	}

	if sample.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameExtractionFailed, sample.Err)
	}
	img, err := extract(sample.Frame)
	if err != nil {
		return nil, err
	}
	return encodeTIFF(img)
}
