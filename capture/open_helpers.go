package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFirstFrameTimeout is returned by FirstSample when no sample arrived in time.
var ErrFirstFrameTimeout = errors.New("capture timed out waiting for first frame")

// FirstSample waits for the first sample of stream. It returns
// ErrStreamStopped if the stream ends without delivering one. A timeout of
// zero waits until ctx is done.
func FirstSample(ctx context.Context, stream Stream, timeout time.Duration) (Sample, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case s, ok := <-stream.Samples():
		if !ok {
			return Sample{}, ErrStreamStopped
		}
		return s, nil
	case <-expired:
		return Sample{}, fmt.Errorf("%w after %s", ErrFirstFrameTimeout, timeout)
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}
