package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/screenrec/internal/logging"
)

const defaultSampleQueueDepth = 3

// SampleQueue decouples a backend's delivery callback from the stream
// consumer. Enqueue never blocks: when depth samples are waiting the oldest
// one is discarded.
type SampleQueue struct {
	name   string
	logger *slog.Logger

	queue chan Sample
	out   chan Sample
	done  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	lastDropLog atomic.Int64
	dropped     atomic.Uint64
}

// NewSampleQueue starts a queue holding at most depth samples. A depth of
// zero selects the default of 3.
func NewSampleQueue(name string, depth int, logger *slog.Logger) *SampleQueue {
	if depth <= 0 {
		depth = defaultSampleQueueDepth
	}
	q := &SampleQueue{
		name:   name,
		logger: logging.OrDefault(logger),
		queue:  make(chan Sample, depth),
		out:    make(chan Sample),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// Samples is the consumer side. It is closed by Close.
func (q *SampleQueue) Samples() <-chan Sample {
	return q.out
}

// Dropped counts samples discarded because the consumer fell behind.
func (q *SampleQueue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *SampleQueue) Enqueue(s Sample) {
	select {
	case <-q.done:
		return
	default:
	}

	select {
	case q.queue <- s:
		return
	default:
	}

	// Full: drop the oldest sample so the producer stays non-blocking.
	select {
	case <-q.queue:
		q.noteDrop()
	default:
	}

	select {
	case q.queue <- s:
	default:
		q.noteDrop()
	}
}

func (q *SampleQueue) noteDrop() {
	total := q.dropped.Add(1)
	if logging.ShouldLogEvery(&q.lastDropLog, time.Second) {
		q.logger.Debug("capture sample dropped",
			slog.String("stream", q.name),
			slog.Uint64("total", total),
			slog.Int("queue", len(q.queue)),
		)
	}
}

// Close stops delivery, discards queued samples and closes Samples.
func (q *SampleQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.wg.Wait()
		close(q.out)
	})
}

func (q *SampleQueue) loop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case s := <-q.queue:
			select {
			case <-q.done:
				return
			case q.out <- s:
			}
		}
	}
}
