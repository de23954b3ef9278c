package container

import (
	"errors"
	"sync"
)

var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	testPPS     = []byte{0x08}
	testIDR     = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testNonIDR  = []byte{0x41, 0x9a, 0x02, 0x0c}
	errFakeFeed = errors.New("fake encoder input broken")
)

// fakeEncoder emits one synthetic access unit per submitted frame with a
// keyframe every gop frames.
type fakeEncoder struct {
	mu      sync.Mutex
	cfg     EncoderConfig
	gop     int
	units   chan [][]byte
	frames  int
	raws    [][]byte
	backlog [][][]byte

	// hold keeps access units in backlog until release is called.
	hold bool
	// stuck ignores CloseInput, so only Kill ends the output.
	stuck bool
	// failAt makes the n-th Encode call fail (1-based).
	failAt int
	// leading emits this many non-key pictures before the first keyframe.
	leading int

	closeOnce sync.Once
	killed    bool
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{gop: 5, units: make(chan [][]byte, 1024)}
}

func (f *fakeEncoder) factory(cfg EncoderConfig) (Encoder, error) {
	f.cfg = cfg
	return f, nil
}

func (f *fakeEncoder) Encode(raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.killed {
		return errFakeFeed
	}
	f.frames++
	if f.failAt > 0 && f.frames == f.failAt {
		return errFakeFeed
	}
	f.raws = append(f.raws, raw)

	var au [][]byte
	if n := f.frames - 1 - f.leading; n >= 0 && n%f.gop == 0 {
		au = [][]byte{testSPS, testPPS, testIDR}
	} else {
		au = [][]byte{testNonIDR}
	}
	if f.hold {
		f.backlog = append(f.backlog, au)
		return nil
	}
	f.units <- au
	return nil
}

func (f *fakeEncoder) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killed {
		return
	}
	for _, au := range f.backlog {
		f.units <- au
	}
	f.backlog = nil
	f.hold = false
}

func (f *fakeEncoder) Units() <-chan [][]byte {
	return f.units
}

func (f *fakeEncoder) CloseInput() error {
	f.mu.Lock()
	stuck := f.stuck
	f.mu.Unlock()
	if stuck {
		return nil
	}
	f.release()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.units) })
	return nil
}

func (f *fakeEncoder) Wait() error {
	return nil
}

func (f *fakeEncoder) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	f.closeOnce.Do(func() { close(f.units) })
}

func (f *fakeEncoder) rawFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.raws...)
}
