package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Capture yields blocks of captured linear samples. It blocks until a block
// is available, the device fails, or ctx is done.
type Capture interface {
	ReadSamples(ctx context.Context) ([]float32, error)
}

// Output plays one block and returns once it has finished playing.
type Output interface {
	Play(ctx context.Context, samples []float32) error
}

// Device is a full duplex audio endpoint owned by one call.
type Device interface {
	Capture
	Output
	io.Closer
}

type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

type Chunk struct {
	Seq     uint64
	Samples []float32
}

type SchedulerOption func(*Scheduler)

// WithActiveListener registers fn for output-active transitions. fn runs
// under the scheduler lock and must not call back into the scheduler.
func WithActiveListener(fn func(active bool)) SchedulerOption {
	return func(s *Scheduler) {
		s.onActive = fn
	}
}

func WithErrorListener(fn func(err error)) SchedulerOption {
	return func(s *Scheduler) {
		s.onError = fn
	}
}

// Scheduler serializes chunks onto a single Output so they play back to back
// in enqueue order.
type Scheduler struct {
	out Output

	mu     sync.Mutex
	queue  []Chunk
	active bool
	closed bool
	seq    uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onActive func(bool)
	onError  func(error)
}

func NewScheduler(out Output, opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		out:      out,
		ctx:      ctx,
		cancel:   cancel,
		onActive: func(bool) {},
		onError:  func(error) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue never blocks on playback. It returns the sequence number assigned
// to the chunk, or 0 once the scheduler is closed.
func (s *Scheduler) Enqueue(samples []float32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	s.seq++
	chunk := Chunk{Seq: s.seq, Samples: samples}

	if s.active {
		s.queue = append(s.queue, chunk)
		return chunk.Seq
	}

	s.active = true
	s.onActive(true)
	s.wg.Add(1)
	go s.drain(chunk)

	return chunk.Seq
}

func (s *Scheduler) drain(chunk Chunk) {
	defer s.wg.Done()

	for {
		if err := s.out.Play(s.ctx, chunk.Samples); err != nil {
			s.mu.Lock()
			s.queue = nil
			s.active = false
			s.onActive(false)
			closed := s.closed
			s.mu.Unlock()

			if !closed && s.ctx.Err() == nil {
				s.onError(&DeviceError{Op: "play", Err: err})
			}
			return
		}

		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.active = false
			s.onActive(false)
			s.mu.Unlock()
			return
		}
		chunk = s.queue[0]
		s.queue[0] = Chunk{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
	}
}

// Active reports whether a chunk is currently playing.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Pending is the number of chunks waiting behind the playing one.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close discards queued chunks, interrupts the playing one and waits for
// the worker to exit. It is safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
