package sequencer

import (
	"sync"
	"time"
)

// AfterFunc schedules f after d and returns a stop func, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func RealTimers(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Player emits steps in list order. A step whose offset is behind the one
// before it fires right after it.
type Player struct {
	after AfterFunc
}

func NewPlayer(after AfterFunc) *Player {
	if after == nil {
		after = RealTimers
	}
	return &Player{after: after}
}

type Playback struct {
	mu      sync.Mutex
	stopped bool
	stop    func() bool
	done    chan struct{}
}

// Stop drops the steps that did not fire yet.
func (pb *Playback) Stop() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if pb.stopped {
		return
	}
	pb.stopped = true
	if pb.stop != nil {
		pb.stop()
	}
	close(pb.done)
}

// Done is closed after the last step or Stop.
func (pb *Playback) Done() <-chan struct{} {
	return pb.done
}

func (p *Player) Play(steps []Step, emit func(i int, s Step)) *Playback {
	pb := &Playback{done: make(chan struct{})}

	var next func(i int, at time.Duration)
	next = func(i int, at time.Duration) {
		pb.mu.Lock()
		if pb.stopped {
			pb.mu.Unlock()
			return
		}
		if i >= len(steps) {
			pb.stopped = true
			close(pb.done)
			pb.mu.Unlock()
			return
		}
		pb.mu.Unlock()

		step := steps[i]
		d := step.Offset - at
		if d < 0 {
			d = 0
		}

		stop := p.after(d, func() {
			pb.mu.Lock()
			stopped := pb.stopped
			pb.mu.Unlock()
			if stopped {
				return
			}

			emit(i, step)

			if step.Offset > at {
				next(i+1, step.Offset)
			} else {
				next(i+1, at)
			}
		})

		pb.mu.Lock()
		if !pb.stopped {
			pb.stop = stop
		}
		pb.mu.Unlock()
	}

	next(0, 0)

	return pb
}
