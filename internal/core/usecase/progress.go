package usecase

import (
	"sync"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

// progressFeed hands snapshots to a single delivery goroutine in the order
// they were pushed. push never waits on delivery.
type progressFeed struct {
	deliver func(domain.BatchSnapshot)

	mu     sync.Mutex
	queue  []domain.BatchSnapshot
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

func newProgressFeed(deliver func(domain.BatchSnapshot)) *progressFeed {
	f := &progressFeed{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *progressFeed) push(snapshot domain.BatchSnapshot) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, snapshot)
	f.mu.Unlock()
	f.signal()
}

// close stops accepting snapshots and returns once the queued ones are delivered.
func (f *progressFeed) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.signal()
	<-f.stopped
}

func (f *progressFeed) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *progressFeed) loop() {
	defer close(f.stopped)
	for {
		f.mu.Lock()
		pending := f.queue
		f.queue = nil
		closed := f.closed
		f.mu.Unlock()

		for _, snapshot := range pending {
			f.deliver(snapshot)
		}
		if len(pending) > 0 {
			continue
		}
		if closed {
			return
		}
		<-f.wake
	}
}
