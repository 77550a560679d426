package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events when the buffer is full instead of blocking
	// the caller.
	DropIfFull bool
	// SinkTimeout bounds each Sink.Emit call. Zero means no bound.
	SinkTimeout time.Duration
	// Logger receives drop warnings and sink panics.
	Logger *slog.Logger
}

// Dispatcher forwards audit events to a sink from a single goroutine, so the
// sink sees events in emit order.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	queue     chan Event
	stop      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg.Enabled is
// false; every method is safe on a nil dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

// deliver isolates the loop from a panicking or slow sink.
func (d *Dispatcher) deliver(ev Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			if d.cfg.Logger != nil {
				d.cfg.Logger.Error("audit sink panicked",
					slog.String("event_type", ev.EventType),
					slog.Any("panic", r),
				)
			}
		}
	}()
	d.sink.Emit(ctx, ev)
}

// Emit queues ev. With DropIfFull it never blocks; otherwise it waits for
// buffer space until ctx is done. Either way an event that is not queued is
// counted in Dropped.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.drop()
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.drop()
	case <-d.stop:
	}
}

func (d *Dispatcher) drop() {
	n := d.dropped.Add(1)
	if (n == 1 || n%1024 == 0) && d.cfg.Logger != nil {
		d.cfg.Logger.Warn("audit event dropped", slog.Uint64("dropped_total", n))
	}
}

// Close stops accepting events, delivers what is buffered and waits for the
// worker to exit.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped reports events that were never queued.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed reports events whose sink call panicked.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
