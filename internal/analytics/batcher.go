package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("analytics batcher closed")

// Sink receives flushed batches.
type Sink interface {
	Write(ctx context.Context, events []Event) error
	Close() error
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Logger        *zap.Logger
}

// Batcher accumulates events and hands them to a sink when the buffer fills,
// when the flush interval elapses and once more on Close. Failed batches are
// logged and dropped.
type Batcher struct {
	sink   Sink
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	buf    []Event
	closed bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewBatcher(sink Sink, opts Options) *Batcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	b := &Batcher{
		sink:   sink,
		opts:   opts,
		logger: opts.Logger,
		buf:    make([]Event, 0, opts.BatchSize),
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

// Track buffers events. It never blocks on the sink.
func (b *Batcher) Track(events ...Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.buf = append(b.buf, events...)
	full := len(b.buf) >= b.opts.BatchSize
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of buffered events.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *Batcher) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.kick:
			b.flush()
		case <-b.stop:
			b.flush()
			return
		}
	}
}

func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buf
	b.buf = make([]Event, 0, b.opts.BatchSize)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.WriteTimeout)
	defer cancel()
	if err := b.sink.Write(ctx, batch); err != nil {
		b.logger.Warn("analytics flush failed, dropping batch", zap.Int("events", len(batch)), zap.Error(err))
		return
	}
	b.logger.Debug("analytics batch flushed", zap.Int("events", len(batch)))
}

// Close stops the flush loop, flushes what remains and closes the sink.
func (b *Batcher) Close() error {
	var err error
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		close(b.stop)
		<-b.done
		err = b.sink.Close()
	})
	return err
}
