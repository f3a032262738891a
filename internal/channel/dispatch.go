package channel

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultMaxConcurrency = 4
	defaultQueueSize      = 16
	defaultIdleTimeout    = 5 * time.Minute
)

// DispatchOptions tunes per-conversation dispatch.
type DispatchOptions struct {
	// MaxConcurrency bounds how many conversations are handled at once.
	MaxConcurrency int
	// QueueSize is the per-conversation FIFO capacity. Messages beyond it are rejected.
	QueueSize int
	// IdleTimeout is how long a worker without pending messages lives.
	IdleTimeout time.Duration
}

func (o DispatchOptions) normalized() DispatchOptions {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	return o
}

type inboundTask struct {
	config  ChannelConfig
	message InboundMessage
}

// conversationWorker drains one conversation's queue in order.
// queue is guarded by dispatcher.mu; wake carries at most one pending signal.
type conversationWorker struct {
	queue []inboundTask
	wake  chan struct{}
}

// dispatcher runs one worker goroutine per active conversation. A shared
// semaphore bounds the number of conversations handled concurrently.
type dispatcher struct {
	logger *slog.Logger
	opts   DispatchOptions
	sem    chan struct{}

	handler InboundHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	workers map[string]*conversationWorker
}

func newDispatcher(log *slog.Logger, opts DispatchOptions) *dispatcher {
	opts = opts.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcher{
		logger:  log,
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxConcurrency),
		ctx:     ctx,
		cancel:  cancel,
		workers: map[string]*conversationWorker{},
	}
}

func (d *dispatcher) start(handler InboundHandler) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

// submit appends task to its conversation's queue without blocking. A full
// queue rejects the task with ErrQueueFull.
func (d *dispatcher) submit(task inboundTask) error {
	key := task.message.RoutingKey()

	d.mu.Lock()
	if d.closed || d.handler == nil {
		d.mu.Unlock()
		return ErrManagerStopped
	}
	w, ok := d.workers[key]
	if !ok {
		w = &conversationWorker{wake: make(chan struct{}, 1)}
		d.workers[key] = w
		d.wg.Add(1)
		go d.run(key, w)
	}
	if len(w.queue) >= d.opts.QueueSize {
		d.mu.Unlock()
		return ErrQueueFull
	}
	w.queue = append(w.queue, task)
	d.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// next pops the oldest queued task.
func (d *dispatcher) next(w *conversationWorker) (inboundTask, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(w.queue) == 0 {
		return inboundTask{}, false
	}
	task := w.queue[0]
	w.queue[0] = inboundTask{}
	w.queue = w.queue[1:]
	return task, true
}

func (d *dispatcher) run(key string, w *conversationWorker) {
	defer d.wg.Done()
	idle := time.NewTimer(d.opts.IdleTimeout)
	defer idle.Stop()
	for {
		if task, ok := d.next(w); ok {
			d.process(key, task)
			idle.Reset(d.opts.IdleTimeout)
			if d.ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case <-d.ctx.Done():
			return
		case <-w.wake:
		case <-idle.C:
			d.mu.Lock()
			if len(w.queue) == 0 {
				delete(d.workers, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.opts.IdleTimeout)
		}
	}
}

func (d *dispatcher) process(key string, task inboundTask) {
	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		return
	}
	defer func() { <-d.sem }()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("inbound handler panic",
				slog.String("route_key", key),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := d.handler(d.ctx, task.config, task.message); err != nil {
		d.logger.Error("inbound processing failed",
			slog.String("route_key", key),
			slog.String("channel", task.message.Channel.String()),
			slog.Any("error", err),
		)
	}
}

func (d *dispatcher) activeWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// shutdown cancels dispatch and waits for running handlers. It returns the
// number of queued tasks that never started.
func (d *dispatcher) shutdown(ctx context.Context) (int, error) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return 0, fmt.Errorf("wait for inbound workers: %w", ctx.Err())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	dropped := 0
	for key, w := range d.workers {
		dropped += len(w.queue)
		delete(d.workers, key)
	}
	return dropped, nil
}
