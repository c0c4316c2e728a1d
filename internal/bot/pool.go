package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Handler turns an event into a reply.
type Handler interface {
	Handle(ctx context.Context, ev Event) Reply
}

// Responder delivers a reply for the event it belongs to.
type Responder func(ctx context.Context, ev Event, r Reply)

type job struct {
	ev      Event
	respond Responder
}

// Pool runs handlers on a fixed set of shards. Events of one owner always
// land on the same shard, so they are handled one at a time in arrival order;
// different owners proceed in parallel.
type Pool struct {
	handler Handler
	logger  *zap.Logger
	shards  []chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers, queue int, h Handler, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{handler: h, logger: logger, shards: make([]chan job, workers)}
	for i := range p.shards {
		p.shards[i] = make(chan job, queue)
	}
	return p
}

// Start launches one goroutine per shard. Handlers get ctx.
func (p *Pool) Start(ctx context.Context) {
	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.work(ctx, i, ch)
	}
}

// Submit queues ev on its owner's shard, blocking while that shard is full.
func (p *Pool) Submit(ctx context.Context, ev Event, respond Responder) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.shards[p.shardOf(ev.OwnerID)] <- job{ev: ev, respond: respond}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting events, drains the queues and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) shardOf(owner int64) int {
	return int(uint64(owner) % uint64(len(p.shards)))
}

func (p *Pool) work(ctx context.Context, shard int, ch <-chan job) {
	defer p.wg.Done()
	for j := range ch {
		p.run(ctx, shard, j)
	}
}

func (p *Pool) run(ctx context.Context, shard int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panic",
				zap.Int("shard", shard),
				zap.Int64("owner", j.ev.OwnerID),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
			if j.respond != nil {
				j.respond(ctx, j.ev, Reply{Text: "Something went wrong. Please try again.", Actions: MainMenu})
			}
		}
	}()

	reply := p.handler.Handle(ctx, j.ev)
	if j.respond != nil {
		j.respond(ctx, j.ev, reply)
	}
}
