// Package worker runs a rendering manager on a dedicated OS thread and
// gives callers a proxy that batches operations into requests.
package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/b1naryth1ef/seedmap"
	"github.com/b1naryth1ef/seedmap/protocol"
)

// DefaultQueueSize is the number of requests buffered by the host inbox.
const DefaultQueueSize = 64

// ErrHostClosed is returned for requests submitted to a closed host.
var ErrHostClosed = errors.New("worker host closed")

// HandlerFactory builds the handler inside the host goroutine.
type HandlerFactory func(seedmap.ManagerOptions) (protocol.Handler, error)

// HostOptions configures Spawn.
type HostOptions struct {
	Manager seedmap.ManagerOptions

	// NewHandler defaults to building a *seedmap.Manager.
	NewHandler HandlerFactory

	QueueSize int

	// Registerer receives the host metrics. Nil skips registration. Hosts
	// given the same Registerer count into the same collectors.
	Registerer prometheus.Registerer
}

// initMessage is the first message a host goroutine receives.
type initMessage struct {
	opts       seedmap.ManagerOptions
	newHandler HandlerFactory
	reply      chan error
}

// Host owns one handler and executes requests against it in arrival order.
type Host struct {
	init  chan initMessage
	inbox chan protocol.Request
	quit  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	metrics   *Metrics
	log       *slog.Logger
}

func newManagerHandler(opts seedmap.ManagerOptions) (protocol.Handler, error) {
	return seedmap.NewManager(opts)
}

// Spawn starts a host and waits until its handler has been created.
func Spawn(opts HostOptions) (*Host, error) {
	if opts.NewHandler == nil {
		opts.NewHandler = newManagerHandler
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	h := &Host{
		init:    make(chan initMessage),
		inbox:   make(chan protocol.Request, opts.QueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		metrics: NewMetrics(opts.Registerer),
		log:     seedmap.Logger().With("subsystem", "worker"),
	}
	go h.run()

	msg := initMessage{opts: opts.Manager, newHandler: opts.NewHandler, reply: make(chan error, 1)}
	h.init <- msg
	if err := <-msg.reply; err != nil {
		<-h.done
		return nil, err
	}
	return h, nil
}

func (h *Host) run() {
	// The rendering context belongs to this thread for its whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.done)

	msg := <-h.init
	handler, err := msg.newHandler(msg.opts)
	if err != nil {
		h.log.Error("handler initialization failed", "error", err)
		msg.reply <- err
		return
	}
	msg.reply <- nil
	h.log.Info("host started")

	defer func() {
		if c, ok := handler.(io.Closer); ok {
			if err := c.Close(); err != nil {
				h.log.Warn("handler close failed", "error", err)
			}
		}
		h.log.Info("host stopped")
	}()

	for {
		select {
		case req := <-h.inbox:
			h.serve(handler, req)
		case <-h.quit:
			h.drain()
			return
		}
	}
}

func (h *Host) serve(handler protocol.Handler, req protocol.Request) {
	resp := protocol.Run(handler, req)
	h.metrics.observe(req, resp)
	if s, ok := handler.(interface{ Stats() seedmap.Stats }); ok {
		h.metrics.observeStats(s.Stats())
	}
	h.log.Debug("request served", "request", req.ID, "actions", len(req.Actions), "duration", resp.Duration)
	h.reply(req, resp)
}

// drain fails every request still queued at shutdown.
func (h *Host) drain() {
	for {
		select {
		case req := <-h.inbox:
			results := make([]protocol.Result, len(req.Actions))
			for i := range results {
				results[i] = protocol.Result{Err: ErrHostClosed}
			}
			h.reply(req, protocol.Response{ID: req.ID, Results: results})
		default:
			return
		}
	}
}

func (h *Host) reply(req protocol.Request, resp protocol.Response) {
	if req.Reply == nil {
		resp.Release()
		return
	}
	select {
	case req.Reply <- resp:
	case <-req.Done:
		h.log.Debug("reply dropped", "request", req.ID)
		resp.Release()
	}
}

// enqueue hands req to the host. It blocks while the inbox is full.
func (h *Host) enqueue(ctx context.Context, req protocol.Request) error {
	select {
	case <-h.quit:
		return ErrHostClosed
	default:
	}
	select {
	case h.inbox <- req:
		return nil
	case <-h.quit:
		return ErrHostClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics returns the host collectors.
func (h *Host) Metrics() *Metrics {
	return h.metrics
}

// Done is closed once the host goroutine has exited.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Close stops the host and closes its handler. Queued requests fail with
// ErrHostClosed.
func (h *Host) Close() error {
	h.closeOnce.Do(func() { close(h.quit) })
	<-h.done
	return nil
}
