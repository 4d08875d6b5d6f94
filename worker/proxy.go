package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/b1naryth1ef/seedmap"
	"github.com/b1naryth1ef/seedmap/protocol"
)

// ErrProxyClosed is returned by a closed proxy.
var ErrProxyClosed = errors.New("proxy closed")

// Proxy submits requests to a host and matches replies by request id.
// It is safe for concurrent use; each caller waits on its own promise.
type Proxy struct {
	host    *Host
	replies chan protocol.Response

	mu      sync.Mutex
	pending map[uuid.UUID]chan protocol.Response
	closed  bool

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// NewProxy creates a proxy with its own reply channel and dispatch loop.
func (h *Host) NewProxy() *Proxy {
	p := &Proxy{
		host:    h,
		replies: make(chan protocol.Response, 16),
		pending: make(map[uuid.UUID]chan protocol.Response),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     seedmap.Logger().With("subsystem", "proxy"),
	}
	go p.dispatch()
	return p
}

func (p *Proxy) dispatch() {
	defer close(p.done)
	for {
		select {
		case resp := <-p.replies:
			p.mu.Lock()
			promise, ok := p.pending[resp.ID]
			delete(p.pending, resp.ID)
			p.mu.Unlock()

			if !ok {
				p.log.Debug("late reply released", "request", resp.ID)
				resp.Release()
				continue
			}
			promise <- resp
		case <-p.quit:
			for {
				select {
				case resp := <-p.replies:
					resp.Release()
				default:
					return
				}
			}
		}
	}
}

// Submit sends req to the host and waits for its response. A cancelled
// ctx abandons the wait; the host still runs the request and its payloads
// are released when the reply arrives.
func (p *Proxy) Submit(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Reply = p.replies
	req.Done = p.quit

	promise := make(chan protocol.Response, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return protocol.Response{}, ErrProxyClosed
	}
	p.pending[req.ID] = promise
	p.mu.Unlock()

	if err := p.host.enqueue(ctx, req); err != nil {
		p.forget(req.ID)
		return protocol.Response{}, err
	}

	select {
	case resp := <-promise:
		return resp, nil
	case <-ctx.Done():
		if !p.forget(req.ID) {
			// The reply won the race and is already on its way.
			(<-promise).Release()
		}
		return protocol.Response{}, ctx.Err()
	case <-p.host.done:
		if !p.forget(req.ID) {
			// Dispatched before the host stopped, possibly as a drained
			// ErrHostClosed reply.
			return <-promise, nil
		}
		return protocol.Response{}, ErrHostClosed
	case <-p.quit:
		if !p.forget(req.ID) {
			(<-promise).Release()
		}
		return protocol.Response{}, ErrProxyClosed
	}
}

// forget drops a pending promise and reports whether it was still pending.
func (p *Proxy) forget(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	delete(p.pending, id)
	return ok
}

// Pending returns the number of requests awaiting a reply.
func (p *Proxy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Sequence starts a batch of actions submitted through this proxy.
func (p *Proxy) Sequence() *protocol.Sequence {
	return protocol.NewSequence(p)
}

func (p *Proxy) Setup(ctx context.Context, opts seedmap.SetupOptions) error {
	seq := p.Sequence()
	seq.Setup(opts)
	return single(seq.Exec(ctx))
}

func (p *Proxy) Render(ctx context.Context, params seedmap.RenderParams) error {
	seq := p.Sequence()
	seq.Render(params)
	return single(seq.Exec(ctx))
}

func (p *Proxy) IsReady(ctx context.Context, seed string) (bool, error) {
	seq := p.Sequence()
	ready := seq.IsReady(seed)
	if err := single(seq.Exec(ctx)); err != nil {
		return false, err
	}
	return ready.Value(), nil
}

func (p *Proxy) Clear(ctx context.Context) error {
	seq := p.Sequence()
	seq.Clear()
	return single(seq.Exec(ctx))
}

func (p *Proxy) CopyBytes(ctx context.Context, opts seedmap.EncodeOptions) ([]byte, error) {
	seq := p.Sequence()
	data := seq.CopyBytes(opts)
	if err := single(seq.Exec(ctx)); err != nil {
		return nil, err
	}
	return data.Value(), nil
}

// TransferBitmap moves the host's surface into a bitmap owned by the
// caller, who must Release it.
func (p *Proxy) TransferBitmap(ctx context.Context) (*seedmap.Bitmap, error) {
	seq := p.Sequence()
	bmp := seq.TransferBitmap()
	if err := single(seq.Exec(ctx)); err != nil {
		return nil, err
	}
	return bmp.Value(), nil
}

// single unwraps the ActionError of a one-action sequence.
func single(err error) error {
	var ae *protocol.ActionError
	if errors.As(err, &ae) {
		return ae.Err
	}
	return err
}

// Close stops the dispatch loop. In-flight replies are released by the host.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.quit)
	})
	<-p.done
	return nil
}
