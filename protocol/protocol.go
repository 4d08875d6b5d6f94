// Package protocol defines the request/response messages exchanged between
// callers and the rendering host, and the Sequence builder that batches
// actions into one round trip.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/b1naryth1ef/seedmap"
)

// Kind identifies a manager operation.
type Kind uint8

const (
	KindSetup Kind = iota + 1
	KindRender
	KindIsReady
	KindClear
	KindCopyBytes
	KindTransferBitmap
)

// Kinds lists every known action kind.
var Kinds = []Kind{KindSetup, KindRender, KindIsReady, KindClear, KindCopyBytes, KindTransferBitmap}

func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindRender:
		return "render"
	case KindIsReady:
		return "isReady"
	case KindClear:
		return "clear"
	case KindCopyBytes:
		return "copyBytes"
	case KindTransferBitmap:
		return "transferBitmap"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

var (
	// ErrUnknownAction is returned for an action whose kind the host does
	// not understand.
	ErrUnknownAction = errors.New("unknown action")

	// ErrBadArguments is returned when an action carries arguments of the
	// wrong type for its kind.
	ErrBadArguments = errors.New("bad action arguments")

	// ErrSkipped is the result of actions not run because an earlier action
	// of a StopOnError request failed.
	ErrSkipped = errors.New("skipped after earlier failure")

	// ErrSequenceConsumed is returned by a second Exec of one Sequence.
	ErrSequenceConsumed = errors.New("sequence already executed")
)

// Action is one operation with its arguments. Args is
// seedmap.SetupOptions, seedmap.RenderParams, a seed string,
// seedmap.EncodeOptions, or nil, depending on Kind.
type Action struct {
	Kind Kind
	Args any
}

// Result is the outcome of one action. Value holds the return value of
// isReady (bool), copyBytes ([]byte) and transferBitmap (*seedmap.Bitmap).
type Result struct {
	OK    bool
	Value any
	Err   error
}

// Release frees a transferable payload carried by the result.
func (r Result) Release() {
	if rel, ok := r.Value.(interface{ Release() }); ok {
		rel.Release()
	}
}

// Request is an ordered batch of actions. The host answers on Reply
// unless Done is closed first, in which case the response is released.
type Request struct {
	ID          uuid.UUID
	Actions     []Action
	StopOnError bool
	Reply       chan<- Response
	Done        <-chan struct{}
}

// Response carries one Result per action of the request, in order.
type Response struct {
	ID       uuid.UUID
	Results  []Result
	Duration time.Duration
}

// Release frees every transferable payload of the response.
func (r Response) Release() {
	for _, res := range r.Results {
		res.Release()
	}
}

// Handler executes manager operations. *seedmap.Manager implements it.
type Handler interface {
	Setup(seedmap.SetupOptions) error
	Render(seedmap.RenderParams) error
	IsReady(seed string) bool
	Clear() error
	CopyBytes(seedmap.EncodeOptions) ([]byte, error)
	TransferBitmap() (*seedmap.Bitmap, error)
}

var _ Handler = (*seedmap.Manager)(nil)

// Submitter delivers a request to a host and waits for its response.
type Submitter interface {
	Submit(ctx context.Context, req Request) (Response, error)
}

// Execute runs one action. Errors and panics become a failed Result whose
// error is tagged with the subsystem that produced it.
func Execute(h Handler, a Action) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(&seedmap.RuntimeError{
				Subsystem: "protocol",
				Err:       fmt.Errorf("%s panicked: %v", a.Kind, r),
			})
		}
		if !res.OK {
			res.Err = annotate(a.Kind, res.Err)
		}
	}()

	switch a.Kind {
	case KindSetup:
		opts, ok := a.Args.(seedmap.SetupOptions)
		if !ok {
			return badArgs(a)
		}
		return done(nil, h.Setup(opts))
	case KindRender:
		p, ok := a.Args.(seedmap.RenderParams)
		if !ok {
			return badArgs(a)
		}
		return done(nil, h.Render(p))
	case KindIsReady:
		seed, ok := a.Args.(string)
		if !ok {
			return badArgs(a)
		}
		return done(h.IsReady(seed), nil)
	case KindClear:
		return done(nil, h.Clear())
	case KindCopyBytes:
		var opts seedmap.EncodeOptions
		if a.Args != nil {
			o, ok := a.Args.(seedmap.EncodeOptions)
			if !ok {
				return badArgs(a)
			}
			opts = o
		}
		data, err := h.CopyBytes(opts)
		return done(data, err)
	case KindTransferBitmap:
		bmp, err := h.TransferBitmap()
		if err != nil {
			return failed(err)
		}
		return done(bmp, nil)
	default:
		return failed(&seedmap.RuntimeError{
			Subsystem: "protocol",
			Err:       fmt.Errorf("%w: %s", ErrUnknownAction, a.Kind),
		})
	}
}

// Run executes the actions of req in order and builds its Response. Every
// action runs even after a failure unless req.StopOnError is set, in which
// case the rest fail with ErrSkipped.
func Run(h Handler, req Request) Response {
	log := seedmap.Logger().With("subsystem", "protocol", "request", req.ID)
	start := time.Now()

	results := make([]Result, len(req.Actions))
	stopped := false
	for i, a := range req.Actions {
		if stopped {
			results[i] = failed(ErrSkipped)
			continue
		}
		res := Execute(h, a)
		if !res.OK {
			log.Warn("action failed", "index", i, "kind", a.Kind, "error", res.Err)
			stopped = req.StopOnError
		} else {
			log.Debug("action done", "index", i, "kind", a.Kind)
		}
		results[i] = res
	}

	return Response{ID: req.ID, Results: results, Duration: time.Since(start)}
}

func done(v any, err error) Result {
	if err != nil {
		return failed(err)
	}
	return Result{OK: true, Value: v}
}

func failed(err error) Result {
	return Result{Err: err}
}

// annotate tags err with the subsystem named by its typed error, falling
// back to the action kind.
func annotate(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	subsystem := kind.String()
	var ve *seedmap.ValidationError
	var re *seedmap.RuntimeError
	var rs *seedmap.ResourceError
	switch {
	case errors.As(err, &ve):
		subsystem = ve.Subsystem
	case errors.As(err, &re):
		subsystem = re.Subsystem
	case errors.As(err, &rs):
		subsystem = "gpu"
	}
	return seedmap.Annotate(subsystem, err)
}

func badArgs(a Action) Result {
	return failed(&seedmap.RuntimeError{
		Subsystem: "protocol",
		Err:       fmt.Errorf("%w: %s got %T", ErrBadArguments, a.Kind, a.Args),
	})
}
