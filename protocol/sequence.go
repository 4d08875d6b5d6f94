package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/b1naryth1ef/seedmap"
)

// ActionError reports the first failed action of a sequence.
type ActionError struct {
	Index int
	Kind  Kind
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.Index, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Ref is a placeholder for the value of one queued action. It is filled
// by a successful Exec.
type Ref[T any] struct {
	value    T
	resolved bool
}

// Value returns the action's return value, or the zero value when the
// sequence has not run or failed before reaching the action.
func (r *Ref[T]) Value() T { return r.value }

// Resolved reports whether the action ran and succeeded.
func (r *Ref[T]) Resolved() bool { return r.resolved }

func (r *Ref[T]) resolve(v any) error {
	if v == nil {
		r.resolved = true
		return nil
	}
	t, ok := v.(T)
	if !ok {
		return fmt.Errorf("%w: result is %T, want %T", ErrBadArguments, v, r.value)
	}
	r.value, r.resolved = t, true
	return nil
}

type resolver interface {
	resolve(v any) error
}

// Sequence queues actions and submits them as a single request.
type Sequence struct {
	sub         Submitter
	actions     []Action
	refs        []resolver
	stopOnError bool
	consumed    bool
}

// NewSequence starts an empty sequence bound to sub.
func NewSequence(sub Submitter) *Sequence {
	return &Sequence{sub: sub}
}

// StopOnError makes the host skip the actions after the first failure.
func (s *Sequence) StopOnError() *Sequence {
	s.stopOnError = true
	return s
}

// Len returns the number of queued actions.
func (s *Sequence) Len() int { return len(s.actions) }

func (s *Sequence) Setup(opts seedmap.SetupOptions) *Ref[struct{}] {
	return push[struct{}](s, Action{Kind: KindSetup, Args: opts})
}

func (s *Sequence) Render(p seedmap.RenderParams) *Ref[struct{}] {
	return push[struct{}](s, Action{Kind: KindRender, Args: p})
}

func (s *Sequence) IsReady(seed string) *Ref[bool] {
	return push[bool](s, Action{Kind: KindIsReady, Args: seed})
}

func (s *Sequence) Clear() *Ref[struct{}] {
	return push[struct{}](s, Action{Kind: KindClear})
}

func (s *Sequence) CopyBytes(opts seedmap.EncodeOptions) *Ref[[]byte] {
	return push[[]byte](s, Action{Kind: KindCopyBytes, Args: opts})
}

// TransferBitmap queues a bitmap transfer. The caller owns the bitmap once
// the sequence succeeds and must Release it.
func (s *Sequence) TransferBitmap() *Ref[*seedmap.Bitmap] {
	return push[*seedmap.Bitmap](s, Action{Kind: KindTransferBitmap})
}

func push[T any](s *Sequence, a Action) *Ref[T] {
	ref := &Ref[T]{}
	s.actions = append(s.actions, a)
	s.refs = append(s.refs, ref)
	return ref
}

// Exec submits the queued actions and resolves their refs in order. It
// returns an *ActionError for the first failed action; refs after it stay
// unresolved and their payloads are released.
func (s *Sequence) Exec(ctx context.Context) error {
	if s.consumed {
		return ErrSequenceConsumed
	}
	s.consumed = true
	if len(s.actions) == 0 {
		return nil
	}

	resp, err := s.sub.Submit(ctx, Request{
		ID:          uuid.New(),
		Actions:     s.actions,
		StopOnError: s.stopOnError,
	})
	if err != nil {
		return err
	}
	if len(resp.Results) != len(s.actions) {
		resp.Release()
		return &seedmap.RuntimeError{
			Subsystem: "protocol",
			Err:       fmt.Errorf("%d results for %d actions", len(resp.Results), len(s.actions)),
		}
	}

	var first *ActionError
	for i, res := range resp.Results {
		if first != nil {
			res.Release()
			continue
		}
		if !res.OK {
			cause := res.Err
			if cause == nil {
				cause = errors.New("failed without an error")
			}
			first = &ActionError{Index: i, Kind: s.actions[i].Kind, Err: cause}
			continue
		}
		if err := s.refs[i].resolve(res.Value); err != nil {
			res.Release()
			first = &ActionError{Index: i, Kind: s.actions[i].Kind, Err: err}
		}
	}
	if first != nil {
		return first
	}
	return nil
}
