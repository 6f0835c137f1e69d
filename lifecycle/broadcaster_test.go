package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	bridgeerrors "github.com/wippyai/interop-bridge/errors"
)

// recorder appends every callback it receives to a shared journal.
type recorder struct {
	NopListener
	name    string
	journal *journal
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) take() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.entries
	j.entries = nil
	return out
}

func (r *recorder) OnPreInit(context.Context) error {
	r.journal.add("%s:pre-init", r.name)
	return nil
}

func (r *recorder) OnCompilationComplete(_ context.Context, success bool) error {
	r.journal.add("%s:compiled=%v", r.name, success)
	return nil
}

func (r *recorder) OnUpdate(_ context.Context, frame uint64) error {
	r.journal.add("%s:update %d", r.name, frame)
	return nil
}

func (r *recorder) OnShutdown(context.Context) error {
	r.journal.add("%s:shutdown", r.name)
	return nil
}

// staged subscribes to a fixed set of stages.
type staged struct {
	recorder
	stages []int
	hook   func(stage int)
}

func (s *staged) Stages() []int { return s.stages }

func (s *staged) OnStage(_ context.Context, stage int) error {
	s.journal.add("%s:stage %d", s.name, stage)
	if s.hook != nil {
		s.hook(stage)
	}
	return nil
}

func TestBroadcaster_PhaseOrder(t *testing.T) {
	j := &journal{}
	b := NewBroadcaster()
	a := &recorder{name: "a", journal: j}
	c := &recorder{name: "c", journal: j}
	b.Add(a)
	b.Add(c)
	b.Add(a)

	ctx := context.Background()
	if err := b.PreInit(ctx); err != nil {
		t.Fatalf("PreInit: %v", err)
	}
	if err := b.CompilationComplete(ctx, true); err != nil {
		t.Fatalf("CompilationComplete: %v", err)
	}
	if err := b.Update(ctx, 7); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []string{
		"a:pre-init", "c:pre-init",
		"a:compiled=true", "c:compiled=true",
		"a:update 7", "c:update 7",
		"a:shutdown", "c:shutdown",
	}
	if diff := cmp.Diff(want, j.take()); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
	if got := len(b.Listeners()); got != 2 {
		t.Fatalf("duplicate Add registered twice: %d listeners", got)
	}
}

func TestBroadcaster_Stages(t *testing.T) {
	j := &journal{}
	b := NewBroadcaster()
	first := &staged{recorder: recorder{name: "first", journal: j}, stages: []int{5, 2, 5}}
	second := &staged{recorder: recorder{name: "second", journal: j}, stages: []int{5}}
	none := &staged{recorder: recorder{name: "none", journal: j}}
	plain := &recorder{name: "plain", journal: j}
	b.Add(first)
	b.Add(second)
	b.Add(none)
	b.Add(plain)

	// first removes second while stage 2 is being delivered.
	first.hook = func(stage int) {
		if stage == 2 {
			b.Remove(second)
		}
	}

	stages := b.CollectStages()
	if diff := cmp.Diff([]int{2, 5}, stages); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
	if got := len(b.Subscribers(5)); got != 2 {
		t.Fatalf("stage 5 has %d subscribers", got)
	}

	ctx := context.Background()
	for _, stage := range stages {
		if err := b.Stage(ctx, stage); err != nil {
			t.Fatalf("Stage(%d): %v", stage, err)
		}
	}

	want := []string{"first:stage 2", "first:stage 5"}
	if diff := cmp.Diff(want, j.take()); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
	if got := len(b.Subscribers(2)); got != 1 {
		t.Fatalf("stage 2 bucket changed: %d subscribers", got)
	}
	if diff := cmp.Diff([]int{2, 5}, b.Stages()); diff != "" {
		t.Fatalf("stage set changed after Remove (-want +got):\n%s", diff)
	}
}

func TestBroadcaster_AddAfterCollect(t *testing.T) {
	j := &journal{}
	b := NewBroadcaster()
	b.Add(&staged{recorder: recorder{name: "early", journal: j}, stages: []int{1}})
	b.CollectStages()

	late := &staged{recorder: recorder{name: "late", journal: j}, stages: []int{1, 3}}
	b.Add(late)
	if diff := cmp.Diff([]int{1, 3}, b.Stages()); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
	if err := b.Stage(context.Background(), 1); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if diff := cmp.Diff([]string{"early:stage 1", "late:stage 1"}, j.take()); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
	if !b.Remove(late) || b.Remove(late) {
		t.Fatal("Remove should report registration exactly once")
	}
}

type failing struct {
	NopListener
	err error
}

func (f *failing) OnPostInit(context.Context) error { return f.err }

type panicking struct{ NopListener }

func (*panicking) OnPostInit(context.Context) error { panic("boom") }

func TestBroadcaster_Isolation(t *testing.T) {
	j := &journal{}
	b := NewBroadcaster()
	cause := errors.New("listener broke")
	b.Add(&failing{err: cause})
	b.Add(&panicking{})
	after := &postInit{recorder: recorder{name: "after", journal: j}}
	b.Add(after)

	err := b.PostInit(context.Background())
	if err == nil {
		t.Fatal("expected the failures to be reported")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("got %d errors, want 2: %v", got, err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
	if !errors.Is(err, bridgeerrors.ErrListener) {
		t.Fatalf("not a listener error: %v", err)
	}
	if diff := cmp.Diff([]string{"after:post-init"}, j.take()); diff != "" {
		t.Fatalf("later listener did not run (-want +got):\n%s", diff)
	}
}

type postInit struct{ recorder }

func (p *postInit) OnPostInit(context.Context) error {
	p.journal.add("%s:post-init", p.name)
	return nil
}

// tagged is a value listener whose type is not comparable.
type tagged struct {
	NopListener
	tags []string
}

func TestBroadcaster_RejectsUncomparableListener(t *testing.T) {
	b := NewBroadcaster()
	l := tagged{tags: []string{"x"}}
	if err := b.Add(l); !errors.Is(err, bridgeerrors.ErrInvalidInput) {
		t.Fatalf("Add(value with slice) = %v", err)
	}
	if err := b.Add(nil); !errors.Is(err, bridgeerrors.ErrInvalidInput) {
		t.Fatalf("Add(nil) = %v", err)
	}
	if b.Remove(l) {
		t.Fatal("Remove reported an uncomparable listener as registered")
	}
	if err := b.Add(&tagged{tags: []string{"x"}}); err != nil {
		t.Fatalf("Add(pointer) = %v", err)
	}
	if err := b.Add(NopListener{}); err != nil {
		t.Fatalf("Add(comparable value) = %v", err)
	}
	if got := len(b.Listeners()); got != 2 {
		t.Fatalf("got %d listeners, want 2", got)
	}
}
