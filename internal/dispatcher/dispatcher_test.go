package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// TestDispatcherRunStartsDuties ensures every duty begins and stops on cancel.
func TestDispatcherRunStartsDuties(t *testing.T) {
	t.Parallel()

	started := make(chan string, 2)
	var stopped atomic.Int32
	loop := func(name string) Duty {
		return Duty{Name: name, Runner: RunnerFunc(func(ctx context.Context) {
			started <- name
			<-ctx.Done()
			stopped.Add(1)
		})}
	}
	dispatch := New(nil, loop("reaper"), loop("throughput"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	seen := map[string]bool{}
	for range 2 {
		select {
		case name := <-started:
			seen[name] = true
		case <-time.After(time.Second):
			t.Fatal("duty did not start")
		}
	}
	if !seen["reaper"] || !seen["throughput"] {
		t.Fatalf("expected both duties to start, got %v", seen)
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	if got := stopped.Load(); got != 2 {
		t.Fatalf("expected 2 duties stopped, got %d", got)
	}
}

// TestDispatcherSurvivesPanickingDuty verifies one failing duty leaves the rest running.
func TestDispatcherSurvivesPanickingDuty(t *testing.T) {
	t.Parallel()

	alive := make(chan struct{}, 1)
	dispatch := New(nil,
		Duty{Name: "broken", Runner: RunnerFunc(func(context.Context) { panic("boom") })},
		Duty{Name: "healthy", Runner: RunnerFunc(func(ctx context.Context) {
			alive <- struct{}{}
			<-ctx.Done()
		})},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-alive:
	case <-time.After(time.Second):
		t.Fatal("healthy duty did not start")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	d := New(nil, Duty{Name: "a"}, Duty{Name: "b"})
	if got := d.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected names %v", got)
	}
}
