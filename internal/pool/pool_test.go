package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapPreservesOrder(t *testing.T) {
	got, err := Map(context.Background(), 4, 20, func(ctx context.Context, i int) (string, error) {
		// Later tasks finish first.
		time.Sleep(time.Duration(20-i) * time.Millisecond / 4)
		return fmt.Sprintf("task-%d", i), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range got {
		if want := fmt.Sprintf("task-%d", i); s != want {
			t.Errorf("index %d: want %q, got %q", i, want, s)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		n     int
		want  int32
	}{
		{"limit below n", 3, 12, 3},
		{"n below limit", 8, 2, 2},
		{"zero limit runs sequentially", 0, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var current, peak int32
			err := Run(context.Background(), tt.limit, tt.n, func(ctx context.Context, i int) error {
				c := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if c <= p || atomic.CompareAndSwapInt32(&peak, p, c) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if peak > tt.want {
				t.Errorf("want at most %d concurrent tasks, saw %d", tt.want, peak)
			}
		})
	}
}

func TestRunStopsAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	var started int32
	err := Run(context.Background(), 1, 10, func(ctx context.Context, i int) error {
		atomic.AddInt32(&started, 1)
		if i == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if started != 3 {
		t.Errorf("want 3 tasks started before stopping, got %d", started)
	}
}

func TestRunReturnsLowestIndexError(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	release := make(chan struct{})
	err := Run(context.Background(), 2, 2, func(ctx context.Context, i int) error {
		if i == 1 {
			defer close(release)
			return second
		}
		<-release
		return first
	})
	if !errors.Is(err, first) {
		t.Errorf("want lowest-index error, got %v", err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, 2, 3, func(ctx context.Context, i int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestMapEmpty(t *testing.T) {
	got, err := Map(context.Background(), 2, 0, func(ctx context.Context, i int) (int, error) { return i, nil })
	if err != nil || len(got) != 0 {
		t.Errorf("want empty result, got %v, %v", got, err)
	}
}
