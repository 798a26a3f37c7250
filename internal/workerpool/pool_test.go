package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunVisitsEveryIndex(t *testing.T) {
	tests := []struct {
		size int
		n    int
	}{
		{1, 10},
		{4, 10},
		{16, 3},
		{0, 5},
		{4, 0},
	}

	for _, tt := range tests {
		seen := make([]int32, tt.n)
		err := New(tt.size).Run(context.Background(), tt.n, func(ctx context.Context, i int) {
			atomic.AddInt32(&seen[i], 1)
		})
		if err != nil {
			t.Errorf("size=%d n=%d: unexpected error %v", tt.size, tt.n, err)
		}
		for i, c := range seen {
			if c != 1 {
				t.Errorf("size=%d n=%d: expected index %d visited once, got %d", tt.size, tt.n, i, c)
			}
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var running, peak int32
	err := New(3).Run(context.Background(), 20, func(ctx context.Context, i int) {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if peak > 3 {
		t.Errorf("Expected at most 3 concurrent jobs, got %d", peak)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var done int32
	err := New(1).Run(ctx, 100, func(ctx context.Context, i int) {
		if atomic.AddInt32(&done, 1) == 5 {
			cancel()
		}
	})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if done != 5 {
		t.Errorf("Expected 5 jobs before cancel, got %d", done)
	}
}

func TestMapKeepsIndexOrder(t *testing.T) {
	got, err := Map(context.Background(), New(4), 10, func(ctx context.Context, i int) (int, bool) {
		time.Sleep(time.Duration(10-i) * time.Millisecond)
		return i * i, i%2 == 0
	})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	want := []int{0, 4, 16, 36, 64}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}
