package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.MaxWorkers != 8 {
		t.Errorf("Expected MaxWorkers to be 8, got %d", opts.MaxWorkers)
	}
}

func TestProcessParallel(t *testing.T) {
	ctx := context.Background()

	res := ProcessParallel(ctx, []int{}, DefaultOptions(), func(ctx context.Context, index int, item int) (string, error) {
		return "", nil
	})
	if len(res) != 0 {
		t.Errorf("Expected empty results for empty input, got %d items", len(res))
	}

	input := []int{1, 2, 3, 4, 5}
	res = ProcessParallel(ctx, input, DefaultOptions(), func(ctx context.Context, index int, item int) (string, error) {
		if item%2 == 0 {
			return "", errors.New("even number error")
		}
		return string(rune('a' + item - 1)), nil
	})
	if len(res) != len(input) {
		t.Fatalf("Expected %d results, got %d", len(input), len(res))
	}
	failed := 0
	for i, r := range res {
		if r.Err != nil {
			failed++
			if input[i]%2 != 0 {
				t.Errorf("Unexpected error at index %d", i)
			}
		}
	}
	if failed != 2 {
		t.Errorf("Expected 2 errors, got %d", failed)
	}
	if res[0].Value != "a" || res[4].Value != "e" {
		t.Errorf("Expected values in input order, got %q and %q", res[0].Value, res[4].Value)
	}
	if err := FirstError(res); err == nil || err.Error() != "even number error" {
		t.Errorf("Expected first error to be reported, got %v", err)
	}
}

func TestProcessParallelOrder(t *testing.T) {
	input := []int{5, 3, 1, 4, 2}
	res := ProcessParallel(context.Background(), input, ParallelOptions{MaxWorkers: 5}, func(ctx context.Context, index int, item int) (int, error) {
		time.Sleep(time.Duration(item) * 5 * time.Millisecond)
		return item, nil
	})
	for i, r := range res {
		if r.Value != input[i] {
			t.Errorf("Expected result at index %d to be %d, got %d", i, input[i], r.Value)
		}
	}
}

func TestProcessParallelBoundsWorkers(t *testing.T) {
	var running, peak int32
	input := make([]int, 20)
	ProcessParallel(context.Background(), input, ParallelOptions{MaxWorkers: 3}, func(ctx context.Context, index int, item int) (int, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return 0, nil
	})
	if peak > 3 {
		t.Errorf("Expected at most 3 concurrent workers, got %d", peak)
	}
}

func TestProcessParallelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int32
	res := ProcessParallel(ctx, []int{1, 2, 3}, DefaultOptions(), func(ctx context.Context, index int, item int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return item, nil
	})
	if calls != 0 {
		t.Errorf("Expected no calls with cancelled context, got %d", calls)
	}
	for i, r := range res {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("Expected context.Canceled at index %d, got %v", i, r.Err)
		}
	}
}
