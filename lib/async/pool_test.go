package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolExecutesTasks(t *testing.T) {
	p, err := NewPool(4, 16)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()
	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if ran.Load() != 10 {
		t.Fatalf("expected 10 runs, got %d", ran.Load())
	}
}

func TestPoolRejectsNilTask(t *testing.T) {
	p, _ := NewPool(1, 1)
	defer p.Close()
	if err := p.Submit(context.Background(), nil); err == nil {
		t.Fatalf("expected nil task rejection")
	}
}

func TestPoolBackpressure(t *testing.T) {
	p, _ := NewPool(1, 0)
	defer p.Close()
	block := make(chan struct{})
	_ = p.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	})
	// Worker busy and no queue slots: the next submit must fail fast.
	var saturated bool
	for i := 0; i < 10; i++ {
		if err := p.Submit(context.Background(), func(context.Context) error { return nil }); err != nil {
			saturated = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(block)
	if !saturated {
		t.Fatalf("expected pool saturation error")
	}
}

func TestPoolClosedRejectsSubmit(t *testing.T) {
	p, _ := NewPool(1, 1)
	p.Close()
	if err := p.Submit(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected closed pool rejection")
	}
}

func TestPoolShutdownWaitsForTasks(t *testing.T) {
	p, _ := NewPool(2, 4)
	var done atomic.Bool
	_ = p.Submit(context.Background(), func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !done.Load() {
		t.Fatalf("shutdown returned before task completion")
	}
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p, _ := NewPool(1, 2)
	defer p.Close()
	_ = p.Submit(context.Background(), func(context.Context) error {
		panic("boom")
	})
	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	deadline := time.After(time.Second)
	for {
		err := p.Submit(context.Background(), func(context.Context) error {
			defer wg.Done()
			ran.Store(true)
			return nil
		})
		if err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pool never recovered: %v", err)
		case <-time.After(5 * time.Millisecond):
		}
	}
	wg.Wait()
	if !ran.Load() {
		t.Fatalf("worker died after panic")
	}
}

func TestPoolSubmitDuringClose(t *testing.T) {
	// Submissions racing Close must fail cleanly, never panic on the
	// closed job channel.
	for i := 0; i < 100; i++ {
		p, err := NewPool(2, 4)
		if err != nil {
			t.Fatalf("NewPool: %v", err)
		}
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = p.Submit(context.Background(), func(context.Context) error { return nil })
				}
			}
		}()
		p.Close()
		close(stop)
		wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := p.Shutdown(ctx); err != nil {
			cancel()
			t.Fatalf("Shutdown: %v", err)
		}
		cancel()
	}
}
