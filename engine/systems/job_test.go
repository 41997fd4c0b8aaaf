package systems

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestJobSystemRunsAllJobs(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	if err != nil {
		t.Fatalf("new job system: %v", err)
	}

	var completed, failed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		fail := i%5 == 0
		err := js.Submit(JobTask{
			Name: "test",
			OnStart: func() (interface{}, error) {
				if fail {
					return nil, errors.New("boom")
				}
				return i, nil
			},
			OnComplete: func(interface{}) {
				completed.Add(1)
				wg.Done()
			},
			OnFailure: func(error) {
				failed.Add(1)
				wg.Done()
			},
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()

	if completed.Load() != 16 || failed.Load() != 4 {
		t.Errorf("completed=%d failed=%d", completed.Load(), failed.Load())
	}
	if err := js.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := js.Submit(JobTask{Name: "late"}); !errors.Is(err, ErrJobSystemClosed) {
		t.Errorf("submit after shutdown: got %v", err)
	}
	if err := js.Shutdown(); err != nil {
		t.Errorf("second shutdown must be a no-op, got %v", err)
	}
}

func TestNewJobSystemValidation(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("expected ErrNoWorkers, got %v", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Errorf("expected ErrNegativeChannelSize, got %v", err)
	}
}
