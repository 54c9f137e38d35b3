package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddTask(t *testing.T) {
	s := NewScheduler(time.Minute)
	noop := TaskHandlerFunc(func(ctx context.Context) error { return nil })

	if err := s.AddTask("alpha", "0 */5 * * * *", noop); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	t.Run("duplicate name rejected", func(t *testing.T) {
		if err := s.AddTask("alpha", "0 */5 * * * *", noop); err == nil {
			t.Error("Expected error for duplicate task name")
		}
	})

	t.Run("invalid cron spec rejected", func(t *testing.T) {
		if err := s.AddTask("beta", "not a schedule", noop); err == nil {
			t.Error("Expected error for invalid cron spec")
		}
	})

	t.Run("nil handler rejected", func(t *testing.T) {
		if err := s.AddTask("gamma", "0 */5 * * * *", nil); err == nil {
			t.Error("Expected error for nil handler")
		}
	})
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler(time.Minute)

	var runs int64
	ok := TaskHandlerFunc(func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	failing := TaskHandlerFunc(func(ctx context.Context) error {
		return errors.New("boom")
	})
	skipping := TaskHandlerFunc(func(ctx context.Context) error {
		return ErrSkipped
	})

	for name, handler := range map[string]TaskHandler{
		"ok": ok, "failing": failing, "skipping": skipping,
	} {
		if err := s.AddTask(name, "0 0 0 1 1 *", handler); err != nil {
			t.Fatalf("AddTask %s failed: %v", name, err)
		}
	}

	t.Run("successful run", func(t *testing.T) {
		if err := s.RunNow("ok"); err != nil {
			t.Fatalf("RunNow failed: %v", err)
		}
		if atomic.LoadInt64(&runs) != 1 {
			t.Errorf("Expected 1 run, got %d", runs)
		}
		task, err := s.GetTask("ok")
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if task.Status != TaskStatusCompleted || task.Runs != 1 || task.Failures != 0 {
			t.Errorf("Unexpected task state: %+v", task)
		}
		if task.LastSuccess.IsZero() {
			t.Error("Expected LastSuccess to be set")
		}
	})

	t.Run("failed run", func(t *testing.T) {
		if err := s.RunNow("failing"); err == nil {
			t.Fatal("Expected RunNow to surface the failure")
		}
		task, _ := s.GetTask("failing")
		if task.Status != TaskStatusFailed || task.Failures != 1 {
			t.Errorf("Unexpected task state: %+v", task)
		}
		if task.LastError != "boom" {
			t.Errorf("Expected last error 'boom', got %q", task.LastError)
		}
	})

	t.Run("skipped run is not a failure", func(t *testing.T) {
		if err := s.RunNow("skipping"); err != nil {
			t.Fatalf("Skip must not be an error: %v", err)
		}
		task, _ := s.GetTask("skipping")
		if task.Status != TaskStatusSkipped || task.Skips != 1 || task.Failures != 0 {
			t.Errorf("Unexpected task state: %+v", task)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		if err := s.RunNow("missing"); err == nil {
			t.Error("Expected error for unknown task")
		}
	})
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler(time.Minute)
	panicking := TaskHandlerFunc(func(ctx context.Context) error {
		panic("kaboom")
	})
	if err := s.AddTask("panicking", "0 0 0 1 1 *", panicking); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	err := s.RunNow("panicking")
	if err == nil {
		t.Fatal("Expected panic to surface as an error")
	}
	if !strings.Contains(err.Error(), "panicked") {
		t.Errorf("Expected panic error, got %v", err)
	}

	task, _ := s.GetTask("panicking")
	if task.Status != TaskStatusFailed {
		t.Errorf("Expected failed status, got %s", task.Status)
	}
}

func TestSchedulerTaskTimeout(t *testing.T) {
	s := NewScheduler(20 * time.Millisecond)
	blocked := TaskHandlerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.AddTask("blocked", "0 0 0 1 1 *", blocked); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	if err := s.RunNow("blocked"); err == nil {
		t.Fatal("Expected the run to fail on timeout")
	}
	task, _ := s.GetTask("blocked")
	if task.Status != TaskStatusFailed {
		t.Errorf("Expected failed status, got %s", task.Status)
	}
}

func TestSchedulerListTasks(t *testing.T) {
	s := NewScheduler(time.Minute)
	noop := TaskHandlerFunc(func(ctx context.Context) error { return nil })

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.AddTask(name, "0 */5 * * * *", noop); err != nil {
			t.Fatalf("AddTask %s failed: %v", name, err)
		}
	}

	tasks := s.ListTasks()
	if len(tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(tasks))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if tasks[i].Name != want {
			t.Errorf("Expected %s at %d, got %s", want, i, tasks[i].Name)
		}
		if tasks[i].Status != TaskStatusPending {
			t.Errorf("Expected pending status, got %s", tasks[i].Status)
		}
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(time.Minute)

	var runs int64
	every := TaskHandlerFunc(func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err := s.AddTask("everysecond", "* * * * * *", every); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	s.Start()
	time.Sleep(1100 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt64(&runs) == 0 {
		t.Error("Expected at least one scheduled run")
	}
}
