package engine

import (
	"context"
	"sort"
	"testing"

	"github.com/petrijr/chatflow/pkg/api"
)

func noopExecutor() api.Executor {
	return api.ExecutorFunc(func(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
		return nil, nil
	})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("custom", noopExecutor()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Get("custom"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("custom", noopExecutor()); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := r.Register("custom", noopExecutor()); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Fatal("expected error for unknown step type")
	}
}

func TestEngine_BuiltinsRegistered(t *testing.T) {
	e, _, _ := newTestEngine(t, okProcessor, okRunner)
	got := e.Registry().Types()
	sort.Strings(got)
	want := []string{StepTypeAction, StepTypeNLP, StepTypeNotification, StepTypeValidation}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("Types() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Types() = %v, want %v", got, want)
		}
	}
}
