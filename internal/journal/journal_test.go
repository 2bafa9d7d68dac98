package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/chatflow/internal/dispatch"
	"github.com/petrijr/chatflow/internal/queue"
	"github.com/petrijr/chatflow/pkg/api"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_AppendAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, api.EventWorkflowStarted, map[string]any{
		"execution_id": "x-1",
		"category":     "action",
	}))
	require.NoError(t, j.Append(ctx, api.EventStepCompleted, map[string]any{
		"execution_id": "x-1",
		"step_id":      "nlp_processing",
	}))
	require.NoError(t, j.Append(ctx, api.EventWorkflowStarted, map[string]any{
		"execution_id": "x-other",
	}))

	entries, err := j.List(ctx, "x-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, api.EventWorkflowStarted, entries[0].EventType)
	assert.Equal(t, "action", entries[0].Data["category"])
	assert.Equal(t, api.EventStepCompleted, entries[1].EventType)
	assert.Equal(t, "nlp_processing", entries[1].Data["step_id"])
	assert.False(t, entries[0].At.IsZero())
	assert.False(t, entries[0].At.After(entries[1].At))
}

func TestJournal_ListUnknownExecution(t *testing.T) {
	j := openTestJournal(t)
	entries, err := j.List(context.Background(), "never-ran")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_RegisterRecordsDispatchedEvents(t *testing.T) {
	j := openTestJournal(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := queue.NewInMemoryBroker(logger)
	d := dispatch.New(broker, logger)
	j.Register(d)

	ctx := context.Background()
	require.NoError(t, d.Emit(ctx, api.EventWorkflowStarted, map[string]any{"execution_id": "x-2"}))
	require.NoError(t, d.Emit(ctx, api.EventWorkflowCompleted, map[string]any{"execution_id": "x-2"}))
	// Event types the journal does not subscribe to are not recorded.
	require.NoError(t, d.Emit(ctx, "some_other_event", map[string]any{"execution_id": "x-2"}))

	entries, err := j.List(ctx, "x-2")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, api.EventWorkflowStarted, entries[0].EventType)
	assert.Equal(t, api.EventWorkflowCompleted, entries[1].EventType)
}

func TestJournal_OpenInitializesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Append(context.Background(), api.EventWorkflowStarted, map[string]any{
		"execution_id": "x-3",
	}))
	require.NoError(t, j1.Close())

	// Reopening must keep the existing rows.
	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	entries, err := j2.List(context.Background(), "x-3")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
