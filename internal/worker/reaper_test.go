package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/models"
	"voxbill/backend/internal/queue"
	"voxbill/backend/internal/store"
)

func setupReaper(t *testing.T, maxAttempts int) (*Reaper, *jobs.Store, *queue.Memory, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.InitDB(dsn)
	require.NoError(t, err)
	js := jobs.NewStore(db)
	mem := queue.NewMemory(8)
	t.Cleanup(func() { mem.Close() })
	r := NewReaper(js, mem, time.Minute, time.Minute, maxAttempts, zerolog.Nop())
	return r, js, mem, db
}

func stuckRequest(t *testing.T, js *jobs.Store, db *gorm.DB, attempts int) models.Request {
	t.Helper()
	req, err := js.Create(1, "call.mp3")
	require.NoError(t, err)
	require.NoError(t, js.Transition(req.ID, models.StatusSubmitted, models.StatusDispatched))
	require.NoError(t, js.Transition(req.ID, models.StatusDispatched, models.StatusProcessing))
	require.NoError(t, db.Model(&models.Request{}).Where("id = ?", req.ID).
		Updates(map[string]any{
			"started_at":    time.Now().Add(-time.Hour),
			"attempt_count": attempts,
		}).Error)
	return req
}

func TestReaperRequeuesStuckRequest(t *testing.T) {
	r, js, mem, db := setupReaper(t, 3)
	req := stuckRequest(t, js, db, 1)

	r.Sweep(context.Background())

	got, err := js.Get(req.RequestID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDispatched, got.Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := mem.Consume(ctx)
	require.NoError(t, err)
	select {
	case d := <-ch:
		require.Equal(t, req.RequestID, d.RequestID)
		require.NoError(t, d.Ack())
	case <-time.After(time.Second):
		t.Fatal("no requeued message")
	}
}

func TestReaperAbandonsAfterMaxAttempts(t *testing.T) {
	r, js, _, db := setupReaper(t, 3)
	req := stuckRequest(t, js, db, 3)

	r.Sweep(context.Background())

	got, err := js.Get(req.RequestID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.FailReason)
	require.Contains(t, *got.FailReason, "deadline exceeded")
}

func TestReaperLeavesFreshProcessingAlone(t *testing.T) {
	r, js, _, _ := setupReaper(t, 3)
	req, err := js.Create(1, "call.mp3")
	require.NoError(t, err)
	require.NoError(t, js.Transition(req.ID, models.StatusSubmitted, models.StatusDispatched))
	require.NoError(t, js.Transition(req.ID, models.StatusDispatched, models.StatusProcessing))

	r.Sweep(context.Background())

	got, err := js.Get(req.RequestID)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, got.Status)
}
