package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"voxbill/backend/internal/dispatch"
	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/ledger"
	"voxbill/backend/internal/media"
	"voxbill/backend/internal/models"
	"voxbill/backend/internal/pricing"
	"voxbill/backend/internal/queue"
	"voxbill/backend/internal/settle"
	"voxbill/backend/internal/store"
	"voxbill/backend/internal/transcribe"
	"voxbill/backend/internal/worker"
)

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(context.Context, string) (transcribe.Result, error) {
	return transcribe.Result{DurationSec: 10, Text: "hello from the worker"}, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	// Use a per-test in-memory database to avoid cross-test interference
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.InitDB(dsn)
	require.NoError(t, err)

	mem := queue.NewMemory(16)
	js := jobs.NewStore(db)
	ls := ledger.NewStore(db, zerolog.Nop())
	d := dispatch.New(js, mem, media.ExtClassifier{}, zerolog.Nop())

	settler := settle.New(ls, js, zerolog.Nop())
	pool := worker.NewPool(js, mem, fakeTranscriber{}, settler,
		pricing.NewModel(0.25, 0.01), 3, 2, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = pool.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		mem.Close()
	})

	r := gin.New()
	New(db, ls, js, d).RegisterRoutes(r)
	return r, db
}

func httpDo(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUserCreateAndCredit(t *testing.T) {
	r, _ := setupRouter(t)

	w := httpDo(r, "POST", "/users", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	var u models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	require.NotZero(t, u.ID)
	require.True(t, u.Balance.IsZero())

	w = httpDo(r, "POST", fmt.Sprintf("/users/%d/credit", u.ID), map[string]any{"amount": 5})
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(r, "GET", fmt.Sprintf("/users/%d/balance", u.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Balance.Equal(decimal.NewFromInt(5)))
}

func TestCreditRejectsNegativeAmount(t *testing.T) {
	r, db := setupRouter(t)
	u := models.User{Email: "bob@example.com", Balance: decimal.NewFromInt(10)}
	require.NoError(t, db.Create(&u).Error)

	w := httpDo(r, "POST", fmt.Sprintf("/users/%d/credit", u.ID), map[string]any{"amount": -5})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "GET", fmt.Sprintf("/users/%d/balance", u.ID), nil)
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Balance.Equal(decimal.NewFromInt(10)))
}

func TestCreditUnknownUser(t *testing.T) {
	r, _ := setupRouter(t)
	w := httpDo(r, "POST", "/users/9999/credit", map[string]any{"amount": 5})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitRejectsNonAudio(t *testing.T) {
	r, db := setupRouter(t)
	u := models.User{Email: "carol@example.com"}
	require.NoError(t, db.Create(&u).Error)

	w := httpDo(r, "POST", "/requests", map[string]any{"user_id": u.ID, "audio_ref": "essay.docx"})
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestSubmitAndPollUntilCompleted(t *testing.T) {
	r, db := setupRouter(t)
	u := models.User{Email: "dave@example.com", Balance: decimal.RequireFromString("5.0")}
	require.NoError(t, db.Create(&u).Error)

	w := httpDo(r, "POST", "/requests", map[string]any{"user_id": u.ID, "audio_ref": "meeting.mp3"})
	require.Equal(t, http.StatusAccepted, w.Code)
	var submitted struct {
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.RequestID)

	var req models.Request
	require.Eventually(t, func() bool {
		w := httpDo(r, "GET", "/requests/"+submitted.RequestID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
			return false
		}
		return models.Terminal(req.Status)
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, models.StatusCompleted, req.Status)
	require.Equal(t, "hello from the worker", req.Transcript)
	require.True(t, req.Cost.Equal(decimal.RequireFromString("2.5")))

	// 10s at 0.25/s leaves 2.5 of the original 5.0.
	w = httpDo(r, "GET", fmt.Sprintf("/users/%d/balance", u.ID), nil)
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Balance.Equal(decimal.RequireFromString("2.5")))

	// The audit trail holds exactly one decrease tied to the request.
	w = httpDo(r, "GET", fmt.Sprintf("/users/%d/transactions", u.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txResp struct {
		Data []models.Transaction `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txResp))
	require.Len(t, txResp.Data, 1)
	require.Equal(t, models.KindDecrease, txResp.Data[0].Kind)
	require.NotNil(t, txResp.Data[0].RequestRef)
}

func TestGetRequestNotFound(t *testing.T) {
	r, _ := setupRouter(t)
	w := httpDo(r, "GET", "/requests/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
