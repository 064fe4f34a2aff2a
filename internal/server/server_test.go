package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/toolscout/internal/database"
	"github.com/TobiSchelling/toolscout/internal/digest"
	"github.com/TobiSchelling/toolscout/internal/fetch"
	"github.com/TobiSchelling/toolscout/internal/model"
	"github.com/TobiSchelling/toolscout/internal/pipeline"
	"github.com/TobiSchelling/toolscout/internal/refresh"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeProcessor struct {
	result *pipeline.Result
	err    error
	url    string
	kind   string
}

func (f *fakeProcessor) ProcessSourceURL(_ context.Context, raw, kind string) (*pipeline.Result, error) {
	f.url, f.kind = raw, kind
	return f.result, f.err
}

type fakeRefresher struct{ runs int }

func (f *fakeRefresher) RunOnce(context.Context) *refresh.Report {
	f.runs++
	return &refresh.Report{
		RunID:    "run-1",
		Duration: 1500 * time.Millisecond,
		Steps: []refresh.StepResult{
			{Name: "Repair", Summary: "Re-drove 2 of 2 flagged records, 0 failed", Attempted: 2},
			{Name: "Rescan", Summary: "listing channels failed", Err: errors.New("db locked")},
		},
	}
}

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()
	for i, needs := range []bool{true, false, true} {
		src := &model.Source{
			ID:             fmt.Sprintf("telegram_chan_%d", i),
			Kind:           model.KindTelegram,
			ExternalID:     fmt.Sprint(i),
			ChannelKey:     "tg_chan",
			Title:          "post",
			URL:            fmt.Sprintf("https://t.me/somechan/%d", i),
			DetectedApps:   []model.App{{Name: "Cursor", Category: "Vibe Coding"}},
			RepairAttempts: 1,
			NeedsRepair:    needs,
		}
		require.NoError(t, db.UpsertSource(ctx, src))
	}
	require.NoError(t, db.UpsertChannel(ctx, model.ChannelRef{Kind: model.KindTelegram, Handle: "somechan", URL: "https://t.me/somechan"}))
}

func newTestServer(t *testing.T, proc Processor) (*Server, *database.DB) {
	t.Helper()
	db := openTestDB(t)
	s := New(Deps{
		Pipeline:  proc,
		Refresher: &fakeRefresher{},
		Store:     db,
		Digest:    digest.NewComposer(db, nil),
	}, nil)
	return s, db
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAddSource(t *testing.T) {
	proc := &fakeProcessor{result: &pipeline.Result{Message: "created", Type: pipeline.TypeVideo}}
	s, _ := newTestServer(t, proc)

	rec := do(t, s, http.MethodPost, "/api/sources", `{"url": "https://youtu.be/dQw4w9WgXcQ", "type": "youtube"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://youtu.be/dQw4w9WgXcQ", proc.url)
	assert.Equal(t, "youtube", proc.kind)

	var got pipeline.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "created", got.Message)
	assert.Equal(t, "video", got.Type)
}

func TestAddSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"missing url", `{}`, nil, http.StatusBadRequest},
		{"unsupported", `{"url": "x"}`, fmt.Errorf("%w: x", pipeline.ErrUnsupportedSource), http.StatusBadRequest},
		{"item not found", `{"url": "x"}`, fmt.Errorf("%w: 1", pipeline.ErrItemNotFound), http.StatusNotFound},
		{"channel not found", `{"url": "x"}`, pipeline.ErrChannelNotFound, http.StatusNotFound},
		{"upstream", `{"url": "x"}`, fmt.Errorf("listing: %w", &fetch.StatusError{URL: "u", Code: 503}), http.StatusBadGateway},
		{"other", `{"url": "x"}`, errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeProcessor{err: tt.err})
			rec := do(t, s, http.MethodPost, "/api/sources", tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRefreshRoute(t *testing.T) {
	s, _ := newTestServer(t, &fakeProcessor{})
	rec := do(t, s, http.MethodPost, "/api/sources/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success  bool             `json:"success"`
		RunID    string           `json:"runId"`
		Duration int64            `json:"duration"`
		Steps    []map[string]any `json:"steps"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, int64(1500), body.Duration)
	require.Len(t, body.Steps, 2)
	assert.Equal(t, "db locked", body.Steps[1]["error"])
}

func TestListSources(t *testing.T) {
	s, db := newTestServer(t, &fakeProcessor{})
	seed(t, db)

	var all []model.Source
	rec := do(t, s, http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&all))
	assert.Len(t, all, 3)

	var repairs []model.Source
	rec = do(t, s, http.MethodGet, "/api/sources?needs_repair=true&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&repairs))
	require.Len(t, repairs, 1)
	assert.True(t, repairs[0].NeedsRepair)

	var yt []model.Source
	rec = do(t, s, http.MethodGet, "/api/sources?kind=youtube", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&yt))
	assert.Empty(t, yt)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/sources?limit=-3", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/sources?kind=myspace", "").Code)
}

func TestGetSource(t *testing.T) {
	s, db := newTestServer(t, &fakeProcessor{})
	seed(t, db)

	rec := do(t, s, http.MethodGet, "/api/sources/telegram_chan_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var src model.Source
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&src))
	assert.Equal(t, "telegram_chan_1", src.ID)
	assert.Equal(t, model.KindTelegram, src.Kind)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/sources/nope", "").Code)
}

func TestChannelsAndHealth(t *testing.T) {
	s, db := newTestServer(t, &fakeProcessor{})
	seed(t, db)

	rec := do(t, s, http.MethodGet, "/api/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var channels []model.Channel
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "tg_somechan", channels[0].Key)

	rec = do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status string         `json:"status"`
		Stats  database.Stats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 3, health.Stats.Sources)
	assert.Equal(t, 2, health.Stats.NeedsRepair)
}

func TestDigestRoute(t *testing.T) {
	s, db := newTestServer(t, &fakeProcessor{})
	seed(t, db)

	rec := do(t, s, http.MethodGet, "/digest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h2>Vibe Coding</h2>")
	assert.Contains(t, rec.Body.String(), "Cursor")
}
