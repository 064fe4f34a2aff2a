package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/TobiSchelling/toolscout/internal/model"
	"github.com/TobiSchelling/toolscout/internal/pipeline"
	"github.com/TobiSchelling/toolscout/internal/refresh"
)

var testMCPImpl = &mcp.Implementation{Name: "toolscout-test", Version: "0.1.0"}

type fakeProcessor struct {
	url, kind string
	err       error
}

func (f *fakeProcessor) ProcessSourceURL(_ context.Context, raw, kind string) (*pipeline.Result, error) {
	f.url, f.kind = raw, kind
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{Message: "created", Type: pipeline.TypePost}, nil
}

type fakeStore struct {
	limit int
}

func (f *fakeStore) QuerySources(_ context.Context, field string, _ any, limit int) ([]model.Source, error) {
	f.limit = limit
	if field != "needs_repair" {
		return nil, errors.New("unexpected field " + field)
	}
	return []model.Source{{ID: "telegram_chan_1", Kind: model.KindTelegram, RepairAttempts: 2, IsFallback: true}}, nil
}

type fakeRefresher struct{}

func (fakeRefresher) RunOnce(context.Context) *refresh.Report {
	return &refresh.Report{RunID: "run-7", Steps: []refresh.StepResult{{Name: "Repair", Attempted: 1}}}
}

func mcpSession(t *testing.T, proc Processor, store Store) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	Register(srv, proc, store, fakeRefresher{})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (*mcp.CallToolResult, string) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return result, tc.Text
}

func TestProcessSourceTool(t *testing.T) {
	proc := &fakeProcessor{}
	session := mcpSession(t, proc, &fakeStore{})

	result, text := callTool(t, session, "toolscout_process_source", map[string]any{
		"url":  "https://t.me/somechan/5",
		"type": "telegram",
	})
	if err := result.GetError(); err != nil {
		t.Fatalf("tool error: %v", err)
	}
	if proc.url != "https://t.me/somechan/5" || proc.kind != "telegram" {
		t.Errorf("processor got (%q, %q)", proc.url, proc.kind)
	}

	var res pipeline.Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Message != "created" || res.Type != "post" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProcessSourceToolErrors(t *testing.T) {
	session := mcpSession(t, &fakeProcessor{err: pipeline.ErrUnsupportedSource}, &fakeStore{})

	result, _ := callTool(t, session, "toolscout_process_source", map[string]any{"url": "https://example.com"})
	if !result.IsError {
		t.Error("expected tool error for unsupported source")
	}

	result, _ = callTool(t, session, "toolscout_process_source", map[string]any{})
	if !result.IsError {
		t.Error("expected tool error for missing url")
	}
}

func TestListRepairsTool(t *testing.T) {
	store := &fakeStore{}
	session := mcpSession(t, &fakeProcessor{}, store)

	_, text := callTool(t, session, "toolscout_list_repairs", map[string]any{})
	if store.limit != defaultRepairLimit {
		t.Errorf("limit = %d, want %d", store.limit, defaultRepairLimit)
	}

	var resp struct {
		Count   int           `json:"count"`
		Records []repairEntry `json:"records"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Records[0].ID != "telegram_chan_1" || !resp.Records[0].IsFallback {
		t.Errorf("unexpected repairs %+v", resp)
	}

	callTool(t, session, "toolscout_list_repairs", map[string]any{"limit": 5})
	if store.limit != 5 {
		t.Errorf("limit = %d, want 5", store.limit)
	}
}

func TestRefreshTool(t *testing.T) {
	session := mcpSession(t, &fakeProcessor{}, &fakeStore{})

	_, text := callTool(t, session, "toolscout_refresh", map[string]any{})
	var resp struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.RunID != "run-7" {
		t.Errorf("RunID = %q, want run-7", resp.RunID)
	}
}
