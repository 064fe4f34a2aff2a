// Package mcptools exposes source ingestion as MCP tools so agents can add
// sources, inspect the repair queue and trigger refresh runs.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/TobiSchelling/toolscout/internal/model"
	"github.com/TobiSchelling/toolscout/internal/pipeline"
	"github.com/TobiSchelling/toolscout/internal/refresh"
)

const defaultRepairLimit = 20

// Processor ingests a source URL.
type Processor interface {
	ProcessSourceURL(ctx context.Context, raw, kindHint string) (*pipeline.Result, error)
}

// Refresher runs one maintenance pass.
type Refresher interface {
	RunOnce(ctx context.Context) *refresh.Report
}

// Store lists records.
type Store interface {
	QuerySources(ctx context.Context, field string, value any, limit int) ([]model.Source, error)
}

// Register adds the toolscout tools to srv.
func Register(srv *mcp.Server, proc Processor, store Store, ref Refresher) {
	registerProcessTool(srv, proc)
	registerRepairsTool(srv, store)
	registerRefreshTool(srv, ref)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// handler adapts a typed endpoint to an MCP tool handler. Errors become tool
// errors rather than protocol errors.
func handler[Req any](endpoint func(ctx context.Context, req *Req) (any, error)) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := endpoint(ctx, &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	}
}

type processReq struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

func registerProcessTool(srv *mcp.Server, proc Processor) {
	srv.AddTool(&mcp.Tool{
		Name:        "toolscout_process_source",
		Description: "Ingest a YouTube video or channel, or a Telegram post or channel, and extract the tools it mentions.",
		InputSchema: inputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "Video, post or channel URL, or an @handle"},
			"type": map[string]any{"type": "string", "enum": []string{"youtube", "telegram"}, "description": "Source kind for ambiguous handles"},
		}, []string{"url"}),
	}, handler(func(ctx context.Context, r *processReq) (any, error) {
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		return proc.ProcessSourceURL(ctx, r.URL, r.Type)
	}))
}

type repairsReq struct {
	Limit int `json:"limit"`
}

type repairEntry struct {
	ID             string           `json:"id"`
	Kind           model.SourceKind `json:"sourceType"`
	Title          string           `json:"title"`
	URL            string           `json:"url"`
	RepairAttempts int              `json:"repairAttempts"`
	IsFallback     bool             `json:"isFallback"`
}

func registerRepairsTool(srv *mcp.Server, store Store) {
	srv.AddTool(&mcp.Tool{
		Name:        "toolscout_list_repairs",
		Description: "List records whose analysis failed or found nothing and that are queued for another attempt.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum number of records (default 20)"},
		}, nil),
	}, handler(func(ctx context.Context, r *repairsReq) (any, error) {
		limit := r.Limit
		if limit <= 0 {
			limit = defaultRepairLimit
		}
		sources, err := store.QuerySources(ctx, "needs_repair", true, limit)
		if err != nil {
			return nil, err
		}
		out := make([]repairEntry, 0, len(sources))
		for _, s := range sources {
			out = append(out, repairEntry{
				ID:             s.ID,
				Kind:           s.Kind,
				Title:          s.Title,
				URL:            s.URL,
				RepairAttempts: s.RepairAttempts,
				IsFallback:     s.IsFallback,
			})
		}
		return map[string]any{"count": len(out), "records": out}, nil
	}))
}

type refreshReq struct{}

func registerRefreshTool(srv *mcp.Server, ref Refresher) {
	srv.AddTool(&mcp.Tool{
		Name:        "toolscout_refresh",
		Description: "Run one refresh pass: retry queued records and rescan a few tracked channels.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, handler(func(ctx context.Context, _ *refreshReq) (any, error) {
		rep := ref.RunOnce(ctx)
		var failed []string
		for _, st := range rep.Steps {
			if st.Err != nil {
				failed = append(failed, st.Name+": "+st.Err.Error())
			}
		}
		return map[string]any{
			"runId":           rep.RunID,
			"durationMs":      rep.Duration.Milliseconds(),
			"budgetExhausted": rep.BudgetExhausted,
			"steps":           rep.Steps,
			"errors":          failed,
		}, nil
	}))
}
