package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/TobiSchelling/toolscout/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleSource(id string) *model.Source {
	return &model.Source{
		ID:          id,
		Kind:        model.KindTelegram,
		ExternalID:  "42",
		ChannelKey:  "tg_ai_tools_daily",
		Title:       "Five new agents",
		Description: "raw text",
		AISummary:   "summary",
		Author:      "AI Tools Daily",
		PublishedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		URL:         "https://t.me/ai_tools_daily/42",
		DetectedApps: []model.App{
			{Name: "Cursor", Category: "Code", ShortDescription: "AI editor", Features: []string{"chat"}, HasAPI: true},
		},
		RepairAttempts: 1,
	}
}

var ignoreTimestamps = cmpopts.IgnoreFields(model.Source{}, "CreatedAt", "UpdatedAt")

func TestOpenAppliesMigrations(t *testing.T) {
	db := openTestDB(t)
	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2 {
		t.Errorf("expected schema version 2, got %d", v)
	}

	// reopening must be a no-op
	db2, err := Open(db.Path())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	db2.Close()
}

func TestGetSourceMissing(t *testing.T) {
	db := openTestDB(t)
	src, err := db.GetSource(context.Background(), "telegram_nobody_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src != nil {
		t.Errorf("expected nil for missing source, got %+v", src)
	}
}

func TestUpsertSourceRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	want := sampleSource("telegram_ai_tools_daily_42")

	if err := db.UpsertSource(ctx, want); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := db.GetSource(ctx, want.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(want, got, ignoreTimestamps); diff != "" {
		t.Errorf("source mismatch (-want +got):\n%s", diff)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected store-assigned timestamps")
	}
}

func TestUpsertSourceMerge(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := sampleSource("youtube_dQw4w9WgXcQ")
	first.ThumbnailURL = "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg"
	first.RepairAttempts = 3
	if err := db.UpsertSource(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	stored, _ := db.GetSource(ctx, first.ID)

	time.Sleep(5 * time.Millisecond)
	second := sampleSource("youtube_dQw4w9WgXcQ")
	second.Title = "Updated"
	second.ThumbnailURL = ""
	second.RepairAttempts = 2
	second.DetectedApps = nil
	second.NeedsRepair = true
	if err := db.UpsertSource(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := db.GetSource(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Updated" {
		t.Errorf("expected title to be overwritten, got %q", got.Title)
	}
	if got.ThumbnailURL != first.ThumbnailURL {
		t.Errorf("expected thumbnail to be kept, got %q", got.ThumbnailURL)
	}
	if got.RepairAttempts != 3 {
		t.Errorf("repair attempts decreased to %d", got.RepairAttempts)
	}
	if len(got.DetectedApps) != 0 || !got.NeedsRepair {
		t.Errorf("expected empty apps flagged for repair, got %d apps needsRepair=%v", len(got.DetectedApps), got.NeedsRepair)
	}
	if !got.CreatedAt.Equal(stored.CreatedAt) {
		t.Errorf("createdAt changed: %s -> %s", stored.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(stored.UpdatedAt) {
		t.Errorf("expected updatedAt to advance: %s -> %s", stored.UpdatedAt, got.UpdatedAt)
	}
}

func TestQuerySources(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := sampleSource("telegram_ai_tools_daily_1")
	a.NeedsRepair = true
	a.DetectedApps = nil
	b := sampleSource("telegram_ai_tools_daily_2")
	c := sampleSource("youtube_abcdefghijk")
	c.Kind = model.KindYouTube
	c.NeedsRepair = true
	c.IsFallback = true
	for _, s := range []*model.Source{a, b, c} {
		if err := db.UpsertSource(ctx, s); err != nil {
			t.Fatalf("upsert %s: %v", s.ID, err)
		}
	}

	tests := []struct {
		field string
		value any
		limit int
		want  []string
	}{
		{"needs_repair", true, 0, []string{a.ID, c.ID}},
		{"needsRepair", "true", 1, []string{a.ID}},
		{"needs_repair", false, 0, []string{b.ID}},
		{"is_fallback", true, 0, []string{c.ID}},
		{"source_kind", model.KindYouTube, 0, []string{c.ID}},
		{"", nil, 0, []string{a.ID, b.ID, c.ID}},
	}
	for _, tt := range tests {
		got, err := db.QuerySources(ctx, tt.field, tt.value, tt.limit)
		if err != nil {
			t.Fatalf("QuerySources(%q, %v): %v", tt.field, tt.value, err)
		}
		var ids []string
		for _, s := range got {
			ids = append(ids, s.ID)
		}
		if tt.limit > 0 {
			if len(ids) != tt.limit {
				t.Errorf("QuerySources(%q, %v, %d) returned %d records", tt.field, tt.value, tt.limit, len(ids))
			}
			continue
		}
		if diff := cmp.Diff(tt.want, ids, cmpopts.SortSlices(func(x, y string) bool { return x < y })); diff != "" {
			t.Errorf("QuerySources(%q, %v) ids (-want +got):\n%s", tt.field, tt.value, diff)
		}
	}
}

func TestMarkRepairAttemptedRotatesQueue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"telegram_ai_tools_daily_1", "telegram_ai_tools_daily_2"} {
		src := sampleSource(id)
		src.DetectedApps = nil
		src.NeedsRepair = true
		if err := db.UpsertSource(ctx, src); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	head := func() string {
		t.Helper()
		got, err := db.QuerySources(ctx, "needs_repair", true, 1)
		if err != nil {
			t.Fatalf("QuerySources: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 record, got %d", len(got))
		}
		return got[0].ID
	}

	first := head()
	if err := db.MarkRepairAttempted(ctx, first); err != nil {
		t.Fatalf("MarkRepairAttempted: %v", err)
	}
	second := head()
	if second == first {
		t.Fatalf("record %s still heads the repair queue after being re-driven", first)
	}
	if err := db.MarkRepairAttempted(ctx, "telegram_missing_1"); err != nil {
		t.Errorf("marking an unknown record: %v", err)
	}
}

func TestQuerySourcesRejectsUnknownField(t *testing.T) {
	db := openTestDB(t)
	_, err := db.QuerySources(context.Background(), "title; DROP TABLE sources", "x", 1)
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if _, err := db.QuerySources(context.Background(), "needs_repair", "maybe", 1); err == nil {
		t.Error("expected error for non-boolean value")
	}
}

func TestRecentHealthyAndStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	healthy := sampleSource("telegram_ai_tools_daily_1")
	broken := sampleSource("telegram_ai_tools_daily_2")
	broken.DetectedApps = nil
	broken.NeedsRepair = true
	fallback := sampleSource("telegram_ai_tools_daily_3")
	fallback.IsFallback = true
	for _, s := range []*model.Source{healthy, broken, fallback} {
		if err := db.UpsertSource(ctx, s); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := db.UpsertChannel(ctx, model.ChannelRef{Kind: model.KindTelegram, Handle: "ai_tools_daily"}); err != nil {
		t.Fatalf("upsert channel: %v", err)
	}

	got, err := db.RecentHealthy(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("RecentHealthy: %v", err)
	}
	if len(got) != 1 || got[0].ID != healthy.ID {
		t.Errorf("expected only %s, got %+v", healthy.ID, got)
	}

	none, err := db.RecentHealthy(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("RecentHealthy: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no records after the window, got %d", len(none))
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Stats{Sources: 3, Healthy: 1, NeedsRepair: 1, Fallback: 1, Channels: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestUpsertChannel(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ref := model.ChannelRef{Kind: model.KindTelegram, Handle: "AI_Tools_Daily", Title: "AI Tools Daily", URL: "https://t.me/AI_Tools_Daily"}
	if err := db.UpsertChannel(ctx, ref); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	first, err := db.GetChannel(ctx, "tg_ai_tools_daily")
	if err != nil || first == nil {
		t.Fatalf("get: %v %v", first, err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := db.UpsertChannel(ctx, model.ChannelRef{Kind: model.KindTelegram, Handle: "ai_tools_daily"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	second, _ := db.GetChannel(ctx, "tg_ai_tools_daily")
	if second.Title != "AI Tools Daily" {
		t.Errorf("empty title overwrote stored title: %q", second.Title)
	}
	if !second.LastScannedAt.After(first.LastScannedAt) {
		t.Errorf("lastScannedAt did not advance: %s -> %s", first.LastScannedAt, second.LastScannedAt)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed")
	}

	channels, err := db.ListChannels(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 1 || channels[0].Kind != model.KindTelegram {
		t.Errorf("unexpected channels: %+v", channels)
	}

	missing, err := db.GetChannel(ctx, "tg_nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing channel, got %v, %v", missing, err)
	}
}
