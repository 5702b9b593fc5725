package audit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
)

func TestRedisRecordAndPrune(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := OpenRedis(ctx, "redis://"+mr.Addr(), "geechat:test", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	rec := Record{
		RequestID: "req-1",
		Transport: "http",
		Text:      "export a timelapse",
		Reply:     "Exporting.",
		Actions:   []orchestrator.Action{orchestrator.UnknownAction("delete_everything")},
		Outcome:   "ok",
		Duration:  250 * time.Millisecond,
		CreatedAt: time.Now(),
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	entries, err := s.client.XRange(ctx, "geechat:test", "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	v := entries[0].Values
	if v["request_id"] != "req-1" || v["outcome"] != "ok" || v["duration_ms"] != "250" {
		t.Errorf("values = %v", v)
	}
	if v["actions"] != `[{"type":"unknown","originalName":"delete_everything"}]` {
		t.Errorf("actions = %v", v["actions"])
	}

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pruned = %d, want 0", n)
	}
	n, err = s.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}
}

func TestRedisMaxLen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	s, err := OpenRedis(ctx, "redis://"+mr.Addr(), "", 3)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for i := 0; i < 10; i++ {
		if err := s.Record(ctx, Record{RequestID: "r", Outcome: "ok", CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.client.XLen(ctx, "geechat:audit").Result()
	if err != nil {
		t.Fatal(err)
	}
	if n > 10 || n < 3 {
		t.Errorf("stream length = %d", n)
	}
}

func TestOpenRedisErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenRedis(ctx, "not a url", "", 0); err == nil {
		t.Error("expected error for bad url")
	}
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := OpenRedis(ctx, "redis://"+addr, "", 0); err == nil {
		t.Error("expected ping error for closed server")
	}
}
