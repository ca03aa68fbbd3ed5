package service

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/domain/moderation"
)

func TestStats_RecordAndHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.modLLM.set(verdict(true, "scam", "critical", 0.95))
	if _, err := h.mod.Submit(ctx, submission("gift cards only please")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.modLLM.set(verdict(true, "scam", "medium", 0.8))
	if _, err := h.mod.Submit(ctx, submission("invest with me")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	svc := NewStatsService(h.store, &config.Scheduler{StatsWindow: time.Hour})
	snap, err := svc.Record(ctx)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if snap.TotalCases != 2 || snap.PendingQueue != 1 || snap.Window != time.Hour {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.ByDecision[string(moderation.DecisionRejected)] != 1 || snap.ByDecision[string(moderation.DecisionEscalated)] != 1 {
		t.Errorf("by decision = %v", snap.ByDecision)
	}

	hist, err := svc.History(ctx, MetricTotalCases, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].Value != 2 {
		t.Fatalf("unexpected history: %+v", hist)
	}
	rejected, _ := svc.History(ctx, "decisions_rejected", 10)
	if len(rejected) != 1 || rejected[0].Value != 1 {
		t.Errorf("unexpected decisions_rejected history: %+v", rejected)
	}
}

func TestStats_Scheduler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{"disabled", "", false},
		{"descriptor", "@every 1h", false},
		{"five fields", "*/5 * * * *", false},
		{"garbage", "every so often", true},
		{"seconds field rejected", "0 */5 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewStatsService(h.store, &config.Scheduler{StatsCron: tt.spec, StatsWindow: time.Hour})
			err := svc.StartScheduler(ctx)
			defer svc.Stop()
			if (err != nil) != tt.wantErr {
				t.Fatalf("StartScheduler(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}
