package queue

import "testing"

func TestChooseRetryQueue(t *testing.T) {
	tiers := []int{5, 30, 300}

	tests := []struct {
		retryCount int
		wantQueue  string
		wantSecs   int
	}{
		{0, "dispatch.retry.5s", 5},
		{1, "dispatch.retry.30s", 30},
		{2, "dispatch.retry.300s", 300},
		{3, "dispatch.retry.300s", 300},
		{17, "dispatch.retry.300s", 300},
		{-1, "dispatch.retry.5s", 5},
	}
	for _, tt := range tests {
		q, secs := ChooseRetryQueue("dispatch.retry", tiers, tt.retryCount)
		if q != tt.wantQueue || secs != tt.wantSecs {
			t.Errorf("ChooseRetryQueue(%d) = %s/%d, want %s/%d", tt.retryCount, q, secs, tt.wantQueue, tt.wantSecs)
		}
	}
}

func TestChooseRetryQueueDelaysNonDecreasing(t *testing.T) {
	tiers := []int{5, 30, 300}
	prev := 0
	for count := 0; count < 10; count++ {
		_, secs := ChooseRetryQueue("r", tiers, count)
		if secs < prev {
			t.Fatalf("delay decreased at retry %d: %d < %d", count, secs, prev)
		}
		prev = secs
	}
}

func TestChooseRetryQueueEmptyTiersUsesDefaults(t *testing.T) {
	q, secs := ChooseRetryQueue("r", nil, 1)
	if q != "r.30s" || secs != 30 {
		t.Fatalf("got %s/%d, want r.30s/30", q, secs)
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.MainQueue != "dispatch.tasks" {
		t.Errorf("MainQueue = %s", cfg.MainQueue)
	}
	if cfg.DLQ != "dispatch.dlq" {
		t.Errorf("DLQ = %s", cfg.DLQ)
	}
	if len(cfg.RetryTiers) != 3 || cfg.RetryTiers[2] != 300 {
		t.Errorf("RetryTiers = %v", cfg.RetryTiers)
	}
	if cfg.Prefetch != 8 {
		t.Errorf("Prefetch = %d", cfg.Prefetch)
	}
}
