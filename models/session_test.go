package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func snapshot(durationSeconds int, rate float64, start time.Time) TimerSnapshot {
	return TimerSnapshot{
		SessionID:            "s1",
		StartTimestamp:       start,
		TotalDurationSeconds: durationSeconds,
		RatePerMinute:        rate,
		WalletBalanceAtStart: 500,
	}
}

func TestTimerSnapshotDerivations(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s := snapshot(300, 10, start)

	tests := []struct {
		name          string
		now           time.Time
		wantElapsed   int
		wantRemaining int
		wantAmount    float64
	}{
		{"at start", start, 0, 300, 0},
		{"clock before start clamps", start.Add(-time.Minute), 0, 300, 0},
		{"one second in bills a whole minute", start.Add(time.Second), 1, 299, 10},
		{"exactly one minute", start.Add(60 * time.Second), 60, 240, 10},
		{"partial second minute billed whole", start.Add(61 * time.Second), 61, 239, 20},
		{"at expiry", start.Add(300 * time.Second), 300, 0, 50},
		{"past expiry stays clamped", start.Add(10 * time.Minute), 600, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantElapsed, s.ElapsedSeconds(tt.now))
			assert.Equal(t, tt.wantRemaining, s.RemainingSeconds(tt.now))
			assert.Equal(t, tt.wantAmount, s.BilledAmount(tt.now))
		})
	}
}

func TestTimerSnapshotExpired(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s := snapshot(300, 10, start)

	assert.False(t, s.Expired(start.Add(299*time.Second)))
	assert.True(t, s.Expired(start.Add(300*time.Second)))
}

func TestReceiveMessageNormalization(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		payload ReceiveMessagePayload
		want    string
	}{
		{"content wins", ReceiveMessagePayload{Content: "a", Text: "b", Message: "c", Timestamp: ts}, "a"},
		{"text fallback", ReceiveMessagePayload{Text: "b", Message: "c", Timestamp: ts}, "b"},
		{"message fallback", ReceiveMessagePayload{Message: "c", Timestamp: ts}, "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.payload.Normalize().Content)
		})
	}
}

func TestChatMessageSameAs(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	a := ChatMessage{ID: "1", SenderID: "u1", Content: "hi", Timestamp: ts}

	assert.True(t, a.SameAs(ChatMessage{ID: "1", SenderID: "other", Content: "other", Timestamp: ts.Add(time.Hour)}))
	assert.True(t, a.SameAs(ChatMessage{ID: "2", SenderID: "u1", Content: "hi", Timestamp: ts.Add(4 * time.Second)}))
	assert.True(t, a.SameAs(ChatMessage{ID: "2", SenderID: "u1", Content: "hi", Timestamp: ts.Add(-4 * time.Second)}))
	assert.False(t, a.SameAs(ChatMessage{ID: "2", SenderID: "u1", Content: "hi", Timestamp: ts.Add(6 * time.Second)}))
	assert.False(t, a.SameAs(ChatMessage{ID: "2", SenderID: "u2", Content: "hi", Timestamp: ts}))
}
