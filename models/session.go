package models

import (
	"math"
	"time"
)

// TimerSnapshot is the durable record of a billable session timer. Elapsed,
// remaining and billed amount are never stored; they are recomputed from
// wall-clock time so a suspended process bills correctly on resume.
type TimerSnapshot struct {
	SessionID            string    `json:"sessionId"`
	StartTimestamp       time.Time `json:"startTimestamp"`
	TotalDurationSeconds int       `json:"totalDurationSeconds"`
	RatePerMinute        float64   `json:"ratePerMinute"`
	WalletBalanceAtStart float64   `json:"walletBalanceAtStart"`
	WarningFired60       bool      `json:"warningFired60"`
	WarningFired30       bool      `json:"warningFired30"`
}

// ElapsedSeconds returns whole seconds since the timer started, never negative.
func (s TimerSnapshot) ElapsedSeconds(now time.Time) int {
	elapsed := int(now.Sub(s.StartTimestamp) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// RemainingSeconds returns whole seconds until expiry, never negative.
func (s TimerSnapshot) RemainingSeconds(now time.Time) int {
	remaining := s.TotalDurationSeconds - s.ElapsedSeconds(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the timer's duration has fully elapsed.
func (s TimerSnapshot) Expired(now time.Time) bool {
	return s.RemainingSeconds(now) == 0
}

// BilledAmount bills partial minutes as whole minutes.
func (s TimerSnapshot) BilledAmount(now time.Time) float64 {
	elapsed := s.ElapsedSeconds(now)
	if elapsed == 0 {
		return 0
	}
	minutes := math.Ceil(float64(elapsed) / 60.0)
	return minutes * s.RatePerMinute
}

// TimerState is the derived view handed to tick subscribers.
type TimerState struct {
	SessionID        string  `json:"sessionId"`
	ElapsedSeconds   int     `json:"elapsedSeconds"`
	RemainingSeconds int     `json:"remainingSeconds"`
	CurrentAmount    float64 `json:"currentAmount"`
	WalletBalance    float64 `json:"walletBalance"`
}

// StateAt derives the tick view for the given wall-clock instant.
func (s TimerSnapshot) StateAt(now time.Time) TimerState {
	return TimerState{
		SessionID:        s.SessionID,
		ElapsedSeconds:   s.ElapsedSeconds(now),
		RemainingSeconds: s.RemainingSeconds(now),
		CurrentAmount:    s.BilledAmount(now),
		WalletBalance:    s.WalletBalanceAtStart,
	}
}

// SessionEndInfo describes why and how a consultation session ended.
type SessionEndInfo struct {
	SessionID string  `json:"sessionId"`
	Reason    string  `json:"reason"` // "time_expired" | "ended_by_user" | "ended_by_astrologer" | "stopped"
	EndedBy   string  `json:"endedBy,omitempty"`
	Billed    float64 `json:"billed"`
}

// WarningInfo is delivered when a low-time threshold is crossed.
type WarningInfo struct {
	SessionID        string `json:"sessionId"`
	RemainingSeconds int    `json:"remainingSeconds"`
}
