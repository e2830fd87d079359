package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"astroconnect/database"
	"astroconnect/models"
	"astroconnect/utils"

	"go.uber.org/zap"
)

// TimerKeyPrefix namespaces timer snapshots in the durable store.
const TimerKeyPrefix = "session_timer:"

const (
	warningThreshold60 = 60
	warningThreshold30 = 30

	// A snapshot is re-persisted every persistEveryTicks seconds so a hard
	// kill loses at most that much warning-flag state. Elapsed time itself
	// is derived from the start timestamp and loses nothing.
	persistEveryTicks = 15
)

var (
	ErrTimerExists   = errors.New("timer already running for session")
	ErrTimerNotFound = errors.New("no timer for session")
)

type activeTimer struct {
	snapshot models.TimerSnapshot
	cb       Callbacks
	ticks    int
}

// DefaultTimerService implements TimerService over a durable KV store.
type DefaultTimerService struct {
	mu     sync.Mutex
	active map[string]*activeTimer
	// loaded holds foreground-recovered snapshots awaiting an explicit
	// Resume call with fresh callbacks.
	loaded map[string]models.TimerSnapshot

	store  database.KVStore
	timers *utils.TimerSet
	now    func() time.Time
}

func NewTimerService(store database.KVStore) *DefaultTimerService {
	return &DefaultTimerService{
		active: make(map[string]*activeTimer),
		loaded: make(map[string]models.TimerSnapshot),
		store:  store,
		timers: utils.NewTimerSet(),
		now:    time.Now,
	}
}

// Start begins a billable countdown and persists its snapshot durably before
// the first tick is armed.
func (s *DefaultTimerService) Start(ctx context.Context, sessionID string, durationSeconds int, walletBalance, ratePerMinute float64, cb Callbacks) error {
	s.mu.Lock()
	if _, ok := s.active[sessionID]; ok {
		s.mu.Unlock()
		return ErrTimerExists
	}
	snapshot := models.TimerSnapshot{
		SessionID:            sessionID,
		StartTimestamp:       s.now(),
		TotalDurationSeconds: durationSeconds,
		RatePerMinute:        ratePerMinute,
		WalletBalanceAtStart: walletBalance,
	}
	s.active[sessionID] = &activeTimer{snapshot: snapshot, cb: cb}
	delete(s.loaded, sessionID)
	s.mu.Unlock()

	if err := s.persist(ctx, snapshot); err != nil {
		utils.GetLogger().Warn("Timer snapshot persist failed on start",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
	utils.GetLogger().Info("Session timer started",
		zap.String("sessionId", sessionID),
		zap.Int("durationSeconds", durationSeconds),
		zap.Float64("ratePerMinute", ratePerMinute))
	s.armTick(sessionID)
	return nil
}

// Stop ends the countdown without firing OnEnd (the caller initiated the
// stop and already knows). Returns the final derived state for billing.
func (s *DefaultTimerService) Stop(ctx context.Context, sessionID string) (*models.TimerState, error) {
	s.timers.Stop(tickKey(sessionID))
	s.mu.Lock()
	t, ok := s.active[sessionID]
	delete(s.active, sessionID)
	delete(s.loaded, sessionID)
	s.mu.Unlock()
	if !ok {
		return nil, ErrTimerNotFound
	}
	if err := s.store.Remove(ctx, TimerKeyPrefix+sessionID); err != nil {
		utils.GetLogger().Warn("Timer snapshot remove failed",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
	state := t.snapshot.StateAt(s.now())
	return &state, nil
}

// GetState derives the current view for sessionID, or nil if no timer is
// active or loaded.
func (s *DefaultTimerService) GetState(sessionID string) *models.TimerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.active[sessionID]; ok {
		state := t.snapshot.StateAt(s.now())
		return &state
	}
	if snapshot, ok := s.loaded[sessionID]; ok {
		state := snapshot.StateAt(s.now())
		return &state
	}
	return nil
}

// Resume re-attaches callbacks to a loaded or durable snapshot and re-arms
// the tick. An already-expired snapshot is cleaned up immediately and OnEnd
// fires with reason time_expired.
func (s *DefaultTimerService) Resume(ctx context.Context, sessionID string, cb Callbacks) error {
	s.mu.Lock()
	if _, ok := s.active[sessionID]; ok {
		s.mu.Unlock()
		return ErrTimerExists
	}
	snapshot, ok := s.loaded[sessionID]
	s.mu.Unlock()
	if !ok {
		loaded, err := s.load(ctx, sessionID)
		if err != nil {
			return err
		}
		snapshot = loaded
	}

	if snapshot.Expired(s.now()) {
		s.expire(ctx, sessionID, snapshot, cb)
		return nil
	}

	s.mu.Lock()
	s.active[sessionID] = &activeTimer{snapshot: snapshot, cb: cb}
	delete(s.loaded, sessionID)
	s.mu.Unlock()
	utils.GetLogger().Info("Session timer resumed", zap.String("sessionId", sessionID))
	s.armTick(sessionID)
	return nil
}

// OnBackground flushes every active snapshot durably.
func (s *DefaultTimerService) OnBackground(ctx context.Context) {
	s.mu.Lock()
	snapshots := make([]models.TimerSnapshot, 0, len(s.active))
	for _, t := range s.active {
		snapshots = append(snapshots, t.snapshot)
	}
	s.mu.Unlock()
	for _, snapshot := range snapshots {
		if err := s.persist(ctx, snapshot); err != nil {
			utils.GetLogger().Warn("Timer snapshot persist failed on background",
				zap.String("sessionId", snapshot.SessionID), zap.Error(err))
		}
	}
}

// OnForeground re-examines every durable snapshot. Expired timers get their
// cleanup immediately, without re-arming a tick; live ones are loaded into
// memory and await an explicit Resume.
func (s *DefaultTimerService) OnForeground(ctx context.Context) {
	keys, err := s.store.Keys(ctx, TimerKeyPrefix)
	if err != nil {
		utils.GetLogger().Warn("Timer snapshot scan failed on foreground", zap.Error(err))
		return
	}
	for _, key := range keys {
		sessionID := strings.TrimPrefix(key, TimerKeyPrefix)
		s.mu.Lock()
		_, isActive := s.active[sessionID]
		s.mu.Unlock()
		if isActive {
			continue
		}
		snapshot, err := s.load(ctx, sessionID)
		if err != nil {
			continue
		}
		if snapshot.Expired(s.now()) {
			// Callbacks did not survive the cold start; the cleanup still
			// must not wait for a Resume that may never come.
			s.expire(ctx, sessionID, snapshot, Callbacks{})
			continue
		}
		s.mu.Lock()
		s.loaded[sessionID] = snapshot
		s.mu.Unlock()
	}
}

func (s *DefaultTimerService) armTick(sessionID string) {
	s.timers.Start(tickKey(sessionID), time.Second, func() {
		s.tick(sessionID)
	})
}

func (s *DefaultTimerService) tick(sessionID string) {
	now := s.now()

	s.mu.Lock()
	t, ok := s.active[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.ticks++
	snapshot := t.snapshot
	cb := t.cb
	remaining := snapshot.RemainingSeconds(now)

	var warning *models.WarningInfo
	if remaining > 0 {
		if remaining <= warningThreshold30 && !snapshot.WarningFired30 {
			// Entering the 30s window consumes the 60s warning too, so a
			// resume that jumped straight past 60s fires only once.
			t.snapshot.WarningFired30 = true
			t.snapshot.WarningFired60 = true
			warning = &models.WarningInfo{SessionID: sessionID, RemainingSeconds: remaining}
		} else if remaining <= warningThreshold60 && !snapshot.WarningFired60 {
			t.snapshot.WarningFired60 = true
			warning = &models.WarningInfo{SessionID: sessionID, RemainingSeconds: remaining}
		}
	}
	warningsDirty := warning != nil
	periodicPersist := t.ticks%persistEveryTicks == 0
	snapshot = t.snapshot
	s.mu.Unlock()

	if remaining == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.expireActive(ctx, sessionID, cb)
		return
	}

	if warning != nil {
		cb.fireWarning(*warning)
	}
	cb.fireTick(snapshot.StateAt(now))

	if warningsDirty || periodicPersist {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.persist(ctx, snapshot); err != nil {
			utils.GetLogger().Warn("Timer snapshot persist failed on tick",
				zap.String("sessionId", sessionID), zap.Error(err))
		}
		cancel()
	}

	s.armTick(sessionID)
}

// expireActive transitions an in-memory timer to its terminal state.
func (s *DefaultTimerService) expireActive(ctx context.Context, sessionID string, cb Callbacks) {
	s.mu.Lock()
	t, ok := s.active[sessionID]
	delete(s.active, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.expire(ctx, sessionID, t.snapshot, cb)
}

func (s *DefaultTimerService) expire(ctx context.Context, sessionID string, snapshot models.TimerSnapshot, cb Callbacks) {
	s.timers.Stop(tickKey(sessionID))
	s.mu.Lock()
	delete(s.loaded, sessionID)
	s.mu.Unlock()
	if err := s.store.Remove(ctx, TimerKeyPrefix+sessionID); err != nil {
		utils.GetLogger().Warn("Timer snapshot remove failed on expiry",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
	billed := snapshot.RatePerMinute * float64((snapshot.TotalDurationSeconds+59)/60)
	utils.GetLogger().Info("Session timer expired",
		zap.String("sessionId", sessionID), zap.Float64("billed", billed))
	cb.fireEnd(models.SessionEndInfo{
		SessionID: sessionID,
		Reason:    "time_expired",
		Billed:    billed,
	})
}

func (s *DefaultTimerService) persist(ctx context.Context, snapshot models.TimerSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode timer snapshot: %w", err)
	}
	if err := s.store.Set(ctx, TimerKeyPrefix+snapshot.SessionID, raw); err != nil {
		return utils.StorageError("persist timer snapshot", err)
	}
	return nil
}

func (s *DefaultTimerService) load(ctx context.Context, sessionID string) (models.TimerSnapshot, error) {
	raw, err := s.store.Get(ctx, TimerKeyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.TimerSnapshot{}, ErrTimerNotFound
		}
		return models.TimerSnapshot{}, utils.StorageError("read timer snapshot", err)
	}
	var snapshot models.TimerSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return models.TimerSnapshot{}, utils.StorageError("decode timer snapshot", err)
	}
	return snapshot, nil
}

func (cb Callbacks) fireTick(state models.TimerState) {
	if cb.OnTick != nil {
		cb.OnTick(state)
	}
}

func (cb Callbacks) fireWarning(info models.WarningInfo) {
	if cb.OnWarning != nil {
		cb.OnWarning(info)
	}
}

func (cb Callbacks) fireEnd(info models.SessionEndInfo) {
	if cb.OnEnd != nil {
		cb.OnEnd(info)
	}
}

func tickKey(sessionID string) string {
	return "tick:" + sessionID
}
