package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"astroconnect/database"
	"astroconnect/models"
	"astroconnect/utils"

	"go.uber.org/zap"
)

// TranscriptKeyPrefix namespaces transcript records in the durable store.
const TranscriptKeyPrefix = "transcript:"

// TranscriptService is the layered cache for chat transcripts.
type TranscriptService interface {
	Get(ctx context.Context, sessionID string) (models.Transcript, error)
	Append(ctx context.Context, sessionID string, msg models.ChatMessage, urgent bool) (models.Transcript, bool)
	MergeRemote(ctx context.Context, sessionID string, incoming models.Transcript) models.Transcript
	Flush(ctx context.Context, sessionID string)
	Remove(ctx context.Context, sessionID string) error
}

// SessionCache is the middle tier: it survives component remount because it
// is owned by the session-scoped context, not by any one service instance.
type SessionCache struct {
	mu   sync.RWMutex
	data map[string]models.Transcript
}

func NewSessionCache() *SessionCache {
	return &SessionCache{data: make(map[string]models.Transcript)}
}

func (c *SessionCache) get(sessionID string) (models.Transcript, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.data[sessionID]
	return t, ok
}

func (c *SessionCache) put(sessionID string, t models.Transcript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[sessionID] = t
}

func (c *SessionCache) remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, sessionID)
}

// DefaultTranscriptService implements TranscriptService over three tiers:
// an in-process map, the shared SessionCache, and the durable KV store.
// Reads check tiers fastest-first and backfill faster tiers from a durable
// hit. Writes land in both memory tiers synchronously; the durable write is
// immediate for urgent callers and debounced otherwise. A durable-tier
// failure is logged and swallowed: the session keeps running memory-only.
type DefaultTranscriptService struct {
	mu           sync.Mutex
	processCache map[string]models.Transcript
	// degraded marks sessions whose durable baseline read failed. While set,
	// durable writes merge with a fresh read instead of overwriting, so
	// history this process never saw cannot be erased.
	degraded map[string]bool

	sessionCache *SessionCache
	durable      database.KVStore

	timers   *utils.TimerSet
	debounce time.Duration
}

func NewTranscriptService(sessionCache *SessionCache, durable database.KVStore, debounce time.Duration) *DefaultTranscriptService {
	return &DefaultTranscriptService{
		processCache: make(map[string]models.Transcript),
		degraded:     make(map[string]bool),
		sessionCache: sessionCache,
		durable:      durable,
		timers:       utils.NewTimerSet(),
		debounce:     debounce,
	}
}

// Get returns the transcript for sessionID, consulting tiers fastest-first.
func (s *DefaultTranscriptService) Get(ctx context.Context, sessionID string) (models.Transcript, error) {
	s.mu.Lock()
	if t, ok := s.processCache[sessionID]; ok {
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	if t, ok := s.sessionCache.get(sessionID); ok {
		s.mu.Lock()
		s.processCache[sessionID] = t
		s.mu.Unlock()
		return t, nil
	}

	raw, err := s.durable.Get(ctx, TranscriptKeyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		s.mu.Lock()
		s.degraded[sessionID] = true
		s.mu.Unlock()
		utils.GetLogger().Warn("Durable transcript read failed, serving memory only",
			zap.String("sessionId", sessionID), zap.Error(err))
		return nil, utils.StorageError("read transcript", err)
	}
	var t models.Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, utils.StorageError("decode transcript", err)
	}

	// Backfill the faster tiers from the durable hit.
	s.sessionCache.put(sessionID, t)
	s.mu.Lock()
	s.processCache[sessionID] = t
	s.mu.Unlock()
	return t, nil
}

// Append adds msg under the duplicate identity rule and reports whether it
// was new. Memory tiers are updated synchronously; the durable write is
// immediate when urgent, otherwise debounced.
func (s *DefaultTranscriptService) Append(ctx context.Context, sessionID string, msg models.ChatMessage, urgent bool) (models.Transcript, bool) {
	current, _ := s.Get(ctx, sessionID)
	updated, added := AppendUnique(current, msg)
	if !added {
		return current, false
	}
	s.storeInMemory(sessionID, updated)
	s.scheduleDurableWrite(sessionID, urgent)
	return updated, true
}

// MergeRemote reconciles backend history with the cached transcript and
// persists the union urgently.
func (s *DefaultTranscriptService) MergeRemote(ctx context.Context, sessionID string, incoming models.Transcript) models.Transcript {
	current, _ := s.Get(ctx, sessionID)
	merged := Merge(current, incoming)
	s.storeInMemory(sessionID, merged)
	s.scheduleDurableWrite(sessionID, true)
	return merged
}

// Flush forces any pending debounced write out to the durable tier now.
func (s *DefaultTranscriptService) Flush(ctx context.Context, sessionID string) {
	s.timers.Stop(flushKey(sessionID))
	s.writeDurable(sessionID)
}

// Remove drops the transcript from every tier.
func (s *DefaultTranscriptService) Remove(ctx context.Context, sessionID string) error {
	s.timers.Stop(flushKey(sessionID))
	s.mu.Lock()
	delete(s.processCache, sessionID)
	delete(s.degraded, sessionID)
	s.mu.Unlock()
	s.sessionCache.remove(sessionID)
	if err := s.durable.Remove(ctx, TranscriptKeyPrefix+sessionID); err != nil {
		return utils.StorageError("remove transcript", err)
	}
	return nil
}

func (s *DefaultTranscriptService) storeInMemory(sessionID string, t models.Transcript) {
	s.mu.Lock()
	s.processCache[sessionID] = t
	s.mu.Unlock()
	s.sessionCache.put(sessionID, t)
}

func (s *DefaultTranscriptService) scheduleDurableWrite(sessionID string, urgent bool) {
	if urgent {
		s.timers.Stop(flushKey(sessionID))
		s.writeDurable(sessionID)
		return
	}
	s.timers.Start(flushKey(sessionID), s.debounce, func() {
		s.writeDurable(sessionID)
	})
}

func (s *DefaultTranscriptService) writeDurable(sessionID string) {
	s.mu.Lock()
	t, ok := s.processCache[sessionID]
	degraded := s.degraded[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if degraded {
		// The baseline read failed earlier, so a blind write could erase
		// durable history this process never saw. Re-read and merge first;
		// while the tier stays unreachable the transcript lives in memory.
		raw, err := s.durable.Get(ctx, TranscriptKeyPrefix+sessionID)
		switch {
		case err == nil:
			var stored models.Transcript
			if err := json.Unmarshal(raw, &stored); err == nil {
				t = Merge(t, stored)
				s.storeInMemory(sessionID, t)
			}
		case !errors.Is(err, database.ErrNotFound):
			utils.GetLogger().Warn("Durable tier still unreachable, transcript kept in memory",
				zap.String("sessionId", sessionID), zap.Error(err))
			return
		}
		s.mu.Lock()
		delete(s.degraded, sessionID)
		s.mu.Unlock()
	}

	raw, err := json.Marshal(t)
	if err != nil {
		utils.GetLogger().Error("Failed to encode transcript", zap.String("sessionId", sessionID), zap.Error(err))
		return
	}
	if err := s.durable.Set(ctx, TranscriptKeyPrefix+sessionID, raw); err != nil {
		// Invisible to the user: the memory tiers still hold the transcript.
		utils.GetLogger().Warn("Durable transcript write failed",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
}

func flushKey(sessionID string) string {
	return "flush:" + sessionID
}
