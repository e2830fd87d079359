package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"astroconnect/database"
	"astroconnect/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSession = "sess-1"

func newService(t *testing.T) (*DefaultTranscriptService, *database.MemoryStore, *SessionCache) {
	t.Helper()
	store := database.NewMemoryStore()
	cache := NewSessionCache()
	svc := NewTranscriptService(cache, store, 20*time.Millisecond)
	return svc, store, cache
}

func TestAppendUpdatesMemoryTiersSynchronously(t *testing.T) {
	svc, _, cache := newService(t)
	ctx := context.Background()

	_, added := svc.Append(ctx, testSession, msg("1", "u1", "hi", base), false)
	require.True(t, added)

	got, err := svc.Get(ctx, testSession)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	fromCache, ok := cache.get(testSession)
	require.True(t, ok)
	assert.Len(t, fromCache, 1)
}

func TestAppendDuplicateNotStored(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, added := svc.Append(ctx, testSession, msg("1", "u1", "hi", base), false)
	require.True(t, added)
	_, added = svc.Append(ctx, testSession, msg("1", "u1", "hi", base), false)
	assert.False(t, added)

	got, _ := svc.Get(ctx, testSession)
	assert.Len(t, got, 1)
}

func TestDurableWriteDebounced(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	svc.Append(ctx, testSession, msg("1", "u1", "hi", base), false)

	_, err := store.Get(ctx, TranscriptKeyPrefix+testSession)
	assert.ErrorIs(t, err, database.ErrNotFound, "durable write should wait out the debounce")

	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, TranscriptKeyPrefix+testSession)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestDurableWriteImmediateWhenUrgent(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	svc.Append(ctx, testSession, msg("1", "u1", "hi", base), true)

	raw, err := store.Get(ctx, TranscriptKeyPrefix+testSession)
	require.NoError(t, err)
	var got models.Transcript
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Len(t, got, 1)
}

func TestGetBackfillsFromDurableHit(t *testing.T) {
	store := database.NewMemoryStore()
	seeded := models.Transcript{msg("1", "u1", "restored", base)}
	raw, err := json.Marshal(seeded)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), TranscriptKeyPrefix+testSession, raw))

	cache := NewSessionCache()
	svc := NewTranscriptService(cache, store, 20*time.Millisecond)

	got, err := svc.Get(context.Background(), testSession)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Faster tiers are backfilled by the read.
	fromCache, ok := cache.get(testSession)
	require.True(t, ok)
	assert.Len(t, fromCache, 1)
}

func TestSessionCacheSurvivesServiceRemount(t *testing.T) {
	store := database.NewMemoryStore()
	cache := NewSessionCache()
	ctx := context.Background()

	first := NewTranscriptService(cache, store, 20*time.Millisecond)
	first.Append(ctx, testSession, msg("1", "u1", "hi", base), true)

	// Remove the durable copy so a hit can only come from the session tier.
	require.NoError(t, store.Remove(ctx, TranscriptKeyPrefix+testSession))

	remounted := NewTranscriptService(cache, store, 20*time.Millisecond)
	got, err := remounted.Get(ctx, testSession)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMergeRemotePersistsUnion(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	svc.Append(ctx, testSession, msg("local", "u1", "mine", base), true)
	merged := svc.MergeRemote(ctx, testSession, models.Transcript{
		msg("srv-1", "u2", "theirs", base.Add(time.Minute)),
	})
	assert.Len(t, merged, 2)

	raw, err := store.Get(ctx, TranscriptKeyPrefix+testSession)
	require.NoError(t, err)
	var durable models.Transcript
	require.NoError(t, json.Unmarshal(raw, &durable))
	assert.Len(t, durable, 2)
}

// flakyStore fails a scripted number of reads before delegating to the
// wrapped store.
type flakyStore struct {
	*database.MemoryStore
	failGets int
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGets > 0 {
		s.failGets--
		return nil, errors.New("connection refused")
	}
	return s.MemoryStore.Get(ctx, key)
}

func seedDurable(t *testing.T, store *database.MemoryStore, messages models.Transcript) {
	t.Helper()
	raw, err := json.Marshal(messages)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), TranscriptKeyPrefix+testSession, raw))
}

func durableTranscript(t *testing.T, store *database.MemoryStore) models.Transcript {
	t.Helper()
	raw, err := store.Get(context.Background(), TranscriptKeyPrefix+testSession)
	require.NoError(t, err)
	var got models.Transcript
	require.NoError(t, json.Unmarshal(raw, &got))
	return got
}

func TestTransientReadFailureDoesNotOverwriteDurableHistory(t *testing.T) {
	store := database.NewMemoryStore()
	seedDurable(t, store, models.Transcript{
		msg("1", "u1", "first", base),
		msg("2", "u2", "second", base.Add(time.Minute)),
	})
	flaky := &flakyStore{MemoryStore: store, failGets: 1}
	svc := NewTranscriptService(NewSessionCache(), flaky, 20*time.Millisecond)
	ctx := context.Background()

	// The baseline read fails, so the append only sees its own message. The
	// urgent write must still merge with the stored history, not replace it.
	_, added := svc.Append(ctx, testSession, msg("3", "u1", "third", base.Add(2*time.Minute)), true)
	require.True(t, added)

	got := durableTranscript(t, store)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "third", got[2].Content)
}

func TestDurableWriteSuppressedWhileTierUnreachable(t *testing.T) {
	store := database.NewMemoryStore()
	seedDurable(t, store, models.Transcript{
		msg("1", "u1", "first", base),
		msg("2", "u2", "second", base.Add(time.Minute)),
	})
	flaky := &flakyStore{MemoryStore: store, failGets: 2}
	svc := NewTranscriptService(NewSessionCache(), flaky, 20*time.Millisecond)
	ctx := context.Background()

	// Both the baseline read and the merge read fail: the durable record
	// stays untouched and the new message lives in memory.
	svc.Append(ctx, testSession, msg("3", "u1", "third", base.Add(2*time.Minute)), true)
	assert.Len(t, durableTranscript(t, store), 2)

	inMemory, err := svc.Get(ctx, testSession)
	require.NoError(t, err)
	assert.Len(t, inMemory, 1)

	// Once the tier recovers, a flush reconciles everything durably.
	svc.Flush(ctx, testSession)
	got := durableTranscript(t, store)
	assert.Len(t, got, 3)
}

func TestRemoveDropsEveryTier(t *testing.T) {
	svc, store, cache := newService(t)
	ctx := context.Background()

	svc.Append(ctx, testSession, msg("1", "u1", "hi", base), true)
	require.NoError(t, svc.Remove(ctx, testSession))

	got, err := svc.Get(ctx, testSession)
	require.NoError(t, err)
	assert.Empty(t, got)
	_, ok := cache.get(testSession)
	assert.False(t, ok)
	_, err = store.Get(ctx, TranscriptKeyPrefix+testSession)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
