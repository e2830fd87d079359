package chat

import (
	"testing"
	"time"

	"astroconnect/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func msg(id, sender, content string, ts time.Time) models.ChatMessage {
	return models.ChatMessage{ID: id, SenderID: sender, Content: content, Timestamp: ts}
}

func TestAppendUnique(t *testing.T) {
	tests := []struct {
		name      string
		existing  models.Transcript
		incoming  models.ChatMessage
		wantAdded bool
		wantLen   int
	}{
		{
			name:      "first message appends",
			existing:  nil,
			incoming:  msg("1", "u1", "hi", base),
			wantAdded: true,
			wantLen:   1,
		},
		{
			name:      "identical id rejected",
			existing:  models.Transcript{msg("1", "u1", "hi", base)},
			incoming:  msg("1", "u2", "different", base.Add(time.Hour)),
			wantAdded: false,
			wantLen:   1,
		},
		{
			name:      "same sender and content inside window rejected",
			existing:  models.Transcript{msg("1", "u1", "hi", base)},
			incoming:  msg("srv-9", "u1", "hi", base.Add(2*time.Second)),
			wantAdded: false,
			wantLen:   1,
		},
		{
			name:      "same sender and content outside window kept",
			existing:  models.Transcript{msg("1", "u1", "hi", base)},
			incoming:  msg("srv-9", "u1", "hi", base.Add(6*time.Second)),
			wantAdded: true,
			wantLen:   2,
		},
		{
			name:      "different content inside window kept",
			existing:  models.Transcript{msg("1", "u1", "hi", base)},
			incoming:  msg("2", "u1", "hello", base.Add(time.Second)),
			wantAdded: true,
			wantLen:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, added := AppendUnique(tt.existing, tt.incoming)
			assert.Equal(t, tt.wantAdded, added)
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestAppendUniqueOutOfOrderResorts(t *testing.T) {
	transcript := models.Transcript{
		msg("1", "u1", "first", base),
		msg("2", "u2", "second", base.Add(10*time.Second)),
	}
	late := msg("3", "u1", "late arrival", base.Add(5*time.Second))

	got, added := AppendUnique(transcript, late)
	require.True(t, added)
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Equal(t, "2", got[2].ID)
}

func TestMerge(t *testing.T) {
	local := models.Transcript{
		msg("a", "u1", "hello", base),
		msg("local-tmp", "u1", "pending", base.Add(20*time.Second)),
	}
	incoming := models.Transcript{
		msg("a", "u1", "hello", base),                             // exact id duplicate
		msg("srv-7", "u1", "pending", base.Add(22*time.Second)),   // echo of the optimistic send
		msg("srv-8", "u2", "welcome", base.Add(10*time.Second)),   // genuinely new, older
		msg("srv-9", "u2", "how can I help", base.Add(time.Hour)), // genuinely new
	}

	merged := Merge(local, incoming)
	require.Len(t, merged, 4)

	// Timestamp-ascending union.
	for i := 1; i < len(merged); i++ {
		assert.False(t, merged[i].Timestamp.Before(merged[i-1].Timestamp))
	}
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "srv-8", merged[1].ID)
	assert.Equal(t, "local-tmp", merged[2].ID)
	assert.Equal(t, "srv-9", merged[3].ID)
}

func TestMergeEmptySides(t *testing.T) {
	only := models.Transcript{msg("1", "u1", "hi", base)}
	assert.Len(t, Merge(nil, only), 1)
	assert.Len(t, Merge(only, nil), 1)
	assert.Empty(t, Merge(nil, nil))
}
