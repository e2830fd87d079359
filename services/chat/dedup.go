package chat

import (
	"sort"

	"astroconnect/models"
)

// AppendUnique adds msg to transcript unless an existing entry has the same
// id, or the same (sender, content) within the duplicate window. Reports
// whether the message was appended. The common case is an O(1) append; a
// full stable re-sort happens only when msg arrives out of timestamp order.
func AppendUnique(transcript models.Transcript, msg models.ChatMessage) (models.Transcript, bool) {
	for _, existing := range transcript {
		if existing.SameAs(msg) {
			return transcript, false
		}
	}
	transcript = append(transcript, msg)
	if n := len(transcript); n > 1 && msg.Timestamp.Before(transcript[n-2].Timestamp) {
		sortByTimestamp(transcript)
	}
	return transcript, true
}

// Merge combines two transcripts under the duplicate identity rule and
// returns a timestamp-sorted union. Used to reconcile backend history with
// the locally cached transcript.
func Merge(local, incoming models.Transcript) models.Transcript {
	merged := make(models.Transcript, len(local))
	copy(merged, local)
	for _, msg := range incoming {
		duplicate := false
		for _, existing := range merged {
			if existing.SameAs(msg) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			merged = append(merged, msg)
		}
	}
	sortByTimestamp(merged)
	return merged
}

func sortByTimestamp(transcript models.Transcript) {
	sort.SliceStable(transcript, func(i, j int) bool {
		return transcript[i].Timestamp.Before(transcript[j].Timestamp)
	})
}
