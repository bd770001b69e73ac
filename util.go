package colcache

import (
	"slices"
)

func sortIDs(ids []RecordID) {
	slices.Sort(ids)
}

// uniqueIDs returns ids without repetitions, keeping the first occurrence of
// each ID.
func uniqueIDs(ids []RecordID) []RecordID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[RecordID]struct{}, len(ids))
	result := make([]RecordID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}
	return result
}
