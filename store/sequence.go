package store

import (
	"context"
	"fmt"
	"sort"
)

// NextSequence returns one more than the highest sequence number used by the
// creator's temp channels. Gaps are not reused here; Renumber closes them.
func NextSequence(ctx context.Context, s Store, creatorID string) (int, error) {
	seqs, err := s.ListSequenceNumbers(ctx, creatorID)
	if err != nil {
		return 0, fmt.Errorf("list sequence numbers: %w", err)
	}
	max := 0
	for _, n := range seqs {
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// CompactMapping returns the renumbering that turns seqs into 1..n while
// keeping their relative order. Channels already holding their target number
// are left out, so a compact input yields an empty mapping.
func CompactMapping(seqs map[string]int) map[string]int {
	ids := make([]string, 0, len(seqs))
	for id := range seqs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if seqs[ids[i]] != seqs[ids[j]] {
			return seqs[ids[i]] < seqs[ids[j]]
		}
		return ids[i] < ids[j]
	})
	mapping := make(map[string]int)
	for i, id := range ids {
		if want := i + 1; seqs[id] != want {
			mapping[id] = want
		}
	}
	return mapping
}

// Renumber closes gaps in the creator's sequence numbers. It writes nothing
// when the numbering is already compact and reports whether anything changed.
func Renumber(ctx context.Context, s Store, creatorID string) (bool, error) {
	seqs, err := s.ListSequenceNumbers(ctx, creatorID)
	if err != nil {
		return false, fmt.Errorf("list sequence numbers: %w", err)
	}
	mapping := CompactMapping(seqs)
	if len(mapping) == 0 {
		return false, nil
	}
	if err := s.RenumberSequences(ctx, creatorID, mapping); err != nil {
		return false, fmt.Errorf("renumber sequences: %w", err)
	}
	return true, nil
}
