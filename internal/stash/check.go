package stash

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// OrphanGracePeriod is how old an unreferenced blob must be before Check
// treats it as an orphan. Another process may have published a younger
// blob and not yet committed the entry that references it.
const OrphanGracePeriod = time.Hour

// CountMismatch is a hash whose ledger count differs from its live entries.
type CountMismatch struct {
	Hash    ContentHash
	Ledger  int64
	Entries int64
}

// CheckReport summarizes a consistency check of the registry, the ledger
// and the blob store.
type CheckReport struct {
	Blobs      int
	References int
	Entries    int64

	// OrphanBlobs have no live entry referencing them.
	OrphanBlobs []ContentHash
	// PendingBlobs are unreferenced but younger than OrphanGracePeriod.
	PendingBlobs []ContentHash
	// MissingBlobs are referenced by live entries but absent from the store.
	MissingBlobs []ContentHash
	// Mismatches have a ledger count that differs from the live entry count.
	Mismatches []CountMismatch

	Repaired int
}

// Clean reports whether the check found nothing to fix.
func (r *CheckReport) Clean() bool {
	return len(r.OrphanBlobs) == 0 && len(r.MissingBlobs) == 0 && len(r.Mismatches) == 0
}

// Check compares the ledger against the live entries and the blob store.
// With repair set, ledger counts are reset to the live entry counts and
// orphan blobs are erased. Missing blobs cannot be repaired and are only
// reported.
//
// Each hash is re-examined under its lock before repairing. The lock only
// covers this process, so unreferenced blobs stored within
// OrphanGracePeriod are reported as pending and never erased; a stash
// serve in another process may be about to register them.
func (s *StashService) Check(ctx context.Context, repair bool) (*CheckReport, error) {
	refs, err := s.database.ListReferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	entries, err := s.database.CountEntriesByHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting file entries: %w", err)
	}
	blobs, err := s.blobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}

	report := &CheckReport{Blobs: len(blobs), References: len(refs)}
	stored := make(map[ContentHash]bool, len(blobs))
	hashes := make(map[ContentHash]struct{}, len(refs)+len(entries)+len(blobs))
	for _, h := range blobs {
		stored[h] = true
		hashes[h] = struct{}{}
	}
	for h := range refs {
		hashes[h] = struct{}{}
	}
	for h, n := range entries {
		hashes[h] = struct{}{}
		report.Entries += n
	}

	ordered := make([]ContentHash, 0, len(hashes))
	for h := range hashes {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	for _, h := range ordered {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if refs[h] == entries[h] && (entries[h] == 0) != stored[h] {
			continue
		}
		if err := s.checkHash(ctx, h, repair, report); err != nil {
			return report, err
		}
	}

	s.logger.Info("check complete",
		"blobs", report.Blobs,
		"references", report.References,
		"entries", report.Entries,
		"orphans", len(report.OrphanBlobs),
		"missing", len(report.MissingBlobs),
		"mismatches", len(report.Mismatches),
		"repaired", report.Repaired,
	)
	return report, nil
}

// checkHash re-reads the state of one hash under its lock, records any
// inconsistency and optionally repairs it.
func (s *StashService) checkHash(ctx context.Context, h ContentHash, repair bool, report *CheckReport) error {
	unlock := s.lockHash(h)
	defer unlock()

	ledger, err := s.database.ReferenceCount(ctx, h)
	if err != nil {
		return fmt.Errorf("reading reference count: %w", err)
	}
	live, err := s.database.CountEntries(ctx, h)
	if err != nil {
		return fmt.Errorf("counting file entries: %w", err)
	}
	exists, err := s.blobs.Has(ctx, h)
	if err != nil {
		return fmt.Errorf("checking blob: %w", err)
	}

	if ledger != live {
		report.Mismatches = append(report.Mismatches, CountMismatch{Hash: h, Ledger: ledger, Entries: live})
		s.violation("count_mismatch", "hash", h.String(), "ledger", ledger, "entries", live)
		if repair {
			if err := s.database.SetReferenceCount(ctx, h, live); err != nil {
				return fmt.Errorf("resetting reference count: %w", err)
			}
			report.Repaired++
		}
	}

	switch {
	case live > 0 && !exists:
		report.MissingBlobs = append(report.MissingBlobs, h)
		s.violation("missing_blob", "hash", h.String(), "entries", live)
	case live == 0 && exists:
		stored, err := s.blobs.Modified(ctx, h)
		if err != nil {
			return fmt.Errorf("checking blob age: %w", err)
		}
		if s.clock.Now().Sub(stored) < OrphanGracePeriod {
			report.PendingBlobs = append(report.PendingBlobs, h)
			s.logger.Debug("unreferenced blob within grace period", "hash", h.String())
			return nil
		}
		report.OrphanBlobs = append(report.OrphanBlobs, h)
		s.logger.Warn("orphan blob", "hash", h.String())
		if repair {
			if err := s.blobs.Delete(ctx, h); err != nil {
				return fmt.Errorf("erasing orphan blob: %w", err)
			}
			report.Repaired++
		}
	}
	return nil
}
