package gtmi

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// FormatGTMINumber renders the human-readable document number for a year and
// allocated sequence: GTMI-<year>-<6-digit-seq>.
func FormatGTMINumber(year, seq int) string {
	return fmt.Sprintf("GTMI-%d-%06d", year, seq)
}

// allocateSequence reads the current maximum sequence for (tenant, year) and
// commits to max+1 by inserting a row under the composite unique index, all
// inside the caller's transaction. A concurrent allocator racing to the same
// number makes the insert fail with a uniqueness conflict, which aborts the
// whole transaction; the caller retries from the read via withSequenceRetry.
func allocateSequence(tx *gorm.DB, tenantID uint, year int) (int, error) {
	var current int
	err := tx.Model(&GTMISequence{}).
		Where("tenant_id = ? AND year = ?", tenantID, year).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&current).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence for %d/%d: %w", tenantID, year, err)
	}

	next := current + 1
	row := GTMISequence{TenantID: tenantID, Year: year, Seq: next}
	if err := tx.Create(&row).Error; err != nil {
		return 0, err
	}
	return next, nil
}

// withSequenceRetry runs one transactional operation that allocates a GTMI
// number, retrying the whole transaction on a uniqueness conflict. This is
// optimistic concurrency, not a lock: racing allocators may both read the same
// maximum, but only one wins the insert. Exhausting the attempts is a fatal
// allocation failure reported as Conflict.
func (s *Service) withSequenceRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < sequenceMaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", ErrConflict, sequenceMaxAttempts, err)
}
