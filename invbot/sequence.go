package invbot

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceCounter is a dedicated counter row per (prefix, year). The
// ordinal is incremented inside the same transaction that inserts the
// record it numbers, so concurrent creations of the same kind can
// never observe or assign the same sequence number, and counters
// reset naturally at year rollover (a new year gets a new row).
type SequenceCounter struct {
	Prefix    string `gorm:"primaryKey" json:"prefix"`
	Year      int    `gorm:"primaryKey" json:"year"`
	Ordinal   int64  `gorm:"not null" json:"ordinal"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// formatSequenceNumber renders `{PREFIX}-{year}-{ordinal}` with the
// ordinal zero-padded to at least 3 digits.
func formatSequenceNumber(prefix string, year int, ordinal int64) string {
	return fmt.Sprintf("%s-%d-%03d", prefix, year, ordinal)
}

// nextSequenceNumber increments and returns the sequence number for
// the given kind. It must be called inside the transaction that
// persists the record being numbered. The year is read on every call,
// never cached, so creations spanning a year boundary land in the
// correct partition.
//
// The counter row is seeded with an insert-or-ignore, then bumped
// with an atomic `ordinal = ordinal + 1`. On Postgres the update
// takes the row lock, so the read-back within the transaction sees
// our increment; on SQLite the store mutex serializes writes.
func nextSequenceNumber(tx *gorm.DB, kind RecordKind, now time.Time) (string, error) {
	prefix := kind.Prefix()
	if prefix == "" {
		return "", fmt.Errorf("unknown record kind: %q", string(kind))
	}
	year := now.Year()

	seed := SequenceCounter{Prefix: prefix, Year: year, Ordinal: 0}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return "", err
	}

	rv := tx.Model(&SequenceCounter{}).
		Where("prefix = ? AND year = ?", prefix, year).
		Update("ordinal", gorm.Expr("ordinal + 1"))
	if rv.Error != nil {
		return "", rv.Error
	}
	if rv.RowsAffected == 0 {
		return "", fmt.Errorf("sequence counter %s-%d disappeared mid-update", prefix, year)
	}

	var counter SequenceCounter
	err := tx.Where("prefix = ? AND year = ?", prefix, year).First(&counter).Error
	if err != nil {
		return "", err
	}

	return formatSequenceNumber(prefix, year, counter.Ordinal), nil
}
