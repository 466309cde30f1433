package data

import "gorm.io/gorm/clause"

// upsertBySessionID builds the ON CONFLICT clause SessionRepo.Upsert uses
// to keep one row per session_id current rather than growing an unbounded
// history table for a value that's inherently "latest wins".
func upsertBySessionID() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"input_path", "detected_format", "conversation_phase",
			"metadata_policy", "overall_status", "validation_status",
			"conversion_status", "correction_attempt", "progress",
			"snapshot", "updated_at",
		}),
	}
}
