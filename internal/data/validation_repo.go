package data

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
)

// ValidationHistoryRepo appends one row per validation run so the retry
// loop's trajectory survives process restarts (spec §3.1, §4.7).
type ValidationHistoryRepo interface {
	Record(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, attempt int, result *evaluation.Result) error
	ListBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]ValidationHistoryRecord, error)
}

type validationHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewValidationHistoryRepo(db *gorm.DB, log *logger.Logger) ValidationHistoryRepo {
	return &validationHistoryRepo{db: db, log: log.With("repo", "ValidationHistoryRepo")}
}

func (r *validationHistoryRepo) Record(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, attempt int, result *evaluation.Result) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if result == nil {
		return nil
	}

	issuesJSON, err := json.Marshal(result.Issues)
	if err != nil {
		return err
	}
	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return err
	}
	fileInfoJSON, err := json.Marshal(result.FileInfo)
	if err != nil {
		return err
	}

	record := ValidationHistoryRecord{
		ID:        uuid.New(),
		SessionID: sessionID,
		Attempt:   attempt,
		Outcome:   string(result.Outcome),
		Issues:    datatypes.JSON(issuesJSON),
		Summary:   datatypes.JSON(summaryJSON),
		FileInfo:  datatypes.JSON(fileInfoJSON),
		NWBPath:   result.ReportPaths.NWBPath,
		PDFPath:   result.ReportPaths.PDFPath,
		TextPath:  result.ReportPaths.TextPath,
	}

	return transaction.WithContext(ctx).Create(&record).Error
}

func (r *validationHistoryRepo) ListBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]ValidationHistoryRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var records []ValidationHistoryRecord
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
