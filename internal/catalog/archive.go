package catalog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kmajdoub/botfleet/internal/models"
	"github.com/kmajdoub/botfleet/internal/session"
)

// Archive persists run summaries of ended sessions.
type Archive struct {
	db *gorm.DB
}

// NewArchive wraps an open database connection.
func NewArchive(db *gorm.DB) *Archive {
	return &Archive{db: db}
}

// SaveSummary stores the final snapshot of an ended session.
func (a *Archive) SaveSummary(ctx context.Context, sum session.RunSummary) error {
	row := models.RunSummary{
		SessionID:        sum.SessionID,
		Leader:           sum.Leader,
		Status:           string(sum.Status),
		StatusReason:     sum.StatusReason,
		StartTime:        sum.StartTime,
		EndedAt:          sum.EndedAt,
		TotalRunSeconds:  int64(sum.TotalRunTime / time.Second),
		NumberOfRestarts: sum.NumberOfRestarts,
		EarnedKamas:      sum.EarnedKamas,
		NbrFightsDone:    sum.NbrFightsDone,
		EarnedLevels:     sum.EarnedLevels,
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("catalog: save summary for %s: %w", sum.SessionID, err)
	}
	return nil
}

// ListSummaries returns archived summaries, newest first. A non-empty
// leader filters to that leader's runs; limit <= 0 means no limit.
func (a *Archive) ListSummaries(ctx context.Context, leader string, limit int) ([]session.RunSummary, error) {
	q := a.db.WithContext(ctx).Order("ended_at desc")
	if leader != "" {
		q = q.Where("leader = ?", leader)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.RunSummary
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: list summaries: %w", err)
	}

	sums := make([]session.RunSummary, 0, len(rows))
	for _, row := range rows {
		sums = append(sums, session.RunSummary{
			SessionID:        row.SessionID,
			Leader:           row.Leader,
			Status:           session.Status(row.Status),
			StatusReason:     row.StatusReason,
			StartTime:        row.StartTime,
			EndedAt:          row.EndedAt,
			TotalRunTime:     time.Duration(row.TotalRunSeconds) * time.Second,
			NumberOfRestarts: row.NumberOfRestarts,
			EarnedKamas:      row.EarnedKamas,
			NbrFightsDone:    row.NbrFightsDone,
			EarnedLevels:     row.EarnedLevels,
		})
	}
	return sums, nil
}
