// Package storage persists final risk assessments for investigation and
// audit. Persistence is best-effort: evaluation never depends on it.
package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// AssessmentRepository stores final assessments in PostgreSQL
type AssessmentRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewAssessmentRepository connects a pool to the repository
func NewAssessmentRepository(pool *pgxpool.Pool, log *logger.Logger) *AssessmentRepository {
	return &AssessmentRepository{
		pool: pool,
		log:  log.Named("assessment_repo"),
	}
}

const insertAssessment = `
INSERT INTO fraud_assessments (
	id, transaction_id, customer_id, score, confidence,
	recommended_action, flags, explanation, produced_by, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Save persists one assessment row
func (r *AssessmentRepository) Save(ctx context.Context, tx *domain.Transaction, assessment *domain.RiskAssessment) error {
	_, err := r.pool.Exec(ctx, insertAssessment,
		uuid.New(),
		tx.ID,
		tx.CustomerID,
		assessment.Score,
		assessment.Confidence,
		string(assessment.RecommendedAction),
		assessment.FlagCodes(),
		assessment.Explanation,
		assessment.ProducerName,
		assessment.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

// StoredAssessment is a persisted assessment row
type StoredAssessment struct {
	ID                uuid.UUID `json:"id"`
	TransactionID     string    `json:"transaction_id"`
	CustomerID        string    `json:"customer_id"`
	Score             float64   `json:"score"`
	RecommendedAction string    `json:"recommended_action"`
	Explanation       string    `json:"explanation"`
}

const selectByAction = `
SELECT id, transaction_id, customer_id, score, recommended_action, explanation
FROM fraud_assessments
WHERE recommended_action = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

// ListByAction returns recent assessments with the given recommended
// action, newest first
func (r *AssessmentRepository) ListByAction(ctx context.Context, action string, limit, offset int) ([]StoredAssessment, error) {
	rows, err := r.pool.Query(ctx, selectByAction, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	var out []StoredAssessment
	for rows.Next() {
		var a StoredAssessment
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.CustomerID, &a.Score, &a.RecommendedAction, &a.Explanation); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
