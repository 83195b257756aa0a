package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fleetmaint/backoffice/internal/shared"
)

// PgRepository reads audit_logs through the shared querier source.
type PgRepository struct {
	db shared.QuerierSource
}

// NewRepository constructs PgRepository.
func NewRepository(src shared.QuerierSource) *PgRepository {
	return &PgRepository{db: src}
}

const timelineSQL = `SELECT occurred_at, actor, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::text IS NULL OR actor = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id DESC
LIMIT $7 OFFSET $8`

// Timeline implements Repository.
func (r *PgRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, timelineSQL,
		optionalTime(q.From), optionalTime(q.To),
		optionalText(q.Actor), optionalText(q.Entity), optionalText(q.EntityID), optionalText(q.Action),
		q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []TimelineRow{}
	for rows.Next() {
		var (
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&row.At, &row.Actor, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 && string(meta) != "null" {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, err
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func optionalTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}
