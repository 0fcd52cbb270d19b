package postgres

import (
	"context"

	"github.com/spigell/hh-autopilot/internal/model"
)

// InsertSent inserts the record unless (user, vacancy) is already present.
// The primary key makes the check and the insert one atomic statement across processes.
func (s *Store) InsertSent(ctx context.Context, rec *model.SentRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sent_records (user_id, vacancy_id, vacancy_name, employer_name, score, already_applied, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, vacancy_id) DO NOTHING`,
		rec.UserID, rec.VacancyID, rec.VacancyName, rec.EmployerName, rec.Score, rec.AlreadyApplied, rec.SentAt,
	)
	if err != nil {
		return false, classify("insert sent record", err)
	}

	return tag.RowsAffected() == 1, nil
}

// SentVacancies reports which of vacancyIDs already have a record for the user.
func (s *Store) SentVacancies(ctx context.Context, userID string, vacancyIDs []string) (map[string]bool, error) {
	sent := make(map[string]bool)
	if len(vacancyIDs) == 0 {
		return sent, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT vacancy_id FROM sent_records WHERE user_id = $1 AND vacancy_id = ANY($2)`,
		userID, vacancyIDs,
	)
	if err != nil {
		return nil, classify("select sent records", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan sent record", err)
		}
		sent[id] = true
	}

	return sent, classify("select sent records", rows.Err())
}

func (s *Store) CountSent(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sent_records WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, classify("count sent records", err)
	}
	return count, nil
}
