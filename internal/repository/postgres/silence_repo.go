package postgres

import (
	"context"
	"database/sql"
	"time"
)

// SilenceRepo хранит операторские заглушки алертов. Postgres — источник
// истины: Redis-сет прогревается из него на старте и при переподключении.
type SilenceRepo struct {
	db *sql.DB
}

func NewSilenceRepo(db *sql.DB) *SilenceRepo {
	return &SilenceRepo{db: db}
}

// GetSilencedAgents возвращает имена агентов с активной заглушкой.
func (r *SilenceRepo) GetSilencedAgents(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT agent_name FROM alert_silences WHERE active = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetSilence включает/выключает заглушку. Upsert: повторное включение
// обновляет автора и время, а не плодит строки.
func (r *SilenceRepo) SetSilence(ctx context.Context, agentName, actor string, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_silences (agent_name, actor, active, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_name)
		DO UPDATE SET actor = $2, active = $3, updated_at = $4`,
		agentName, actor, active, time.Now(),
	)
	return err
}
