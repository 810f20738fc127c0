package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/fleet-observer/internal/alert"
)

type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// Open настраивает пул соединений для репозиториев наблюдателя.
// minConns держит теплый запас idle-соединений под пиковые flush'и.
func Open(connString string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// WriteBatch — пакетная вставка истории сигналов одной командой.
func (r *AlertRepo) WriteBatch(ctx context.Context, events []alert.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице alert_events
	numFields := 11
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		vals = append(vals,
			e.ID, string(e.Kind), e.AgentName, string(e.Severity),
			e.WindowShort, e.WindowLong, e.ErrorRateShort, e.ErrorRateLong,
			e.BurnRatio, e.P95Seconds, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO alert_events (id, kind, agent_name, severity, window_short, window_long, error_rate_short, error_rate_long, burn_ratio, p95_seconds, created_at) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

func (r *AlertRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
