package silence

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/infra"
)

// SilenceProvider описывает персистентное хранилище заглушек.
// Реализуется SilenceRepo из пакета repository/postgres.
type SilenceProvider interface {
	GetSilencedAgents(ctx context.Context) ([]string, error)
	SetSilence(ctx context.Context, agentName, actor string, active bool) error
}

// Manager — операторские заглушки алертов. Заглушенный агент продолжает
// оцениваться (статус виден в API), но его сигналы не уходят в доставку.
// Состояние переживает рестарт: Postgres -> Redis -> локальная мапа.
type Manager struct {
	repo   SilenceProvider
	rdb    *redis.Client
	logger *zap.Logger

	mu       sync.RWMutex
	silenced map[string]bool
}

func NewManager(rdb *redis.Client, repo SilenceProvider, logger *zap.Logger) *Manager {
	return &Manager{
		repo:     repo,
		rdb:      rdb,
		logger:   logger.With(zap.String("mod", "silence")),
		silenced: make(map[string]bool),
	}
}

// Init загружает активные заглушки при старте и греет Redis-сет.
func (m *Manager) Init(ctx context.Context) error {
	ids, err := m.repo.GetSilencedAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch silenced agents from DB: %w", err)
	}

	return warmupState(ctx, m.rdb, m.logger, ids,
		infra.RedisKeySilencedAgents, infra.RedisKeyLockSilenceWarm,
		func(items []string) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.silenced = make(map[string]bool, len(items))
			for _, id := range items {
				m.silenced[id] = true
			}
		})
}

// StartListener подписывается на изменения заглушек в реальном времени:
// несколько инстансов observer видят операторское действие одновременно.
func (m *Manager) StartListener(ctx context.Context) {
	listenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanSilence,
		func() error { return m.Init(ctx) }, // Переподключение
		func(id string, status bool) { // Обработка сообщения
			m.mu.Lock()
			defer m.mu.Unlock()
			if status {
				m.silenced[id] = true
			} else {
				delete(m.silenced, id)
			}
		},
	)
}

// IsSilenced — максимально быстрый метод для проверки в Hot Path оценки.
func (m *Manager) IsSilenced(agentName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.silenced[agentName]
}

// Set включает/выключает заглушку: персист в БД, Redis-сет, сигнал
// остальным инстансам и немедленное обновление локальной мапы.
func (m *Manager) Set(ctx context.Context, agentName, actor string, active bool) error {
	if err := m.repo.SetSilence(ctx, agentName, actor, active); err != nil {
		return fmt.Errorf("failed to persist silence: %w", err)
	}

	if active {
		if err := m.rdb.SAdd(ctx, infra.RedisKeySilencedAgents, agentName).Err(); err != nil {
			m.logger.Error("silence set update failed", zap.Error(err))
		}
	} else {
		if err := m.rdb.SRem(ctx, infra.RedisKeySilencedAgents, agentName).Err(); err != nil {
			m.logger.Error("silence set update failed", zap.Error(err))
		}
	}

	signal := agentName + ":off"
	if active {
		signal = agentName + ":on"
	}
	if err := m.rdb.Publish(ctx, infra.RedisChanSilence, signal).Err(); err != nil {
		m.logger.Error("silence signal publish failed", zap.Error(err))
	}

	m.mu.Lock()
	if active {
		m.silenced[agentName] = true
	} else {
		delete(m.silenced, agentName)
	}
	m.mu.Unlock()

	m.logger.Info("silence updated",
		zap.String("agent", agentName),
		zap.String("actor", actor),
		zap.Bool("active", active),
	)
	return nil
}
