package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xela07ax/fleet-observer/internal/domain"
)

// RegistryError — источник нечитаем или не парсится как документ вообще.
// Побитые отдельные записи сюда не попадают: они отбрасываются по одной.
type RegistryError struct {
	Source string
	Cause  error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry source %s unreadable: %v", e.Source, e.Cause)
}

func (e *RegistryError) Unwrap() error { return e.Cause }

// sourceDoc — формат YAML-файла реестра.
type sourceDoc struct {
	Agents []domain.AgentDescriptor `yaml:"agents"`
}

// Store — горячо перезагружаемый реестр агентов.
// Публикация снапшота — единственный atomic-своп указателя:
// читатели никогда не видят наполовину записанное состояние.
type Store struct {
	sourcePath string
	logger     *zap.Logger

	current atomic.Pointer[domain.RegistrySnapshot]

	mu   sync.Mutex // защищает subs
	subs []chan *domain.RegistrySnapshot
}

func NewStore(sourcePath string, logger *zap.Logger) *Store {
	return &Store{
		sourcePath: sourcePath,
		logger:     logger.With(zap.String("mod", "registry")),
	}
}

// Load читает источник, валидирует записи и публикует новый снапшот.
// Невалидные записи отбрасываются с warning — остальной реестр загружается.
func (s *Store) Load() (*domain.RegistrySnapshot, error) {
	fp, err := s.fingerprint()
	if err != nil {
		return nil, &RegistryError{Source: s.sourcePath, Cause: err}
	}

	data, err := os.ReadFile(s.sourcePath)
	if err != nil {
		return nil, &RegistryError{Source: s.sourcePath, Cause: err}
	}

	var doc sourceDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &RegistryError{Source: s.sourcePath, Cause: err}
	}

	snap := &domain.RegistrySnapshot{
		Agents:      s.validate(doc.Agents),
		Fingerprint: fp,
		LoadedAt:    time.Now(),
	}

	s.current.Store(snap)
	s.logger.Info("registry snapshot loaded",
		zap.String("fingerprint", snap.Fingerprint),
		zap.Int("agents", len(snap.Agents)),
	)
	return snap, nil
}

// validate отбрасывает записи, нарушающие инварианты, — по одной, с логом.
// Никакой тихой коррекции порогов: плохая запись просто не попадает в снапшот.
func (s *Store) validate(in []domain.AgentDescriptor) []domain.AgentDescriptor {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.AgentDescriptor, 0, len(in))

	for _, a := range in {
		reason := ""
		switch {
		case a.Name == "":
			reason = "missing name"
		case a.Endpoint == "":
			reason = "missing endpoint"
		case a.LatencyP95WarningSeconds <= 0 || a.LatencyP95CriticalSeconds <= 0:
			reason = "non-positive latency threshold"
		case a.LatencyP95WarningSeconds > a.LatencyP95CriticalSeconds:
			reason = "warning threshold exceeds critical"
		case a.ErrorBudgetFraction <= 0 || a.ErrorBudgetFraction > 1:
			reason = "error budget outside (0,1]"
		}
		if reason == "" {
			if _, dup := seen[a.Name]; dup {
				reason = "duplicate name" // Первый выигрывает
			}
		}

		if reason != "" {
			s.logger.Warn("agent entry rejected",
				zap.String("agent", a.Name),
				zap.String("reason", reason),
			)
			continue
		}

		if a.HealthPath == "" {
			a.HealthPath = "/health"
		}
		seen[a.Name] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Current — неблокирующее чтение последнего хорошего снапшота.
// До первого успешного Load возвращает nil.
func (s *Store) Current() *domain.RegistrySnapshot {
	return s.current.Load()
}

// Subscribe возвращает канал, в который Watch публикует новые снапшоты.
// Отправка неблокирующая: медленный подписчик пропускает промежуточные
// версии и в любой момент может догнаться через Current().
func (s *Store) Subscribe() <-chan *domain.RegistrySnapshot {
	ch := make(chan *domain.RegistrySnapshot, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Watch перечитывает fingerprint источника по тикеру; при изменении вызывает
// Load и рассылает снапшот подписчикам. Ошибка перезагрузки не роняет цикл:
// прежний снапшот остается действующим до следующей попытки.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("registry watch started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("registry watch stopping by context...")
			return
		case <-ticker.C:
			fp, err := s.fingerprint()
			if err != nil {
				s.logger.Error("registry source stat failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			prev := s.current.Load()
			if prev != nil && prev.Fingerprint == fp {
				continue // Источник не менялся, парсить нечего
			}

			snap, err := s.Load()
			if err != nil {
				s.logger.Error("registry reload failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			s.publish(snap)
		}
	}
}

func (s *Store) publish(snap *domain.RegistrySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Подписчик не успел вычитать прошлую версию — выталкиваем её
			// и кладем свежую (latest wins).
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// fingerprint — дешевая сигнатура источника: размер + mtime.
// Достаточно, чтобы не перепарсивать файл на каждом тике.
func (s *Store) fingerprint() (string, error) {
	info, err := os.Stat(s.sourcePath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano()), nil
}
