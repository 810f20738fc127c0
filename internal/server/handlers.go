package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
	"github.com/xela07ax/fleet-observer/internal/infra/auth"
)

// SnapshotSource — чтение текущего снапшота реестра (registry.Store).
type SnapshotSource interface {
	Current() *domain.RegistrySnapshot
}

// FleetSource — чтение последнего агрегата флота (health.Aggregator).
type FleetSource interface {
	Fleet() *domain.FleetStatus
	Status(agentName string) (domain.HealthResult, bool)
}

// SilenceController — операторское управление заглушками (silence.Manager).
type SilenceController interface {
	Set(ctx context.Context, agentName, actor string, active bool) error
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Registry ---

type RegistryHandler struct {
	source SnapshotSource
}

func NewRegistryHandler(source SnapshotSource) *RegistryHandler {
	return &RegistryHandler{source: source}
}

// registryEntry — публичная проекция дескриптора: пороги и endpoint
// наружу не отдаем, gateway нужны только discovery-поля.
type registryEntry struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	HealthPath  string `json:"health_path"`
}

func (h *RegistryHandler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Current()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not loaded yet")
		return
	}

	entries := make([]registryEntry, 0, len(snap.Agents))
	for _, a := range snap.Enabled() {
		entries = append(entries, registryEntry{
			Name:        a.Name,
			DisplayName: a.DisplayName,
			Category:    a.Category,
			HealthPath:  a.HealthPath,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":      entries,
		"fingerprint": snap.Fingerprint,
		"loaded_at":   snap.LoadedAt,
	})
}

// --- Fleet status ---

type FleetHandler struct {
	source FleetSource
}

func NewFleetHandler(source FleetSource) *FleetHandler {
	return &FleetHandler{source: source}
}

func (h *FleetHandler) Fleet(w http.ResponseWriter, r *http.Request) {
	fleet := h.source.Fleet()
	if fleet == nil {
		writeError(w, http.StatusServiceUnavailable, "no probe cycle completed yet")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":       fleet.Results,
		"healthy_count": fleet.HealthyCount(),
		"total_count":   fleet.TotalCount(),
		"completed_at":  fleet.CompletedAt,
	})
}

func (h *FleetHandler) Agent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	result, ok := h.source.Status(name)
	if !ok {
		// NotFound != unhealthy: агента нет в последнем цикле вообще
		writeError(w, http.StatusNotFound, "agent not present in latest cycle")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Silence ---

type SilenceHandler struct {
	controller SilenceController
	source     SnapshotSource
	logger     *zap.Logger
}

func NewSilenceHandler(controller SilenceController, source SnapshotSource, logger *zap.Logger) *SilenceHandler {
	return &SilenceHandler{
		controller: controller,
		source:     source,
		logger:     logger.Named("silence-api"),
	}
}

func (h *SilenceHandler) Silence(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, true)
}

func (h *SilenceHandler) Unsilence(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, false)
}

func (h *SilenceHandler) set(w http.ResponseWriter, r *http.Request, active bool) {
	// Scope-проверка из токена
	if !auth.ScopesFromContext(r.Context())["silence:write"] {
		writeError(w, http.StatusForbidden, "token does not grant silence:write")
		return
	}

	name := chi.URLParam(r, "name")
	if snap := h.source.Current(); snap != nil {
		if _, ok := snap.Lookup(name); !ok {
			writeError(w, http.StatusNotFound, "unknown agent")
			return
		}
	}

	actor := auth.UserIDFromContext(r.Context())
	if err := h.controller.Set(r.Context(), name, actor, active); err != nil {
		h.logger.Error("silence update failed",
			zap.String("agent", name),
			zap.String("trace_id", extractTraceID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to update silence")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":    name,
		"silenced": active,
		"actor":    actor,
	})
}
