package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/sim"
)

// Handler holds dependencies for HTTP handlers. Archive reads go
// through the active store, which serializes access to the unlocked
// cold tier.
type Handler struct {
	hierarchy *memory.Hierarchy
	active    *memory.ActiveStore
	semantic  *memory.SemanticStore
	clock     *sim.Clock
	scheduler *sim.Scheduler
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	hierarchy *memory.Hierarchy,
	active *memory.ActiveStore,
	semantic *memory.SemanticStore,
	clock *sim.Clock,
	scheduler *sim.Scheduler,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		hierarchy: hierarchy,
		active:    active,
		semantic:  semantic,
		clock:     clock,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/memory", func(r chi.Router) {
			r.Get("/status", h.memoryStatus)
			r.Get("/stats", h.activeStats)
			r.Post("/events", h.addEvent)
			r.Post("/consolidate", h.consolidate)
			r.Post("/automate", h.automate)
			r.Post("/maintenance", h.triggerMaintenance)
			r.Get("/query/{level}", h.queryTier)
			r.Get("/archive", h.queryArchive)
			r.Put("/thresholds", h.setThresholds)
			r.Get("/snapshot", h.snapshot)
			r.Post("/reset", h.reset)

			r.Post("/concepts", h.addConcept)
			r.Get("/concepts/{id}", h.getConcept)
			r.Post("/associations", h.addAssociation)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": "mnemo"})
}

func (h *Handler) memoryStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hierarchy.Status())
}

func (h *Handler) activeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.active.Statistics())
}

type eventRequest struct {
	EventType string         `json:"event_type"`
	Intensity float64        `json:"intensity"`
	Data      map[string]any `json:"data,omitempty"`
}

func (h *Handler) addEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.EventType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_type is required"})
		return
	}
	if req.Intensity < 0 || req.Intensity > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "intensity must be in [0, 1]"})
		return
	}

	ev := memory.NewSensoryEvent(req.EventType, req.Intensity, req.Data)
	h.hierarchy.AddSensoryEvent(ev)
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) consolidate(w http.ResponseWriter, r *http.Request) {
	result := h.hierarchy.ConsolidateMemory(h.clock)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (h *Handler) automate(w http.ResponseWriter, r *http.Request) {
	learned := h.hierarchy.AutomateSkills(h.clock)
	writeJSON(w, http.StatusOK, map[string]int{"skills_learned": learned})
}

func (h *Handler) triggerMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not initialized"})
		return
	}
	h.scheduler.FireMaintenance()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "maintenance triggered",
		"subjective_time": h.clock.SubjectiveTime(),
	})
}

func (h *Handler) queryTier(w http.ResponseWriter, r *http.Request) {
	level := chi.URLParam(r, "level")
	q := r.URL.Query()
	params := memory.QueryParams{
		Query:     q.Get("query"),
		EventType: q.Get("event_type"),
		ConceptID: q.Get("concept_id"),
	}
	if v := q.Get("max_depth"); v != "" {
		params.MaxDepth, _ = strconv.Atoi(v)
	}
	if v := q.Get("max"); v != "" {
		params.Max, _ = strconv.Atoi(v)
	}

	result, err := h.hierarchy.QueryMemory(level, params)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) queryArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := memory.Filter{EventType: q.Get("event_type")}
	if v := q.Get("min_significance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_significance must be a number"})
			return
		}
		filter.MinSignificance = &f
	}
	if v := q.Get("since"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be a number"})
			return
		}
		filter.Since = &f
	}
	if v := q.Get("until"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "until must be a number"})
			return
		}
		filter.Until = &f
	}

	entries := h.active.ArchiveEntries(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

type thresholdRequest struct {
	SensoryToEpisodic     int     `json:"sensory_to_episodic"`
	EpisodicToSemantic    int     `json:"episodic_to_semantic"`
	SemanticToProcedural  int     `json:"semantic_to_procedural"`
	ConsolidationInterval float64 `json:"consolidation_interval"`
}

func (h *Handler) setThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.hierarchy.SetTransferThresholds(
		req.SensoryToEpisodic,
		req.EpisodicToSemantic,
		req.SemanticToProcedural,
		req.ConsolidationInterval,
	)
	writeJSON(w, http.StatusOK, h.hierarchy.Status().Thresholds)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"metadata": h.hierarchy.SerializationMetadata(),
		"state":    h.hierarchy.Snapshot(),
	})
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.hierarchy.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) addConcept(w http.ResponseWriter, r *http.Request) {
	var c memory.Concept
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if c.Name == "" && c.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name or id is required"})
		return
	}
	id := h.semantic.AddConcept(c)
	stored, _ := h.semantic.GetConcept(id)
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) getConcept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.semantic.GetConcept(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "concept not found"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) addAssociation(w http.ResponseWriter, r *http.Request) {
	var a memory.Association
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if a.SourceID == "" || a.TargetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source_id and target_id are required"})
		return
	}
	h.semantic.AddAssociation(a)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
