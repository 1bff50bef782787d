// Package handlers implements the HTTP handlers exposing the NLP adapter to
// collaborators: structured generation, embeddings, and moderation.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gembridge/gembridge/internal/embeddings"
	"github.com/gembridge/gembridge/internal/generate"
	"github.com/gembridge/gembridge/internal/moderation"
	"github.com/gembridge/gembridge/internal/schema"
	"github.com/gembridge/gembridge/pkg/models"
)

// Handlers holds the handler dependencies.
type Handlers struct {
	Generator *generate.Generator
	Embedder  embeddings.Driver
	Moderator *moderation.Classifier
}

// New creates a Handlers instance.
func New(gen *generate.Generator, emb embeddings.Driver, mod *moderation.Classifier) *Handlers {
	return &Handlers{Generator: gen, Embedder: emb, Moderator: mod}
}

// ── Generate ─────────────────────────────────────────────────

type generateRequest struct {
	Instructions string             `json:"instructions"`
	Schema       *schema.Descriptor `json:"schema"`
	Context      []models.Fragment  `json:"context,omitempty"`
}

// Generate handles POST /api/v1/generate.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Instructions == "" || req.Schema == nil {
		respondError(w, http.StatusBadRequest, "instructions and schema are required")
		return
	}

	result, err := h.Generator.Generate(r.Context(), req.Instructions, req.Schema, req.Context)
	if err != nil {
		respondGenerationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Embed ────────────────────────────────────────────────────

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors    [][]float64 `json:"vectors"`
	Dimensions int         `json:"dimensions"`
}

// Embed handles POST /api/v1/embed.
func (h *Handlers) Embed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Texts) == 0 {
		respondError(w, http.StatusBadRequest, "texts is required")
		return
	}

	vectors, err := h.Embedder.Embed(r.Context(), req.Texts)
	if err != nil {
		respondGenerationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, embedResponse{Vectors: vectors, Dimensions: h.Embedder.Dimensions()})
}

// ── Moderate ─────────────────────────────────────────────────

type moderateRequest struct {
	Text string `json:"text"`
}

type moderateResponse struct {
	models.ModerationResult
	// Error reports the exhausted cause when the classifier failed
	// closed; the label/score above are still the usable default.
	Error string `json:"error,omitempty"`
}

// Moderate handles POST /api/v1/moderate. The response is always 200 with a
// usable label: a classification failure surfaces as label "unknown" plus
// the error text, so gate-enforcing callers stay conservative.
func (h *Handlers) Moderate(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.Moderator.Moderate(r.Context(), req.Text)
	resp := moderateResponse{ModerationResult: result}
	if err != nil {
		resp.Error = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── Responses ────────────────────────────────────────────────

func respondGenerationError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch models.KindOf(err) {
	case models.KindPromptTooLarge:
		status = http.StatusRequestEntityTooLarge
	case models.KindValidationExhausted:
		status = http.StatusUnprocessableEntity
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("encode response failed")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
