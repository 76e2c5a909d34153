package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/avvvet/explain-services/internal/auth"
	"github.com/avvvet/explain-services/internal/gamesvc/service"
	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"
)

const queryTimeout = 5 * time.Second

type Handler struct {
	history *service.HistoryService
	authn   *auth.Authenticator
}

func NewHandler(history *service.HistoryService, authn *auth.Authenticator) *Handler {
	return &Handler{history: history, authn: authn}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (rs *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	json.NewEncoder(w).Encode(rsp)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{Message: "records service is running", Code: http.StatusOK})
}

// History lists the caller's recent matches. ?limit= caps the count.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			h.CreateResponse(w, Response{Message: "bad request", Code: http.StatusBadRequest, Error: "limit must be a number"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	history, err := h.history.Recent(ctx, id.UserID, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "history", Code: http.StatusOK, Data: history})
}

// Match returns every judged round of one of the caller's matches. ?match=
// selects a match of the room; without it the caller's latest one is used.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	match := 0
	if v := r.URL.Query().Get("match"); v != "" {
		if match, err = strconv.Atoi(v); err != nil || match < 1 {
			h.CreateResponse(w, Response{Message: "bad request", Code: http.StatusBadRequest, Error: "match must be a positive number"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	rounds, err := h.history.Match(ctx, chi.URLParam(r, "roomId"), match, id.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "match", Code: http.StatusOK, Data: rounds})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	rsp := Response{Message: "request failed", Error: err.Error()}
	switch {
	case errors.Is(err, auth.ErrNoIdentity):
		rsp.Code = http.StatusUnauthorized
	case errors.Is(err, service.ErrMatchNotFound):
		rsp.Code = http.StatusNotFound
	case errors.Is(err, service.ErrNotParticipant):
		rsp.Code = http.StatusForbidden
	default:
		log.Errorf("Error [Records] %s", err)
		rsp.Code = http.StatusInternalServerError
		rsp.Error = "internal error"
	}
	h.CreateResponse(w, rsp)
}
