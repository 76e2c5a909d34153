package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avvvet/explain-services/internal/auth"
	"github.com/avvvet/explain-services/internal/gamesvc/ratelimit"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	"github.com/avvvet/explain-services/internal/socketsvc/ws"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Lifecycle receives room-created events.
type Lifecycle interface {
	PublishRoomCreated(roomID, code, hostID string)
}

type Handler struct {
	upgrader websocket.Upgrader
	ws       *ws.Ws
	rooms    *room.Manager
	limiter  *ratelimit.Limiter
	events   Lifecycle
	started  time.Time
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

// NewHandler builds the HTTP entry points. allowedOrigins restricts the
// websocket handshake; an empty list accepts any origin.
func NewHandler(s *ws.Ws, rooms *room.Manager, limiter *ratelimit.Limiter, events Lifecycle, allowedOrigins []string) *Handler {
	h := &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		ws:      s,
		rooms:   rooms,
		limiter: limiter,
		events:  events,
		started: time.Now(),
	}
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket upgrades an authenticated request and serves it until the
// client goes away.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		h.CreateResponse(w, Response{Message: "unauthorized", Code: http.StatusUnauthorized, Error: err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the failure response
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	h.ws.Serve(conn, id)
}

type createRoomRequest struct {
	DisplayName string `json:"displayName"`
}

type joinRoomRequest struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
}

type roomCreated struct {
	RoomID   string `json:"roomId"`
	RoomCode string `json:"roomCode"`
	HostID   string `json:"hostId"`
}

// CreateRoom opens a room hosted by the caller after checking the quota.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	var req createRoomRequest
	if err := decodeOptional(r, &req); err != nil {
		h.CreateResponse(w, Response{Message: "invalid request body", Code: http.StatusBadRequest, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.limiter.EnforceDailyLimit(ctx, id.UserID, id.Guest); err != nil {
		h.fail(w, err)
		return
	}

	rm, err := h.rooms.CreateRoom(ctx, id.UserID, displayName(req.DisplayName, id))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.events.PublishRoomCreated(rm.ID, rm.Code, id.UserID)

	h.CreateResponse(w, Response{
		Message: "room created",
		Code:    http.StatusCreated,
		Data:    roomCreated{RoomID: rm.ID, RoomCode: rm.Code, HostID: id.UserID},
	})
}

// JoinRoom seats the caller as guest and returns the room snapshot.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.RoomCode) == "" {
		h.CreateResponse(w, Response{Message: "roomCode is required", Code: http.StatusBadRequest, Error: "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.limiter.EnforceDailyLimit(ctx, id.UserID, id.Guest); err != nil {
		h.fail(w, err)
		return
	}

	rm, err := h.rooms.JoinRoom(ctx, req.RoomCode, id.UserID, displayName(req.DisplayName, id))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ws.Announce(rm, id.UserID)

	h.CreateResponse(w, Response{Message: "joined room", Code: http.StatusOK, Data: h.ws.Snapshot(rm)})
}

// LeaveRoom takes the caller out of its current room.
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.ws.Leave(ctx, id.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.CreateResponse(w, Response{
		Message: "left room",
		Code:    http.StatusOK,
		Data:    map[string]interface{}{"roomId": res.Room.ID, "closed": res.HostLeft},
	})
}

// Quota reports the caller's remaining matches for today.
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.CreateResponse(w, Response{
		Message: "daily quota",
		Code:    http.StatusOK,
		Data:    h.limiter.CheckDailyLimit(ctx, id.UserID, id.Guest),
	})
}

func displayName(requested string, id *auth.Identity) string {
	if name := strings.TrimSpace(requested); name != "" {
		return name
	}
	return id.Name
}

func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// fail maps a domain error to a status code and the public error payload.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrNoIdentity):
		code = http.StatusUnauthorized
	case errors.Is(err, ratelimit.ErrDailyLimitExceeded), errors.Is(err, ratelimit.ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrNotInRoom):
		code = http.StatusNotFound
	case errors.Is(err, room.ErrRoomFull), errors.Is(err, room.ErrGameInProgress), errors.Is(err, room.ErrHostCannotJoin),
		errors.Is(err, room.ErrAlreadyInRoom):
		code = http.StatusConflict
	case errors.Is(err, room.ErrCodeExhausted):
		code = http.StatusServiceUnavailable
	}

	public := ws.ClientError(err, log.Fields{"status": code})
	if public.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(public.RetryAfter))
	}
	h.CreateResponse(w, Response{Message: public.Message, Code: code, Data: public, Error: public.Message})
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "session service is running",
		Code:    http.StatusOK,
		Data: map[string]interface{}{
			"rooms":       h.rooms.Count(),
			"connections": h.ws.Connections(),
			"uptime":      time.Since(h.started).Round(time.Second).String(),
		},
	})
}
