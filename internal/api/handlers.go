package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/lattice/relay/internal/db"
	"github.com/manpreetbhatti/lattice/relay/internal/protocol"
	"github.com/manpreetbhatti/lattice/relay/internal/room"
)

// ConnectionCounter reports how many relay connections are open.
type ConnectionCounter interface {
	ConnectionCount() int
}

type API struct {
	registry *room.Registry
	conns    ConnectionCounter
	database *db.Database // nil when the journal is disabled
	log      *zap.Logger
}

func New(registry *room.Registry, conns ConnectionCounter, database *db.Database, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		registry: registry,
		conns:    conns,
		database: database,
		log:      log,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Warn("api.encode", zap.Error(err))
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":        a.registry.RoomCount(),
		"active_participants": a.registry.ParticipantCount(),
		"active_connections":  a.conns.ConnectionCount(),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err != nil {
			a.log.Warn("api.stats.journal", zap.Error(err))
		} else {
			stats["journal_sessions"] = dbStats.SessionCount
			stats["journal_rooms"] = dbStats.RoomCount
			stats["journal_joins"] = dbStats.TotalJoins
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

type RoomResponse struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListRoomsHandler lists the live rooms and, with the journal enabled,
// recently closed room sessions.
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	active := a.registry.ActiveRooms()

	rooms := make([]RoomResponse, 0, len(active))
	for id, n := range active {
		rooms = append(rooms, RoomResponse{ID: id, Participants: n})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	response := map[string]any{"rooms": rooms}

	if a.database != nil {
		limit, offset := pagination(r)
		history, err := a.database.ListSessions("", limit, offset)
		if err != nil {
			a.errorResponse(w, http.StatusInternalServerError, "Failed to list room history")
			return
		}
		response["history"] = history
		response["limit"] = limit
		response["offset"] = offset
	}

	a.jsonResponse(w, http.StatusOK, response)
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	members := []protocol.User{}
	rm, live := a.registry.Get(roomID)
	if live {
		members = rm.Users()
	}

	var history []db.Session
	if a.database != nil {
		limit, offset := pagination(r)
		var err error
		history, err = a.database.ListSessions(roomID, limit, offset)
		if err != nil {
			a.errorResponse(w, http.StatusInternalServerError, "Failed to get room history")
			return
		}
	}

	if !live && len(history) == 0 {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	response := map[string]any{
		"id":           roomID,
		"active":       live,
		"participants": len(members),
		"members":      members,
	}
	if a.database != nil {
		response["history"] = history
	}

	a.jsonResponse(w, http.StatusOK, response)
}
