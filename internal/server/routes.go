package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/game"
	"github.com/scythe504/skribblr-sync/internal/store"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.HelloWorldHandler)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)

	r.HandleFunc("/rooms-available", s.GetRoomToJoin).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/rooms/{roomId}", s.GetRoom).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/ws", s.hub.HandleWebSocket)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// Websocket upgrades skip the rest of the CORS handling
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"message": "Hello World"}

	jsonResp, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("[HelloWorldHandler] marshal failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(jsonResp)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	writeResponse(w, startTime, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.ConnectionCount(),
		"uptime_s":    int64(time.Since(s.startedAt).Seconds()),
	})
}

// GetRoomToJoin returns the fullest room that still has space and a round under
// way.
func (s *Server) GetRoomToJoin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()

	rooms, err := s.listRooms(r)
	if err != nil {
		log.Error().Err(err).Msg("[GetRoomToJoin] list rooms failed")
		writeResponse(w, startTime, http.StatusInternalServerError, "Internal server error")
		return
	}

	var best *internal.RoomSummary
	for i := range rooms {
		room := &rooms[i]
		if room.Phase == "" || room.PlayerCount == 0 || room.PlayerCount >= internal.MaxPlayersPerRoom {
			continue
		}
		if best == nil || room.PlayerCount > best.PlayerCount {
			best = room
		}
	}

	if best == nil {
		writeResponse(w, startTime, http.StatusNotFound, "No joinable rooms available")
		return
	}
	writeResponse(w, startTime, http.StatusOK, best.RoomID)
}

func (s *Server) GetRoom(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	roomID := internal.NormalizeRoomID(mux.Vars(r)["roomId"])

	snap, err := s.mem.Get(r.Context(), internal.RoomPath(roomID))
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("[GetRoom] read failed")
		writeResponse(w, startTime, http.StatusBadRequest, "Invalid room id")
		return
	}
	if !snap.Exists() {
		writeResponse(w, startTime, http.StatusNotFound, "Room not found")
		return
	}
	writeResponse(w, startTime, http.StatusOK, game.SummarizeRoom(roomID, snap))
}

func (s *Server) listRooms(r *http.Request) ([]internal.RoomSummary, error) {
	snap, err := s.mem.Get(r.Context(), internal.RoomsRoot)
	if err != nil {
		return nil, err
	}
	children := snap.Children()
	rooms := make([]internal.RoomSummary, 0, len(children))
	for _, c := range children {
		rooms = append(rooms, game.SummarizeRoom(c.Key, store.Snapshot{Value: c.Value}))
	}
	return rooms, nil
}

func writeResponse(w http.ResponseWriter, startTime int64, status int, data any) {
	resp := internal.Response{
		StatusCode:    status,
		RespStartTime: startTime,
		Data:          data,
	}
	endTime := time.Now().UnixMilli()
	resp.RespEndTime = endTime
	resp.NetRespTime = endTime - startTime

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("[writeResponse] encode failed")
	}
}
