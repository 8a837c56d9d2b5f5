package http

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/skillgate/roomkit/internal/core/domain"
)

const (
	roomCodeLength = 6
	// Ambiguous characters removed so codes survive being read aloud.
	codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	defaultMaxParticipants = 8
	tokenTTL               = 24 * time.Hour
)

type createRoomRequest struct {
	MaxParticipants int `json:"maxParticipants"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login issues a dev access token. Production deployments terminate
// auth in the platform backend and only verify here.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := issueToken(h.JWTSecret, req.Username, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":  token,
		"userId": req.Username,
	})
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = defaultMaxParticipants
	}

	room := domain.RoomMetadata{
		Code:            generateRoomCode(),
		Status:          domain.RoomScheduled,
		CreatorID:       userIDFrom(r.Context()),
		CreatedAt:       time.Now(),
		MaxParticipants: req.MaxParticipants,
	}
	if err := h.Rooms.SaveRoom(r.Context(), room); err != nil {
		log.Error().Err(err).Msg("Room save failed")
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	log.Info().
		Str("room", room.Code.String()).
		Str("creator", room.CreatorID).
		Msg("Room created")

	writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := domain.RoomCode(chi.URLParam(r, "code"))
	room, err := h.Rooms.GetRoom(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	code := domain.RoomCode(chi.URLParam(r, "code"))
	room, err := h.Rooms.GetRoom(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if room.CreatorID != userIDFrom(r.Context()) {
		writeError(w, http.StatusForbidden, "only the room creator can delete the room")
		return
	}
	if err := h.Rooms.DeleteRoom(r.Context(), code); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete room")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "room deleted"})
}

func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	code := domain.RoomCode(chi.URLParam(r, "code"))
	messages, err := h.Transcripts.ForRoom(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func generateRoomCode() domain.RoomCode {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return domain.RoomCode(code)
}
