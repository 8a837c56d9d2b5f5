package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skillgate/roomkit/internal/core/port"
	"github.com/skillgate/roomkit/internal/core/service"
)

type Handler struct {
	Relay       *service.Relay
	Rooms       port.RoomStore
	Transcripts port.TranscriptRepository
	JWTSecret   string

	// Inbound ws messages per second per client, with burst.
	MessageRate  float64
	MessageBurst int
}

func NewHandler(relay *service.Relay, rooms port.RoomStore, transcripts port.TranscriptRepository, jwtSecret string, msgRate float64, msgBurst int) *Handler {
	return &Handler{
		Relay:        relay,
		Rooms:        rooms,
		Transcripts:  transcripts,
		JWTSecret:    jwtSecret,
		MessageRate:  msgRate,
		MessageBurst: msgBurst,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Get("/rooms/{code}", h.GetRoom)

		r.Group(func(r chi.Router) {
			r.Use(JWTAuth(h.JWTSecret))
			r.Post("/rooms", h.CreateRoom)
			r.Delete("/rooms/{code}", h.DeleteRoom)
			r.Get("/rooms/{code}/transcript", h.GetTranscript)
		})
	})

	r.Get("/ws", h.ServeWS)

	return r
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
