package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes builds the full HTTP surface. allowOrigin restricts browser callers;
// empty means any origin. The two websocket handlers are passed in so this
// package stays free of upgrade logic.
func Routes(a *API, allowOrigin string, roomWS, gameWS http.HandlerFunc) chi.Router {
	if allowOrigin == "" {
		allowOrigin = "*"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{allowOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/health", a.Healthz)

	r.Route("/api/rooms", func(r chi.Router) {
		r.Post("/", a.CreateRoom)
		r.Get("/", a.ListRooms)

		r.Route("/{roomID}", func(r chi.Router) {
			r.Get("/", a.GetRoom)
			r.Delete("/", a.DeleteRoom)
			r.Post("/join", a.JoinRoom)
			r.Post("/leave", a.LeaveRoom)
			r.Post("/ai", a.AddAI)
			r.Delete("/ai/{aiID}", a.RemoveAI)
			r.Post("/start", a.StartGame)
			r.Post("/stop", a.StopGame)
			r.Post("/restart", a.RestartGame)
			r.Post("/close-voting", a.CloseVoting)
			r.Get("/state", a.GetState)
		})
	})

	r.Get("/ws/{roomID}/{playerID}", roomWS)
	r.Get("/ws/{roomID}/{playerID}/game", gameWS)

	return r
}
