package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warrenwl/chatrelay/internal/handler/chat"
	"github.com/warrenwl/chatrelay/internal/handler/ws"
	middlewarePkg "github.com/warrenwl/chatrelay/internal/middleware"
	chatservice "github.com/warrenwl/chatrelay/internal/service/chat"
	"github.com/warrenwl/chatrelay/internal/service/responder"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatservice.Service, rsp responder.Responder) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc)
	wsHandler := ws.New(chatSvc, rsp)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
