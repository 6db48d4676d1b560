package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	apperrors "covidseir/internal/errors"
	"covidseir/internal/middleware"
	ws "covidseir/internal/websocket"
)

// WebSocketHandler upgrades GET /ws and attaches the connection to the hub.
type WebSocketHandler struct {
	hub            *ws.Hub
	upgrader       websocket.Upgrader
	allowedOrigins []string
	errorHandler   *apperrors.ErrorHandler
	logger         *slog.Logger
}

// NewWebSocketHandler creates the handler. Origins follow the CORS allow
// list; requests without an Origin header are always accepted.
func NewWebSocketHandler(hub *ws.Hub, readBuffer, writeBuffer int, allowedOrigins []string, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:            hub,
		allowedOrigins: allowedOrigins,
		errorHandler:   errorHandler,
		logger:         logger.With(slog.String("handler", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  readBuffer,
		WriteBufferSize: writeBuffer,
		CheckOrigin:     h.checkOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			h.logger.WarnContext(r.Context(), "websocket upgrade error",
				slog.Int("status", status),
				slog.String("reason", reason.Error()),
				slog.String("origin", r.Header.Get("Origin")))
			h.errorHandler.HandleError(w, r, apperrors.New(status, "WEBSOCKET_UPGRADE_FAILED", reason.Error()))
		},
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if middleware.OriginAllowed(h.allowedOrigins, origin) {
		return true
	}
	h.logger.WarnContext(r.Context(), "websocket origin rejected",
		slog.String("origin", origin),
		slog.Any("allowed_origins", h.allowedOrigins))
	return false
}

// ServeHTTP handles GET /ws
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered through its Error callback.
		return
	}

	traceID := middleware.GetRequestID(r.Context())
	client := ws.ServeWS(h.hub, conn, traceID, h.logger)
	h.logger.InfoContext(r.Context(), "websocket client connected",
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", r.RemoteAddr))
}
