package ws

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"roomrunner/internal/service"
)

type Handler struct {
	dispatcher *Dispatcher
	log        *slog.Logger
}

func NewHandler(dispatcher *Dispatcher, log *slog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, log: log}
}

// Upgrade authenticates the connecting user and upgrades to a websocket
// session attached to the requested room and the dispatcher's
// command-processing path. Seat membership is not checked here; game
// commands from an unseated connection fail the dispatcher's seat check.
func (h *Handler) Upgrade() gin.HandlerFunc {
	allowedOrigin := os.Getenv("ALLOWED_ORIGIN")
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}

	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		userID, err := service.ParseJWT(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		roomID := c.Query("roomId")
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roomId required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("ws: upgrade failed", "err", err)
			return
		}

		client := NewClient(userID, roomID, conn, h.log)
		if err := h.dispatcher.Attach(c.Request.Context(), client); err != nil {
			h.log.Warn("ws: attach failed", "user", userID, "room", roomID, "err", err)
			conn.Close()
			return
		}

		go client.Run(h.dispatcher.HandleMessage, h.dispatcher.Detach)
	}
}
