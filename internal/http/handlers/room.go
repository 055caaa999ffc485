package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roomrunner/internal/domain"
	"roomrunner/internal/registry"
	"roomrunner/internal/roomsvc"
	"roomrunner/internal/ws"
)

// RoomHandler exposes room lifecycle over plain REST; actual gameplay
// happens over the websocket dispatcher once a room fills.
type RoomHandler struct {
	rooms      *roomsvc.Service
	dispatcher *ws.Dispatcher
	reg        *registry.Registry
}

func NewRoomHandler(rooms *roomsvc.Service, dispatcher *ws.Dispatcher, reg *registry.Registry) *RoomHandler {
	return &RoomHandler{rooms: rooms, dispatcher: dispatcher, reg: reg}
}

type createRoomRequest struct {
	GameType   string            `json:"gameType" binding:"required"`
	MaxPlayers int               `json:"maxPlayers" binding:"required"`
	EntryFee   int64             `json:"entryFee"`
	Config     map[string]string `json:"config"`
	IsPublic   bool              `json:"isPublic"`
}

func (h *RoomHandler) Create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), domain.GameType(req.GameType), req.MaxPlayers, req.EntryFee, req.Config, req.IsPublic)
	if err != nil {
		if errors.Is(err, roomsvc.ErrUnknownGameType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown game type"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	h.dispatcher.TrackRoom(room)
	c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) Join(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	roomID := c.Param("id")
	room, err := h.reg.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	seat, started, err := h.rooms.Join(c.Request.Context(), room, userID)
	if err != nil {
		switch {
		case errors.Is(err, roomsvc.ErrRoomFull):
			c.JSON(http.StatusConflict, gin.H{"error": "room is full"})
		case errors.Is(err, roomsvc.ErrAlreadySeated):
			c.JSON(http.StatusConflict, gin.H{"error": "already seated"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"seat": seat, "started": started})
}

func (h *RoomHandler) Leave(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	roomID := c.Param("id")
	room, err := h.reg.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	gameStarted := len(room.PlayerSeats) == room.MaxPlayers
	if err := h.rooms.Leave(c.Request.Context(), room, userID, gameStarted); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave room"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// List pages through a game type's rooms newest-first off the registry's
// creation index, resolving each to its full registry record regardless of
// which process created it.
func (h *RoomHandler) List(c *gin.Context) {
	gameType := domain.GameType(c.Query("gameType"))
	if gameType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameType required"})
		return
	}
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	ids, err := h.reg.ListRooms(c.Request.Context(), gameType, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}

	out := make([]any, 0, len(ids))
	for _, id := range ids {
		room, err := h.reg.GetRoom(c.Request.Context(), id)
		if err != nil {
			continue // unregistered between the page read and now.
		}
		out = append(out, room)
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out, "offset": offset, "limit": limit})
}

func (h *RoomHandler) Get(c *gin.Context) {
	roomID := c.Param("id")
	room, err := h.reg.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// getUserID extracts the authenticated user id stashed by middleware.JWT.
func getUserID(c interface{ Get(any) (any, bool) }) (int64, bool) {
	uidVal, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	switch v := uidVal.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
