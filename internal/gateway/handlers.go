package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// RegisterRoutes mounts the WebSocket endpoint and its REST helpers.
func RegisterRoutes(r gin.IRoutes, hub *Hub) {
	r.GET("/ws", hub.serveWS)
	r.GET("/api/latest", hub.serveLatest)
	r.GET("/api/missed", hub.serveMissed)
}

func (h *Hub) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	conn.EnableWriteCompression(true)
	h.HandleWSRequest(conn, c.Query("last_ts"))
}

func (h *Hub) serveLatest(c *gin.Context) {
	c.JSON(http.StatusOK, h.GetLatestAll())
}

// serveMissed returns buffered envelopes for ?channel=&from=&to= so a client
// can fill a channel_seq gap. to defaults to the current sequence.
func (h *Hub) serveMissed(c *gin.Context) {
	channel := c.Query("channel")
	if channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required"})
		return
	}
	from, err := strconv.ParseInt(c.Query("from"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be an integer"})
		return
	}
	to := h.GetChannelSeq(channel)
	if s := c.Query("to"); s != "" {
		if to, err = strconv.ParseInt(s, 10, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be an integer"})
			return
		}
	}

	entries := h.GetReplayRange(channel, from, to)
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	c.JSON(http.StatusOK, gin.H{"channel": channel, "current_seq": h.GetChannelSeq(channel), "messages": out})
}
