package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
)

// ProgressHandler streams live pipeline progress to websocket clients.
// Clients subscribe per task id, or to "all" for every task.
type ProgressHandler struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[*websocket.Conn]string // conn -> subscribed task id
	clientMutex sync.RWMutex
	broadcast   chan ProgressMessage
}

type ProgressMessage struct {
	TaskID    string `json:"task_id"`
	Step      string `json:"step,omitempty"`
	Percent   int    `json:"percent,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewProgressHandler(logger *logrus.Logger) *ProgressHandler {
	return &ProgressHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan ProgressMessage, 100),
	}
}

// Start launches the broadcaster goroutine.
func (h *ProgressHandler) Start() {
	go h.runBroadcaster()
}

func (h *ProgressHandler) runBroadcaster() {
	for msg := range h.broadcast {
		var stale []*websocket.Conn

		h.clientMutex.RLock()
		for client, subscribed := range h.clients {
			if subscribed != "all" && subscribed != msg.TaskID {
				continue
			}
			if err := client.WriteJSON(msg); err != nil {
				h.logger.WithError(err).Warn("Failed to write to WebSocket client")
				stale = append(stale, client)
			}
		}
		h.clientMutex.RUnlock()

		if len(stale) > 0 {
			h.clientMutex.Lock()
			for _, client := range stale {
				client.Close()
				delete(h.clients, client)
			}
			h.clientMutex.Unlock()
		}
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away.
func (h *ProgressHandler) HandleWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		taskID = "all"
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	h.clientMutex.Lock()
	h.clients[conn] = taskID
	h.clientMutex.Unlock()

	h.logger.WithField("task_id", taskID).Info("WebSocket client connected")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	h.clientMutex.Lock()
	delete(h.clients, conn)
	h.clientMutex.Unlock()

	h.logger.WithField("task_id", taskID).Info("WebSocket client disconnected")
}

// NotifyProgress implements the worker's ProgressNotifier interface.
func (h *ProgressHandler) NotifyProgress(taskID, step string, percent int) {
	h.send(ProgressMessage{
		TaskID:    taskID,
		Step:      step,
		Percent:   percent,
		Timestamp: time.Now().Unix(),
	})
}

func (h *ProgressHandler) NotifyStatus(taskID string, status domain.TaskStatus) {
	h.send(ProgressMessage{
		TaskID:    taskID,
		Status:    string(status),
		Timestamp: time.Now().Unix(),
	})
}

func (h *ProgressHandler) send(msg ProgressMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast channel is full, dropping message")
	}
}
