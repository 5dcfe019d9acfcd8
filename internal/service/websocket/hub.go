// Package websocket fans detection results out to live feed viewers.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"detectserver/internal/logger"
	"detectserver/internal/metrics"
	"detectserver/internal/model"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 5 * time.Second
	backlog      = 64
)

// Event announces a finished detection to feed viewers.
type Event struct {
	ArtifactID string               `json:"artifact_id"`
	URL        string               `json:"url"`
	Summary    string               `json:"summary"`
	Entries    []model.SummaryEntry `json:"entries"`
	Count      int                  `json:"count"`
	CreatedAt  time.Time            `json:"created_at"`
}

// HubService keeps the set of connected viewers and broadcasts events to them.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewHubService(logger *logger.Logger, m *metrics.Metrics) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, backlog),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes every client.
func (h *HubService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			h.metrics.SetFeedClients(0)
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.metrics.SetFeedClients(count)
			h.logger.Info("Feed viewer connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.metrics.SetFeedClients(count)
			h.logger.Info("Feed viewer disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warning("Error sending to feed viewer: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.metrics.SetFeedClients(count)
		}
	}
}

func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues an event for every viewer. It never blocks the caller: when the
// backlog is full the event is dropped.
func (h *HubService) Publish(event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode feed event: %v", err)
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warning("Feed backlog full, dropping event for %s", event.ArtifactID)
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
