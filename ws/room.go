package ws

import (
	"encoding/json"
	"sync"

	"prizepick/logger"
)

// Room is the broadcast group of one game.
type Room struct {
	gameID  string
	clients map[*Client]bool
	mu      sync.RWMutex

	// seq keeps one pick's event sequence contiguous.
	seq sync.Mutex
}

func NewRoom(gameID string) *Room {
	return &Room{
		gameID:  gameID,
		clients: make(map[*Client]bool),
	}
}

func (r *Room) AddClient(client *Client) {
	r.mu.Lock()
	r.clients[client] = true
	r.mu.Unlock()
}

// RemoveClient drops the client and reports how many remain.
func (r *Room) RemoveClient(client *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[client]; ok {
		delete(r.clients, client)
		client.close()
	}
	return len(r.clients)
}

// HasPlayer reports whether any member socket belongs to playerID.
func (r *Room) HasPlayer(playerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for client := range r.clients {
		if client.playerID == playerID {
			return true
		}
	}
	return false
}

func (r *Room) Broadcast(message interface{}) {
	r.BroadcastExcept(nil, message)
}

// BroadcastExcept sends to every member but skip.
func (r *Room) BroadcastExcept(skip *Client, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Errorf("Failed to marshal message: %v", err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for client := range r.clients {
		if client == skip {
			continue
		}
		client.trySend(data)
	}
}

func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for client := range r.clients {
		client.close()
		delete(r.clients, client)
	}
}
