package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"prizepick/game"
	"prizepick/logger"
)

// GameLister provides the admin games list.
type GameLister interface {
	ListGames(ctx context.Context) ([]*game.GameSummary, error)
}

// LobbyManager pushes the games list to connected admin consoles.
type LobbyManager struct {
	clients map[*Client]bool
	games   GameLister
	mu      sync.RWMutex
}

func NewLobbyManager(games GameLister) *LobbyManager {
	return &LobbyManager{
		clients: make(map[*Client]bool),
		games:   games,
	}
}

// HandleConnection registers an admin socket and sends it the current list.
func (lm *LobbyManager) HandleConnection(conn *websocket.Conn) {
	client := newClient(conn, "", "admin", "admin")
	lm.addClient(client)
	lm.sendSnapshot(context.Background(), client)

	go client.writePump()
	// The lobby ignores inbound messages; reading keeps pongs flowing.
	go client.readPump(func([]byte) {}, func() { lm.removeClient(client) })
}

func (lm *LobbyManager) addClient(client *Client) {
	lm.mu.Lock()
	lm.clients[client] = true
	lm.mu.Unlock()
}

func (lm *LobbyManager) removeClient(client *Client) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, ok := lm.clients[client]; ok {
		delete(lm.clients, client)
		client.close()
	}
}

func (lm *LobbyManager) sendSnapshot(ctx context.Context, client *Client) {
	games, err := lm.games.ListGames(ctx)
	if err != nil {
		logger.Errorf("Failed to list games for lobby: %v", err)
		client.sendMessage(errorMessage(game.MessageOf(err)))
		return
	}
	client.sendMessage(OutgoingMessage{Type: game.EventGamesUpdate, Payload: games})
}

// Refresh lists the games and broadcasts them.
func (lm *LobbyManager) Refresh(ctx context.Context) {
	if lm.ClientCount() == 0 {
		return
	}

	games, err := lm.games.ListGames(ctx)
	if err != nil {
		logger.Errorf("Failed to list games for lobby: %v", err)
		return
	}
	lm.BroadcastUpdate(games)
}

// BroadcastUpdate sends a games list update to all connected lobby clients.
func (lm *LobbyManager) BroadcastUpdate(games []*game.GameSummary) {
	data, err := json.Marshal(OutgoingMessage{Type: game.EventGamesUpdate, Payload: games})
	if err != nil {
		logger.Errorf("Failed to marshal lobby update: %v", err)
		return
	}

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	for client := range lm.clients {
		client.trySend(data)
	}
}

func (lm *LobbyManager) ClientCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.clients)
}
