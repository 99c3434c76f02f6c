package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prizepick/game"
	"prizepick/logger"
)

const requestTimeout = 10 * time.Second

// GameService is what the realtime layer needs from the pick engine.
type GameService interface {
	PickCard(ctx context.Context, gameID, playerID string, cardIndex int) (*game.PickResult, error)
	GetGameState(ctx context.Context, gameID string) (*game.GameState, error)
	SetConnected(ctx context.Context, playerID string, connected bool) error
}

type Manager struct {
	rooms map[string]*Room
	games GameService
	lobby *LobbyManager
	mu    sync.RWMutex
}

// NewManager returns a manager for game rooms. lobby may be nil; when set it
// is refreshed whenever a pick ends a game.
func NewManager(games GameService, lobby *LobbyManager) *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		games: games,
		lobby: lobby,
	}
}

func (m *Manager) GetRoom(gameID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[gameID]
	if !exists {
		room = NewRoom(gameID)
		m.rooms[gameID] = room
	}
	return room
}

// addClient puts the client in its game's room, creating the room if needed.
func (m *Manager) addClient(client *Client) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[client.gameID]
	if !exists {
		room = NewRoom(client.gameID)
		m.rooms[client.gameID] = room
	}
	room.AddClient(client)
	return room
}

// dropIfEmpty forgets the room once nobody is listening.
func (m *Manager) dropIfEmpty(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms[room.gameID] == room && room.ClientCount() == 0 {
		delete(m.rooms, room.gameID)
	}
}

func (m *Manager) findRoom(gameID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[gameID]
}

// RemoveRoom disconnects every client of the game and forgets its room.
func (m *Manager) RemoveRoom(gameID string) {
	m.mu.Lock()
	room, ok := m.rooms[gameID]
	delete(m.rooms, gameID)
	m.mu.Unlock()

	if ok {
		room.closeAll()
	}
}

// HandleConnection serves an authenticated player's socket until it closes.
func (m *Manager) HandleConnection(conn *websocket.Conn, gameID, playerID, username string) {
	client := newClient(conn, gameID, playerID, username)
	room := m.join(context.Background(), client)

	go client.writePump()
	go client.readPump(
		func(data []byte) {
			var msg IncomingMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warnf("Failed to unmarshal message: %v", err)
				client.sendMessage(errorMessage("malformed message"))
				return
			}
			m.handleMessage(context.Background(), client, &msg)
		},
		func() { m.leave(context.Background(), client, room) },
	)
}

// join adds the client to its game's room, tells the other members and
// pushes the current state to the new client only.
func (m *Manager) join(ctx context.Context, client *Client) *Room {
	room := m.addClient(client)

	logger.Infof("Player %s (%s) connected to game %s", client.username, client.playerID, client.gameID)

	if err := m.games.SetConnected(ctx, client.playerID, true); err != nil {
		logger.Errorf("Failed to mark player %s connected: %v", client.playerID, err)
	}

	room.BroadcastExcept(client, eventMessage(
		game.NewPresenceEvent(game.EventPlayerConnected, client.gameID, client.playerID, client.username)))

	m.pushState(ctx, client)
	return room
}

func (m *Manager) leave(ctx context.Context, client *Client, room *Room) {
	remaining := room.RemoveClient(client)

	if room.HasPlayer(client.playerID) {
		logger.Infof("Player %s (%s) closed one of several sockets in game %s", client.username, client.playerID, client.gameID)
		return
	}

	logger.Infof("Player %s (%s) disconnected from game %s", client.username, client.playerID, client.gameID)

	if err := m.games.SetConnected(ctx, client.playerID, false); err != nil {
		logger.Errorf("Failed to mark player %s disconnected: %v", client.playerID, err)
	}

	if remaining == 0 {
		m.dropIfEmpty(room)
		return
	}

	room.Broadcast(eventMessage(
		game.NewPresenceEvent(game.EventPlayerDisconnected, client.gameID, client.playerID, client.username)))
}

func (m *Manager) pushState(ctx context.Context, client *Client) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	state, err := m.games.GetGameState(ctx, client.gameID)
	if err != nil {
		logger.Errorf("Failed to load game %s: %v", client.gameID, err)
		client.sendMessage(errorMessage(game.MessageOf(err)))
		return
	}
	client.sendMessage(eventMessage(game.NewStateEvent(state)))
}

func (m *Manager) handleMessage(ctx context.Context, client *Client, msg *IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch msg.Type {
	case MsgPickCard:
		var payload pickPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.CardIndex == nil {
			client.sendMessage(OutgoingMessage{
				Type:    MsgAck,
				ID:      msg.ID,
				Payload: AckPayload{Error: "cardIndex is required"},
			})
			return
		}

		result, err := m.Pick(ctx, client.gameID, client.playerID, client.username, *payload.CardIndex)
		if err != nil {
			client.sendMessage(ackError(msg.ID, err))
			return
		}
		client.sendMessage(ackOK(msg.ID, result))

	case MsgRequestSync:
		state, err := m.games.GetGameState(ctx, client.gameID)
		if err != nil {
			client.sendMessage(ackError(msg.ID, err))
			return
		}
		client.sendMessage(ackOK(msg.ID, state))

	case MsgJoinGame:
		var payload joinPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				client.sendMessage(ackError(msg.ID, game.ErrNotInGame))
				return
			}
		}
		if payload.GameID != "" && payload.GameID != client.gameID {
			client.sendMessage(ackError(msg.ID, game.ErrNotInGame))
			return
		}
		// Membership is established on connect; re-joining only resyncs.
		m.pushState(ctx, client)
		client.sendMessage(ackOK(msg.ID, nil))

	default:
		logger.Warnf("Unknown message type: %s", msg.Type)
		client.sendMessage(errorMessage("unknown message type: " + msg.Type))
	}
}

// Pick runs a pick and, on success, broadcasts its events to the game's
// room. Failures are returned to the caller and never broadcast. Both the
// websocket and HTTP pick paths go through here so that one pick's events
// are never interleaved with another's.
func (m *Manager) Pick(ctx context.Context, gameID, playerID, username string, cardIndex int) (*game.PickResult, error) {
	room := m.GetRoom(gameID)
	room.seq.Lock()
	defer func() {
		room.seq.Unlock()
		m.dropIfEmpty(room)
	}()

	result, err := m.games.PickCard(ctx, gameID, playerID, cardIndex)
	if err != nil {
		if game.KindOf(err) == game.KindInternal {
			logger.Errorf("Pick failed for game %s: %v", gameID, err)
		} else {
			logger.Debugf("Pick rejected for game %s: %v", gameID, err)
		}
		return nil, err
	}

	logger.Infof("Player %s picked card %d in game %s (prize: %t)", username, cardIndex, gameID, result.WasPrize)

	for _, e := range game.PickEvents(gameID, result, playerID, username) {
		room.Broadcast(eventMessage(e))
	}

	// The pick is committed; a failed reload only costs the state snapshot.
	state, err := m.games.GetGameState(ctx, gameID)
	if err != nil {
		logger.Errorf("Failed to load game %s after pick: %v", gameID, err)
	} else {
		room.Broadcast(eventMessage(game.NewStateEvent(state)))
	}

	if result.GameEnded && m.lobby != nil {
		m.lobby.Refresh(ctx)
	}
	return result, nil
}

// PublishState pushes a fresh game:state to everyone in the game's room.
func (m *Manager) PublishState(state *game.GameState) {
	if room := m.findRoom(state.ID); room != nil {
		room.Broadcast(eventMessage(game.NewStateEvent(state)))
	}
}

// PublishShuffle announces an out-of-turn reshuffle followed by the new state.
func (m *Manager) PublishShuffle(state *game.GameState, shuffledBy string) {
	room := m.findRoom(state.ID)
	if room == nil {
		return
	}
	room.seq.Lock()
	defer room.seq.Unlock()

	room.Broadcast(eventMessage(game.NewShuffleEvent(state.ID, shuffledBy)))
	room.Broadcast(eventMessage(game.NewStateEvent(state)))
}
