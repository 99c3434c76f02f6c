package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"prizepick/codes"
	"prizepick/game"
	"prizepick/layout"
	"prizepick/store"
)

type received struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type fixture struct {
	store   *store.MemoryStore
	engine  *game.Engine
	lobby   *game.Lobby
	feed    *LobbyManager
	manager *Manager
	state   *game.GameState
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	engine := game.NewEngine(s, layout.NewShuffler(9))
	lobby := game.NewLobby(engine, codes.Hasher{Cost: bcrypt.MinCost})
	feed := NewLobbyManager(lobby)

	resp, err := lobby.CreateGame(context.Background(), &game.CreateGameRequest{
		Name: "Live", TotalCards: 12, PrizeCount: 1, PlayerSlots: 2,
	})
	require.NoError(t, err)

	return &fixture{
		store:   s,
		engine:  engine,
		lobby:   lobby,
		feed:    feed,
		manager: NewManager(engine, feed),
		state:   resp.Game,
	}
}

func (f *fixture) client(i int) *Client {
	p := f.state.Players[i]
	return newClient(nil, f.state.ID, p.ID, p.Username)
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	_, err := f.lobby.StartGame(context.Background(), f.state.ID)
	require.NoError(t, err)
}

func (f *fixture) cards(t *testing.T) []*store.Card {
	t.Helper()
	cards, err := f.store.GetGameCards(context.Background(), f.state.ID)
	require.NoError(t, err)
	return cards
}

func (f *fixture) safeCard(t *testing.T) int {
	for _, c := range f.cards(t) {
		if !c.IsPrize && c.RevealedAt == nil {
			return c.PositionIndex
		}
	}
	t.Fatal("no safe card")
	return -1
}

func (f *fixture) prizeCard(t *testing.T) int {
	for _, c := range f.cards(t) {
		if c.IsPrize {
			return c.PositionIndex
		}
	}
	t.Fatal("no prize card")
	return -1
}

// drain returns every message queued for the client so far.
func drain(t *testing.T, c *Client) []received {
	t.Helper()
	var out []received
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var msg received
			require.NoError(t, json.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func types(msgs []received) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func request(t *testing.T, msgType, id string, payload interface{}) *IncomingMessage {
	t.Helper()
	msg := &IncomingMessage{Type: msgType, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Payload = data
	}
	return msg
}

func decodeAck(t *testing.T, msg received) AckPayload {
	t.Helper()
	require.Equal(t, MsgAck, msg.Type)
	var ack AckPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ack))
	return ack
}

func TestJoinPushesStateAndAnnouncesPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c0, c1 := f.client(0), f.client(1)

	f.manager.join(ctx, c0)
	assert.Equal(t, []string{game.EventGameState}, types(drain(t, c0)))

	f.manager.join(ctx, c1)
	first := drain(t, c0)
	require.Equal(t, []string{game.EventPlayerConnected}, types(first))
	var presence game.PresencePayload
	require.NoError(t, json.Unmarshal(first[0].Payload, &presence))
	assert.Equal(t, c1.playerID, presence.PlayerID)
	assert.Equal(t, "Player 2", presence.Username)

	assert.Equal(t, []string{game.EventGameState}, types(drain(t, c1)))
	assert.Equal(t, 2, f.manager.GetRoom(f.state.ID).ClientCount())

	p, err := f.store.GetPlayer(ctx, c1.playerID)
	require.NoError(t, err)
	assert.True(t, p.Connected)
}

func TestPickBroadcastsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)
	c0, c1 := f.client(0), f.client(1)
	f.manager.join(ctx, c0)
	f.manager.join(ctx, c1)
	drain(t, c0)
	drain(t, c1)

	card := f.safeCard(t)
	f.manager.handleMessage(ctx, c0, request(t, MsgPickCard, "7", map[string]int{"cardIndex": card}))

	want := []string{game.EventCardRevealed, game.EventCardsShuffled, game.EventTurnChanged, game.EventGameState}
	others := drain(t, c1)
	assert.Equal(t, want, types(others))

	mine := drain(t, c0)
	require.Equal(t, append(want, MsgAck), types(mine))
	ack := decodeAck(t, mine[4])
	assert.True(t, ack.Success)
	assert.Equal(t, "7", mine[4].ID)

	var revealed game.CardRevealedPayload
	require.NoError(t, json.Unmarshal(others[0].Payload, &revealed))
	assert.Equal(t, card, revealed.CardIndex)
	assert.Equal(t, "Try Again!", revealed.Message)

	var turn game.TurnChangedPayload
	require.NoError(t, json.Unmarshal(others[2].Payload, &turn))
	assert.Equal(t, 1, turn.CurrentPlayerIndex)

	var state game.GameState
	require.NoError(t, json.Unmarshal(others[3].Payload, &state))
	assert.Equal(t, 1, state.PickCount)
	assert.True(t, state.Cards[card].IsRevealed)
}

func TestPrizePickEndsGameAndRefreshesLobby(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)
	c0, c1 := f.client(0), f.client(1)
	f.manager.join(ctx, c0)
	f.manager.join(ctx, c1)
	drain(t, c0)
	drain(t, c1)

	admin := newClient(nil, "", "admin", "admin")
	f.feed.addClient(admin)

	f.manager.handleMessage(ctx, c0, request(t, MsgPickCard, "", map[string]int{"cardIndex": f.prizeCard(t)}))

	others := drain(t, c1)
	assert.Equal(t, []string{game.EventCardRevealed, game.EventGameEnded, game.EventGameState}, types(others))

	var ended game.GameEndedPayload
	require.NoError(t, json.Unmarshal(others[1].Payload, &ended))
	assert.Equal(t, c0.playerID, ended.WinnerPlayerID)

	updates := drain(t, admin)
	require.Equal(t, []string{game.EventGamesUpdate}, types(updates))
	var games []game.GameSummary
	require.NoError(t, json.Unmarshal(updates[0].Payload, &games))
	require.Len(t, games, 1)
	assert.Equal(t, game.StatusEnded, games[0].Status)
}

func TestPickFailureGoesOnlyToRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)
	c0, c1 := f.client(0), f.client(1)
	f.manager.join(ctx, c0)
	f.manager.join(ctx, c1)
	drain(t, c0)
	drain(t, c1)

	f.manager.handleMessage(ctx, c1, request(t, MsgPickCard, "x", map[string]int{"cardIndex": f.safeCard(t)}))

	assert.Empty(t, drain(t, c0))
	mine := drain(t, c1)
	require.Len(t, mine, 1)
	ack := decodeAck(t, mine[0])
	assert.False(t, ack.Success)
	assert.Equal(t, game.KindNotYourTurn, ack.Kind)
	assert.Equal(t, "x", mine[0].ID)
}

func TestPickWithoutCardIndex(t *testing.T) {
	f := newFixture(t)
	c0 := f.client(0)

	f.manager.handleMessage(context.Background(), c0, request(t, MsgPickCard, "1", map[string]string{}))

	msgs := drain(t, c0)
	require.Len(t, msgs, 1)
	ack := decodeAck(t, msgs[0])
	assert.False(t, ack.Success)
	assert.NotEmpty(t, ack.Error)
}

func TestRequestSyncHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c0, c1 := f.client(0), f.client(1)
	f.manager.join(ctx, c0)
	f.manager.join(ctx, c1)
	drain(t, c0)
	drain(t, c1)

	for i := 0; i < 2; i++ {
		f.manager.handleMessage(ctx, c1, request(t, MsgRequestSync, "s", nil))
		msgs := drain(t, c1)
		require.Len(t, msgs, 1)
		ack := decodeAck(t, msgs[0])
		assert.True(t, ack.Success)

		var result struct {
			Result game.GameState `json:"result"`
		}
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &result))
		assert.Equal(t, f.state.ID, result.Result.ID)
		assert.Zero(t, result.Result.PickCount)
	}
	assert.Empty(t, drain(t, c0))
}

func TestJoinGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c0 := f.client(0)
	f.manager.join(ctx, c0)
	drain(t, c0)

	f.manager.handleMessage(ctx, c0, request(t, MsgJoinGame, "j1", map[string]string{"gameId": "other"}))
	msgs := drain(t, c0)
	require.Len(t, msgs, 1)
	assert.Equal(t, game.KindPlayerNotInGame, decodeAck(t, msgs[0]).Kind)

	f.manager.handleMessage(ctx, c0, request(t, MsgJoinGame, "j2", map[string]string{"gameId": f.state.ID}))
	msgs = drain(t, c0)
	require.Equal(t, []string{game.EventGameState, MsgAck}, types(msgs))
	assert.True(t, decodeAck(t, msgs[1]).Success)
	assert.Equal(t, 1, f.manager.GetRoom(f.state.ID).ClientCount())
}

func TestUnknownMessageType(t *testing.T) {
	f := newFixture(t)
	c0 := f.client(0)

	f.manager.handleMessage(context.Background(), c0, request(t, "dance", "", nil))
	assert.Equal(t, []string{game.EventError}, types(drain(t, c0)))
}

func TestLeaveAnnouncesAndCleansUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c0, c1 := f.client(0), f.client(1)
	room := f.manager.join(ctx, c0)
	f.manager.join(ctx, c1)
	drain(t, c0)
	drain(t, c1)

	f.manager.leave(ctx, c1, room)
	msgs := drain(t, c0)
	require.Equal(t, []string{game.EventPlayerDisconnected}, types(msgs))

	p, err := f.store.GetPlayer(ctx, c1.playerID)
	require.NoError(t, err)
	assert.False(t, p.Connected)

	_, open := <-c1.send
	assert.False(t, open)

	f.manager.leave(ctx, c0, room)
	assert.Nil(t, f.manager.findRoom(f.state.ID))
}

func TestLeaveKeepsPresenceWhileAnotherSocketIsOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c0 := f.client(0)
	tab1, tab2 := f.client(1), f.client(1)
	room := f.manager.join(ctx, c0)
	f.manager.join(ctx, tab1)
	f.manager.join(ctx, tab2)
	drain(t, c0)

	f.manager.leave(ctx, tab1, room)
	assert.Empty(t, drain(t, c0))
	p, err := f.store.GetPlayer(ctx, tab2.playerID)
	require.NoError(t, err)
	assert.True(t, p.Connected)

	f.manager.leave(ctx, tab2, room)
	assert.Equal(t, []string{game.EventPlayerDisconnected}, types(drain(t, c0)))
	p, err = f.store.GetPlayer(ctx, tab2.playerID)
	require.NoError(t, err)
	assert.False(t, p.Connected)
}

// unreadableState is a GameService whose state reads fail once failing is
// set.
type unreadableState struct {
	GameService
	failing bool
}

func (s *unreadableState) GetGameState(ctx context.Context, gameID string) (*game.GameState, error) {
	if s.failing {
		return nil, game.Internal(errors.New("database is locked"))
	}
	return s.GameService.GetGameState(ctx, gameID)
}

func TestPickBroadcastsOutcomeWhenStateReloadFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)
	games := &unreadableState{GameService: f.engine}
	manager := NewManager(games, f.feed)

	c0, c1 := f.client(0), f.client(1)
	manager.join(ctx, c0)
	manager.join(ctx, c1)
	drain(t, c0)
	drain(t, c1)

	admin := newClient(nil, "", "admin", "admin")
	f.feed.addClient(admin)

	games.failing = true
	result, err := manager.Pick(ctx, f.state.ID, c0.playerID, c0.username, f.prizeCard(t))
	require.NoError(t, err)
	assert.True(t, result.GameEnded)

	others := drain(t, c1)
	require.Equal(t, []string{game.EventCardRevealed, game.EventGameEnded}, types(others))
	var revealed game.CardRevealedPayload
	require.NoError(t, json.Unmarshal(others[0].Payload, &revealed))
	assert.Equal(t, []string{"Prize 1"}, revealed.PrizeNames)

	assert.Equal(t, []string{game.EventGamesUpdate}, types(drain(t, admin)))

	picks, err := f.store.CountPicks(ctx, f.state.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, picks)
}

func TestRemoveRoomClosesClients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c0 := f.client(0)
	f.manager.join(ctx, c0)
	drain(t, c0)

	f.manager.RemoveRoom(f.state.ID)
	_, open := <-c0.send
	assert.False(t, open)
	assert.False(t, c0.trySend([]byte("late")))
}

func TestBroadcastSkipsFullClients(t *testing.T) {
	room := NewRoom("g")
	slow := newClient(nil, "g", "slow", "Slow")
	fast := newClient(nil, "g", "fast", "Fast")
	room.AddClient(slow)
	room.AddClient(fast)

	for i := 0; i < sendBuffer; i++ {
		require.True(t, slow.trySend([]byte("{}")))
	}

	room.Broadcast(errorMessage("hello"))
	assert.Len(t, slow.send, sendBuffer)
	assert.Len(t, fast.send, 1)
}

func TestPublishShuffle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)
	c0 := f.client(0)
	f.manager.join(ctx, c0)
	drain(t, c0)

	state, err := f.lobby.ShuffleCards(ctx, f.state.ID)
	require.NoError(t, err)
	f.manager.PublishShuffle(state, "admin")

	msgs := drain(t, c0)
	require.Equal(t, []string{game.EventCardsShuffled, game.EventGameState}, types(msgs))
	var shuffled game.CardsShuffledPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &shuffled))
	assert.Equal(t, "admin", shuffled.ShuffledBy)

	f.manager.PublishState(state)
	assert.Equal(t, []string{game.EventGameState}, types(drain(t, c0)))
}
