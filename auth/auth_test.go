package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"prizepick/codes"
	"prizepick/game"
	"prizepick/layout"
	"prizepick/store"
)

type fixture struct {
	store   store.Store
	lobby   *game.Lobby
	tokens  *TokenManager
	service *Service
}

func backends() map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store {
			return store.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.NewSQLiteStore(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, store.NewMemoryStore())
}

func newFixtureWith(t *testing.T, s store.Store) *fixture {
	t.Helper()
	hasher := codes.Hasher{Cost: bcrypt.MinCost}
	lobby := game.NewLobby(game.NewEngine(s, layout.NewShuffler(1)), hasher)
	tokens := NewTokenManager([]byte("test-secret-test-secret-test-secret"), time.Hour)
	return &fixture{
		store:   s,
		lobby:   lobby,
		tokens:  tokens,
		service: NewService(s, lobby, hasher, tokens, time.Second),
	}
}

func (f *fixture) createGame(t *testing.T) *game.CreateGameResponse {
	t.Helper()
	resp, err := f.lobby.CreateGame(context.Background(), &game.CreateGameRequest{
		Name: "Login", TotalCards: 6, PrizeCount: 1, PlayerSlots: 3,
	})
	require.NoError(t, err)
	return resp
}

func TestPlayerLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createGame(t)
	code := created.PlayerCodes[1]

	resp, err := f.service.PlayerLogin(ctx, code.Code)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.Player)
	assert.Equal(t, code.Username, resp.Player.Username)
	assert.Equal(t, 1, resp.Player.PlayerIndex)
	assert.True(t, resp.Player.Connected)
	assert.Equal(t, created.Game.ID, resp.Game.ID)
	assert.Equal(t, game.StatusWaiting, resp.Game.Status)
	for _, c := range resp.Game.Cards {
		assert.False(t, c.IsPrize)
	}

	stored, err := f.store.GetPlayer(ctx, resp.Player.ID)
	require.NoError(t, err)
	assert.True(t, stored.CodeUsed)
	assert.True(t, stored.Connected)

	_, err = f.service.PlayerLogin(ctx, code.Code)
	assert.Equal(t, game.KindCodeAlreadyUsed, game.KindOf(err))
}

func TestPlayerLoginNormalizesInput(t *testing.T) {
	f := newFixture(t)
	created := f.createGame(t)
	code := created.PlayerCodes[0].Code
	typed := strings.ToLower(code[:4]) + "-" + strings.ToLower(code[4:]) + " "

	resp, err := f.service.PlayerLogin(context.Background(), typed)
	require.NoError(t, err)
	assert.Equal(t, created.Game.Players[0].ID, resp.Player.ID)
}

func TestPlayerLoginInvalidCode(t *testing.T) {
	f := newFixture(t)
	f.createGame(t)

	for _, code := range []string{"", "   ", "ZZZZZZZZ"} {
		_, err := f.service.PlayerLogin(context.Background(), code)
		assert.Equal(t, game.KindInvalidCode, game.KindOf(err), "code %q", code)
	}
}

func TestPlayerLoginKeepsStartedGameStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createGame(t)
	_, err := f.lobby.StartGame(ctx, created.Game.ID)
	require.NoError(t, err)

	resp, err := f.service.PlayerLogin(ctx, created.PlayerCodes[0].Code)
	require.NoError(t, err)
	assert.Equal(t, game.StatusInProgress, resp.Game.Status)
}

func TestConcurrentLoginRedeemsOnce(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			f := newFixtureWith(t, open(t))
			created := f.createGame(t)
			code := created.PlayerCodes[2].Code

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				ok   int
				used int
			)
			for i := 0; i < 6; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.service.PlayerLogin(context.Background(), code)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						ok++
					} else if game.KindOf(err) == game.KindCodeAlreadyUsed {
						used++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, ok)
			assert.Equal(t, 5, used)
		})
	}
}

// brokenReads fails card reads inside transactions while broken is set.
type brokenReads struct {
	store.Store
	broken atomic.Bool
}

func (s *brokenReads) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return s.Store.WithTx(ctx, func(q store.Queries) error {
		return fn(&brokenQueries{Queries: q, s: s})
	})
}

type brokenQueries struct {
	store.Queries
	s *brokenReads
}

func (q *brokenQueries) GetGameCards(ctx context.Context, gameID string) ([]*store.Card, error) {
	if q.s.broken.Load() {
		return nil, errors.New("disk I/O error")
	}
	return q.Queries.GetGameCards(ctx, gameID)
}

func TestFailedLoginKeepsCodeUsable(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := &brokenReads{Store: open(t)}
			f := newFixtureWith(t, s)
			ctx := context.Background()
			created := f.createGame(t)
			code := created.PlayerCodes[0].Code

			s.broken.Store(true)
			_, err := f.service.PlayerLogin(ctx, code)
			require.Error(t, err)
			assert.Equal(t, game.KindInternal, game.KindOf(err))

			s.broken.Store(false)
			player, err := s.GetPlayer(ctx, created.Game.Players[0].ID)
			require.NoError(t, err)
			assert.False(t, player.CodeUsed)
			stored, err := s.GetGame(ctx, created.Game.ID)
			require.NoError(t, err)
			assert.Equal(t, game.StatusDraft, stored.Status)

			resp, err := f.service.PlayerLogin(ctx, code)
			require.NoError(t, err)
			assert.NotEmpty(t, resp.Token)
			assert.Equal(t, game.StatusWaiting, resp.Game.Status)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createGame(t)

	resp, err := f.service.PlayerLogin(ctx, created.PlayerCodes[0].Code)
	require.NoError(t, err)

	id, err := f.service.Authenticate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Player.ID, id.PlayerID)
	assert.Equal(t, created.Game.ID, id.GameID)
	assert.Equal(t, "Player 1", id.Username)

	assert.NoError(t, Authorize(id, created.Game.ID))
	assert.ErrorIs(t, Authorize(id, "other-game"), game.ErrNotInGame)
	assert.ErrorIs(t, Authorize(nil, created.Game.ID), game.ErrUnauthorized)

	_, err = f.service.Authenticate(ctx, resp.Token+"x")
	assert.Equal(t, game.KindAuthentication, game.KindOf(err))
	_, err = f.service.Authenticate(ctx, "")
	assert.Equal(t, game.KindAuthentication, game.KindOf(err))
}

func TestAuthenticateRejectsUnredeemedAndDeletedPlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createGame(t)

	// A correctly signed token for a player that never logged in.
	token, _, err := f.tokens.Issue(created.Game.Players[1].ID, created.Game.ID)
	require.NoError(t, err)
	_, err = f.service.Authenticate(ctx, token)
	assert.ErrorIs(t, err, game.ErrUnauthorized)

	// A token whose game claim disagrees with the player's game.
	resp, err := f.service.PlayerLogin(ctx, created.PlayerCodes[0].Code)
	require.NoError(t, err)
	forged, _, err := f.tokens.Issue(resp.Player.ID, "other-game")
	require.NoError(t, err)
	_, err = f.service.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, game.ErrUnauthorized)

	require.NoError(t, f.lobby.DeleteGame(ctx, created.Game.ID))
	_, err = f.service.Authenticate(ctx, resp.Token)
	assert.ErrorIs(t, err, game.ErrUnauthorized)
}

func TestAdminGate(t *testing.T) {
	gate := NewAdminGate("s3cret")
	assert.True(t, gate.Check("s3cret"))
	assert.False(t, gate.Check("s3cre"))
	assert.False(t, gate.Check(""))

	assert.False(t, NewAdminGate("").Check(""))
}
