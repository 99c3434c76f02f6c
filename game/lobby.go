package game

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"prizepick/codes"
	"prizepick/layout"
	"prizepick/store"
)

const (
	MaxTotalCards  = 500
	MaxPlayerSlots = 64
)

// Lobby is the admin side of a game's lifecycle.
type Lobby struct {
	engine *Engine
	store  store.Store
	hasher codes.Hasher
}

func NewLobby(engine *Engine, hasher codes.Hasher) *Lobby {
	return &Lobby{
		engine: engine,
		store:  engine.store,
		hasher: hasher,
	}
}

func (l *Lobby) validate(req *CreateGameRequest) (string, []string, error) {
	name := SanitizeName(req.Name)
	if name == "" {
		return "", nil, invalidConfig("name is required")
	}
	if req.TotalCards < 2 || req.TotalCards > MaxTotalCards {
		return "", nil, invalidConfig("totalCards must be between 2 and %d", MaxTotalCards)
	}
	if req.PrizeCount < 1 || req.PrizeCount >= req.TotalCards {
		return "", nil, invalidConfig("prizeCount must be at least 1 and less than totalCards")
	}
	if req.PlayerSlots < 2 || req.PlayerSlots > MaxPlayerSlots {
		return "", nil, invalidConfig("playerSlots must be between 2 and %d", MaxPlayerSlots)
	}

	if len(req.PrizeNames) == 0 {
		names := make([]string, req.PrizeCount)
		for i := range names {
			names[i] = fmt.Sprintf("Prize %d", i+1)
		}
		return name, names, nil
	}
	if len(req.PrizeNames) != req.PrizeCount {
		return "", nil, invalidConfig("prizeNames must have exactly %d entries", req.PrizeCount)
	}
	names := make([]string, len(req.PrizeNames))
	for i, n := range req.PrizeNames {
		names[i] = SanitizeName(n)
		if names[i] == "" {
			return "", nil, invalidConfig("prize name %d is empty", i+1)
		}
	}
	return name, names, nil
}

// CreateGame builds a DRAFT game with its cards, hidden prizes and one
// single-use code per player slot. The cleartext codes are returned once
// and never stored.
func (l *Lobby) CreateGame(ctx context.Context, req *CreateGameRequest) (*CreateGameResponse, error) {
	name, prizeNames, err := l.validate(req)
	if err != nil {
		return nil, err
	}

	positions, err := l.engine.shuffler.Initial(req.TotalCards, req.PrizeCount, req.Seed)
	if err != nil {
		if errors.Is(err, layout.ErrInvalidConfiguration) {
			return nil, invalidConfig("%v", err)
		}
		return nil, Internal(err)
	}
	blob, err := layout.Encode(positions)
	if err != nil {
		return nil, Internal(err)
	}

	joinCodes, err := codes.GenerateSet(req.PlayerSlots)
	if err != nil {
		return nil, Internal(err)
	}

	now := l.engine.now()
	game := &store.Game{
		ID:          uuid.NewString(),
		Name:        name,
		TotalCards:  req.TotalCards,
		PrizeCount:  req.PrizeCount,
		PrizeNames:  prizeNames,
		PlayerSlots: req.PlayerSlots,
		Status:      StatusDraft,
		PrizeLayout: blob,
		CreatedAt:   now,
	}

	players := make([]*store.Player, req.PlayerSlots)
	playerCodes := make([]PlayerCode, req.PlayerSlots)
	for i := range players {
		hash, err := l.hasher.Hash(joinCodes[i])
		if err != nil {
			return nil, Internal(err)
		}
		players[i] = &store.Player{
			ID:          uuid.NewString(),
			GameID:      game.ID,
			Username:    fmt.Sprintf("Player %d", i+1),
			CodeHash:    hash,
			PlayerIndex: i,
			CreatedAt:   now,
		}
		playerCodes[i] = PlayerCode{Username: players[i].Username, Code: joinCodes[i]}
	}

	prize := layout.Membership(positions, req.TotalCards)
	cards := make([]*store.Card, req.TotalCards)
	for i := range cards {
		cards[i] = &store.Card{
			ID:            uuid.NewString(),
			GameID:        game.ID,
			PositionIndex: i,
			IsPrize:       prize[i],
		}
	}

	ctx, cancel := l.engine.withTimeout(ctx)
	defer cancel()

	if err := l.store.CreateGame(ctx, game, players, cards); err != nil {
		return nil, storeError(err)
	}

	return &CreateGameResponse{
		Game:        newGameState(game, players, cards, 0),
		PlayerCodes: playerCodes,
	}, nil
}

func (l *Lobby) ListGames(ctx context.Context) ([]*GameSummary, error) {
	ctx, cancel := l.engine.withTimeout(ctx)
	defer cancel()

	games, err := l.store.ListGames(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	now := l.engine.now()
	summaries := make([]*GameSummary, 0, len(games))
	for _, g := range games {
		summaries = append(summaries, newGameSummary(g, now))
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (l *Lobby) GetGameState(ctx context.Context, gameID string) (*GameState, error) {
	return l.engine.GetGameState(ctx, gameID)
}

// transition moves the game to status under its lock, applies mutate inside
// the same transaction and returns the resulting state.
func (l *Lobby) transition(ctx context.Context, gameID, status string, mutate func(g *store.Game)) (*GameState, error) {
	unlock := l.engine.locks.lock(gameID)
	defer unlock()

	ctx, cancel := l.engine.withTimeout(ctx)
	defer cancel()

	var state *GameState
	err := l.store.WithTx(ctx, func(q store.Queries) error {
		game, err := q.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return ErrGameNotFound
		}
		if !canTransition(game.Status, status) {
			return invalidState("game cannot move from %s to %s", game.Status, status)
		}

		game.Status = status
		if mutate != nil {
			mutate(game)
		}
		if err := q.UpdateGame(ctx, game); err != nil {
			return err
		}

		state, err = loadState(ctx, q, gameID)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return state, nil
}

// StartGame opens a DRAFT or WAITING game for picks.
func (l *Lobby) StartGame(ctx context.Context, gameID string) (*GameState, error) {
	now := l.engine.now()
	return l.transition(ctx, gameID, StatusInProgress, func(g *store.Game) {
		g.StartedAt = &now
	})
}

func (l *Lobby) CancelGame(ctx context.Context, gameID string) (*GameState, error) {
	now := l.engine.now()
	return l.transition(ctx, gameID, StatusCanceled, func(g *store.Game) {
		g.EndedAt = &now
	})
}

// Admit redeems the player's join code and, for a DRAFT game, moves the game
// to WAITING. Both happen in one transaction so a failure leaves the code
// unused. promoted reports whether the game changed status.
func (l *Lobby) Admit(ctx context.Context, gameID, playerID string) (state *GameState, promoted bool, err error) {
	unlock := l.engine.locks.lock(gameID)
	defer unlock()

	ctx, cancel := l.engine.withTimeout(ctx)
	defer cancel()

	err = l.store.WithTx(ctx, func(q store.Queries) error {
		game, err := q.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return ErrGameNotFound
		}

		redeemed, err := q.RedeemCode(ctx, playerID)
		if err != nil {
			return err
		}
		if !redeemed {
			return ErrCodeUsed
		}

		if game.Status == StatusDraft {
			game.Status = StatusWaiting
			if err := q.UpdateGame(ctx, game); err != nil {
				return err
			}
			promoted = true
		}

		state, err = loadState(ctx, q, gameID)
		return err
	})
	if err != nil {
		return nil, false, storeError(err)
	}
	return state, promoted, nil
}

// DeleteGame removes the game with its players, cards and picks.
func (l *Lobby) DeleteGame(ctx context.Context, gameID string) error {
	unlock := l.engine.locks.lock(gameID)
	defer unlock()

	ctx, cancel := l.engine.withTimeout(ctx)
	defer cancel()

	game, err := l.store.GetGame(ctx, gameID)
	if err != nil {
		return storeError(err)
	}
	if game == nil {
		return ErrGameNotFound
	}

	if err := l.store.DeleteGame(ctx, gameID); err != nil {
		return storeError(err)
	}
	return nil
}

// ShuffleCards reshuffles the prizes among unrevealed cards on demand.
func (l *Lobby) ShuffleCards(ctx context.Context, gameID string) (*GameState, error) {
	unlock := l.engine.locks.lock(gameID)
	defer unlock()

	ctx, cancel := l.engine.withTimeout(ctx)
	defer cancel()

	var state *GameState
	err := l.store.WithTx(ctx, func(q store.Queries) error {
		game, err := q.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return ErrGameNotFound
		}
		if game.Status == StatusEnded || game.Status == StatusCanceled {
			return invalidState("cannot shuffle a %s game", game.Status)
		}

		cards, err := q.GetGameCards(ctx, gameID)
		if err != nil {
			return err
		}
		revealed := make(map[int]bool)
		for _, c := range cards {
			if c.RevealedAt != nil {
				revealed[c.PositionIndex] = true
			}
		}

		if err := l.engine.reshuffle(ctx, q, game, revealed); err != nil {
			return err
		}

		state, err = loadState(ctx, q, gameID)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return state, nil
}
