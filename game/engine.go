package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prizepick/layout"
	"prizepick/store"
)

const defaultStoreTimeout = 5 * time.Second

// Engine runs the pick protocol. Every mutation of a game happens under
// that game's lock and inside one store transaction.
type Engine struct {
	store    store.Store
	shuffler *layout.Shuffler
	locks    *gameLocks
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Engine)

// WithStoreTimeout bounds every store call made by the engine.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store store.Store, shuffler *layout.Shuffler, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		shuffler: shuffler,
		locks:    newGameLocks(),
		timeout:  defaultStoreTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// storeError passes *Error values through and turns everything else,
// including deadline overruns, into an internal error.
func storeError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Internal(fmt.Errorf("store timeout: %w", err))
	}
	return Internal(err)
}

// PickCard reveals cardIndex on behalf of playerID. Validation failures are
// returned as *Error and leave the game untouched.
func (e *Engine) PickCard(ctx context.Context, gameID, playerID string, cardIndex int) (*PickResult, error) {
	unlock := e.locks.lock(gameID)
	defer unlock()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var result *PickResult
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		game, err := q.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return ErrGameNotFound
		}

		players, err := q.GetGamePlayers(ctx, gameID)
		if err != nil {
			return err
		}
		var player *store.Player
		for _, p := range players {
			if p.ID == playerID {
				player = p
				break
			}
		}
		if player == nil {
			return ErrPlayerNotFound
		}

		if game.Status != StatusInProgress {
			return ErrGameNotActive
		}

		pickCount, err := q.CountPicks(ctx, gameID)
		if err != nil {
			return err
		}
		turn := pickCount % len(players)
		if player.PlayerIndex != turn {
			return ErrNotYourTurn
		}

		cards, err := q.GetGameCards(ctx, gameID)
		if err != nil {
			return err
		}
		var card *store.Card
		revealed := make(map[int]bool)
		for _, c := range cards {
			if c.PositionIndex == cardIndex {
				card = c
			}
			if c.RevealedAt != nil {
				revealed[c.PositionIndex] = true
			}
		}
		if card == nil {
			return ErrCardNotFound
		}
		if card.RevealedAt != nil {
			return ErrCardRevealed
		}

		now := e.now()
		if err := q.RevealCard(ctx, gameID, cardIndex, playerID, now); err != nil {
			if errors.Is(err, store.ErrCardRevealed) {
				return ErrCardRevealed
			}
			return err
		}
		revealed[cardIndex] = true

		if err := q.CreatePick(ctx, &store.Pick{
			ID:        uuid.NewString(),
			GameID:    gameID,
			PlayerID:  playerID,
			CardIndex: cardIndex,
			WasPrize:  card.IsPrize,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if card.IsPrize {
			if err := q.MarkWinner(ctx, gameID, playerID); err != nil {
				return err
			}
			game.Status = StatusEnded
			game.EndedAt = &now
			if err := q.UpdateGame(ctx, game); err != nil {
				return err
			}

			winner := newPlayerState(player)
			winner.IsWinner = true
			result = &PickResult{
				CardIndex:  cardIndex,
				WasPrize:   true,
				GameEnded:  true,
				Winner:     winner,
				PrizeNames: append([]string(nil), game.PrizeNames...),
			}
			return nil
		}

		if err := e.reshuffle(ctx, q, game, revealed); err != nil {
			return err
		}

		next := (turn + 1) % len(players)
		result = &PickResult{CardIndex: cardIndex, NextPlayerIndex: &next, CardsShuffled: true}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return result, nil
}

// reshuffle moves the game's prizes among its unrevealed cards and persists
// both the layout blob and the per-card flags.
func (e *Engine) reshuffle(ctx context.Context, q store.Queries, game *store.Game, revealed map[int]bool) error {
	current, err := layout.Decode(game.PrizeLayout)
	if err != nil {
		return err
	}

	next := e.shuffler.Reshuffle(current, game.TotalCards, revealed)
	blob, err := layout.Encode(next)
	if err != nil {
		return err
	}

	if err := q.SetCardPrizes(ctx, game.ID, layout.Membership(next, game.TotalCards)); err != nil {
		return err
	}
	game.PrizeLayout = blob
	return q.UpdateGame(ctx, game)
}

// GetGameState returns a consistent snapshot of the game as clients see it.
func (e *Engine) GetGameState(ctx context.Context, gameID string) (*GameState, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var state *GameState
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		state, err = loadState(ctx, q, gameID)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return state, nil
}

func loadState(ctx context.Context, q store.Queries, gameID string) (*GameState, error) {
	game, err := q.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, ErrGameNotFound
	}

	players, err := q.GetGamePlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	cards, err := q.GetGameCards(ctx, gameID)
	if err != nil {
		return nil, err
	}
	pickCount, err := q.CountPicks(ctx, gameID)
	if err != nil {
		return nil, err
	}

	return newGameState(game, players, cards, pickCount), nil
}

// ListPicks returns the game's pick log in order.
func (e *Engine) ListPicks(ctx context.Context, gameID string) ([]*PickRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var records []*PickRecord
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		game, err := q.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return ErrGameNotFound
		}

		players, err := q.GetGamePlayers(ctx, gameID)
		if err != nil {
			return err
		}
		usernames := make(map[string]string, len(players))
		for _, p := range players {
			usernames[p.ID] = p.Username
		}

		picks, err := q.ListPicks(ctx, gameID)
		if err != nil {
			return err
		}
		records = make([]*PickRecord, len(picks))
		for i, p := range picks {
			records[i] = &PickRecord{
				ID:        p.ID,
				PlayerID:  p.PlayerID,
				Username:  usernames[p.PlayerID],
				CardIndex: p.CardIndex,
				WasPrize:  p.WasPrize,
				CreatedAt: p.CreatedAt,
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return records, nil
}

// SetConnected flags a player's realtime presence.
func (e *Engine) SetConnected(ctx context.Context, playerID string, connected bool) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.store.SetPlayerConnected(ctx, playerID, connected); err != nil {
		return storeError(err)
	}
	return nil
}
