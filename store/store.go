package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCardRevealed = errors.New("card already revealed")
	ErrNoRows       = errors.New("no rows affected")
)

// Queries are the reads and writes the pick protocol needs. They are
// available both directly on a Store and inside WithTx.
//
// Getters return (nil, nil) when the row does not exist.
type Queries interface {
	GetGame(ctx context.Context, gameID string) (*Game, error)
	GetGamePlayers(ctx context.Context, gameID string) ([]*Player, error)
	GetGameCards(ctx context.Context, gameID string) ([]*Card, error)
	CountPicks(ctx context.Context, gameID string) (int, error)
	ListPicks(ctx context.Context, gameID string) ([]*Pick, error)

	// UpdateGame writes status, timestamps and the prize layout blob.
	UpdateGame(ctx context.Context, game *Game) error
	// RevealCard fails with ErrCardRevealed if the card was already revealed.
	RevealCard(ctx context.Context, gameID string, position int, playerID string, at time.Time) error
	// SetCardPrizes sets is_prize on every card of the game from flags,
	// indexed by position.
	SetCardPrizes(ctx context.Context, gameID string, flags []bool) error
	CreatePick(ctx context.Context, pick *Pick) error
	MarkWinner(ctx context.Context, gameID, playerID string) error
	// RedeemCode marks the player's code used and the player connected. It
	// returns false if the code had already been used or the player does
	// not exist.
	RedeemCode(ctx context.Context, playerID string) (bool, error)
}

// Store is the single source of truth for games, players, cards and picks.
type Store interface {
	Queries

	// CreateGame inserts a game with its players and cards atomically.
	CreateGame(ctx context.Context, game *Game, players []*Player, cards []*Card) error
	ListGames(ctx context.Context) ([]*Game, error)
	DeleteGame(ctx context.Context, gameID string) error

	GetPlayer(ctx context.Context, playerID string) (*Player, error)
	// ListPlayers returns every player of every game.
	ListPlayers(ctx context.Context) ([]*Player, error)
	SetPlayerConnected(ctx context.Context, playerID string, connected bool) error

	// WithTx runs fn atomically: either every write made through q is
	// applied or none is.
	WithTx(ctx context.Context, fn func(q Queries) error) error

	Close() error
}

type Game struct {
	ID          string
	Name        string
	TotalCards  int
	PrizeCount  int
	PrizeNames  []string
	PlayerSlots int
	Status      string
	PrizeLayout string
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
}

type Player struct {
	ID          string
	GameID      string
	Username    string
	CodeHash    string
	CodeUsed    bool
	PlayerIndex int
	Connected   bool
	IsWinner    bool
	CreatedAt   time.Time
}

type Card struct {
	ID                 string
	GameID             string
	PositionIndex      int
	IsPrize            bool
	RevealedAt         *time.Time
	RevealedByPlayerID string
}

type Pick struct {
	ID        string
	GameID    string
	PlayerID  string
	CardIndex int
	WasPrize  bool
	CreatedAt time.Time
}

func (g *Game) clone() *Game {
	c := *g
	c.PrizeNames = append([]string(nil), g.PrizeNames...)
	c.StartedAt = cloneTime(g.StartedAt)
	c.EndedAt = cloneTime(g.EndedAt)
	return &c
}

func (p *Player) clone() *Player {
	c := *p
	return &c
}

func (c *Card) clone() *Card {
	cc := *c
	cc.RevealedAt = cloneTime(c.RevealedAt)
	return &cc
}

func (p *Pick) clone() *Pick {
	c := *p
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
