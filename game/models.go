package game

import (
	"time"

	"github.com/dustin/go-humanize"

	"prizepick/layout"
	"prizepick/store"
)

const (
	StatusDraft      = "DRAFT"
	StatusWaiting    = "WAITING"
	StatusInProgress = "IN_PROGRESS"
	StatusEnded      = "ENDED"
	StatusCanceled   = "CANCELED"
)

var transitions = map[string][]string{
	StatusDraft:      {StatusWaiting, StatusInProgress, StatusCanceled},
	StatusWaiting:    {StatusInProgress, StatusCanceled},
	StatusInProgress: {StatusEnded, StatusCanceled},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PlayerState struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	PlayerIndex int    `json:"playerIndex"`
	Connected   bool   `json:"connected"`
	IsWinner    bool   `json:"isWinner"`
}

// CardState never carries the prize flag of an unrevealed card.
type CardState struct {
	ID                 string     `json:"id"`
	PositionIndex      int        `json:"positionIndex"`
	IsRevealed         bool       `json:"isRevealed"`
	IsPrize            bool       `json:"isPrize"`
	RevealedByPlayerID string     `json:"revealedByPlayerId,omitempty"`
	RevealedAt         *time.Time `json:"revealedAt,omitempty"`
}

type GameState struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	TotalCards         int            `json:"totalCards"`
	PrizeCount         int            `json:"prizeCount"`
	PrizeNames         []string       `json:"prizeNames"`
	PlayerSlots        int            `json:"playerSlots"`
	Status             string         `json:"status"`
	CurrentPlayerIndex int            `json:"currentPlayerIndex"`
	PickCount          int            `json:"pickCount"`
	Players            []*PlayerState `json:"players"`
	Cards              []*CardState   `json:"cards"`
	Winner             *PlayerState   `json:"winner,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	StartedAt          *time.Time     `json:"startedAt,omitempty"`
	EndedAt            *time.Time     `json:"endedAt,omitempty"`
}

// Player returns the player with the given id, or nil.
func (s *GameState) Player(playerID string) *PlayerState {
	for _, p := range s.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

type GameSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TotalCards  int       `json:"totalCards"`
	PrizeCount  int       `json:"prizeCount"`
	PlayerSlots int       `json:"playerSlots"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedAgo  string    `json:"createdAgo"`
}

type PickResult struct {
	CardIndex       int          `json:"cardIndex"`
	WasPrize        bool         `json:"wasPrize"`
	GameEnded       bool         `json:"gameEnded"`
	Winner          *PlayerState `json:"winner,omitempty"`
	NextPlayerIndex *int         `json:"nextPlayerIndex,omitempty"`
	CardsShuffled   bool         `json:"cardsShuffled,omitempty"`
	// PrizeNames is set on a winning pick.
	PrizeNames      []string     `json:"prizeNames,omitempty"`
}

type PickRecord struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"playerId"`
	Username  string    `json:"username"`
	CardIndex int       `json:"cardIndex"`
	WasPrize  bool      `json:"wasPrize"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateGameRequest struct {
	Name        string       `json:"name"`
	TotalCards  int          `json:"totalCards"`
	PrizeCount  int          `json:"prizeCount"`
	PrizeNames  []string     `json:"prizeNames,omitempty"`
	PlayerSlots int          `json:"playerSlots"`
	Seed        *layout.Seed `json:"seed,omitempty"`
}

type PlayerCode struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

type CreateGameResponse struct {
	Game        *GameState   `json:"game"`
	PlayerCodes []PlayerCode `json:"playerCodes"`
}

func newPlayerState(p *store.Player) *PlayerState {
	return &PlayerState{
		ID:          p.ID,
		Username:    p.Username,
		PlayerIndex: p.PlayerIndex,
		Connected:   p.Connected,
		IsWinner:    p.IsWinner,
	}
}

func newGameState(g *store.Game, players []*store.Player, cards []*store.Card, pickCount int) *GameState {
	state := &GameState{
		ID:          g.ID,
		Name:        g.Name,
		TotalCards:  g.TotalCards,
		PrizeCount:  g.PrizeCount,
		PrizeNames:  append([]string{}, g.PrizeNames...),
		PlayerSlots: g.PlayerSlots,
		Status:      g.Status,
		PickCount:   pickCount,
		Players:     make([]*PlayerState, len(players)),
		Cards:       make([]*CardState, len(cards)),
		CreatedAt:   g.CreatedAt,
		StartedAt:   g.StartedAt,
		EndedAt:     g.EndedAt,
	}
	if len(players) > 0 {
		state.CurrentPlayerIndex = pickCount % len(players)
	}

	for i, p := range players {
		state.Players[i] = newPlayerState(p)
		if p.IsWinner {
			state.Winner = state.Players[i]
		}
	}

	for i, c := range cards {
		revealed := c.RevealedAt != nil
		state.Cards[i] = &CardState{
			ID:                 c.ID,
			PositionIndex:      c.PositionIndex,
			IsRevealed:         revealed,
			IsPrize:            revealed && c.IsPrize,
			RevealedByPlayerID: c.RevealedByPlayerID,
			RevealedAt:         c.RevealedAt,
		}
	}

	return state
}

func newGameSummary(g *store.Game, now time.Time) *GameSummary {
	return &GameSummary{
		ID:          g.ID,
		Name:        g.Name,
		TotalCards:  g.TotalCards,
		PrizeCount:  g.PrizeCount,
		PlayerSlots: g.PlayerSlots,
		Status:      g.Status,
		CreatedAt:   g.CreatedAt,
		CreatedAgo:  humanize.RelTime(g.CreatedAt, now, "ago", "from now"),
	}
}
