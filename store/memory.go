package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type gameRecord struct {
	game    *Game
	players []*Player
	cards   []*Card
	picks   []*Pick
}

func (r *gameRecord) clone() *gameRecord {
	c := &gameRecord{
		game:    r.game.clone(),
		players: make([]*Player, len(r.players)),
		cards:   make([]*Card, len(r.cards)),
		picks:   make([]*Pick, len(r.picks)),
	}
	for i, p := range r.players {
		c.players[i] = p.clone()
	}
	for i, card := range r.cards {
		c.cards[i] = card.clone()
	}
	for i, p := range r.picks {
		c.picks[i] = p.clone()
	}
	return c
}

// MemoryStore keeps everything in process memory. It is used by tests and
// by single-instance deployments that do not need durability.
type MemoryStore struct {
	mu         sync.RWMutex
	games      map[string]*gameRecord
	playerGame map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:      make(map[string]*gameRecord),
		playerGame: make(map[string]string),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

// WithTx holds the write lock for the whole of fn. Records touched through q
// are copied on first access and swapped in only if fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := &memQueries{s: s, touched: make(map[string]*gameRecord)}
	if err := fn(q); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, rec := range q.touched {
		s.games[id] = rec
	}
	return nil
}

func (s *MemoryStore) CreateGame(ctx context.Context, game *Game, players []*Player, cards []*Card) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[game.ID]; ok {
		return fmt.Errorf("failed to create game: duplicate id %s", game.ID)
	}

	rec := &gameRecord{game: game.clone()}
	for _, p := range players {
		if _, ok := s.playerGame[p.ID]; ok {
			return fmt.Errorf("failed to create player: duplicate id %s", p.ID)
		}
		c := p.clone()
		c.GameID = game.ID
		rec.players = append(rec.players, c)
	}
	for _, card := range cards {
		c := card.clone()
		c.GameID = game.ID
		rec.cards = append(rec.cards, c)
	}
	sort.Slice(rec.players, func(i, j int) bool { return rec.players[i].PlayerIndex < rec.players[j].PlayerIndex })
	sort.Slice(rec.cards, func(i, j int) bool { return rec.cards[i].PositionIndex < rec.cards[j].PositionIndex })

	s.games[game.ID] = rec
	for _, p := range rec.players {
		s.playerGame[p.ID] = game.ID
	}
	return nil
}

func (s *MemoryStore) ListGames(ctx context.Context) ([]*Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	games := make([]*Game, 0, len(s.games))
	for _, rec := range s.games {
		games = append(games, rec.game.clone())
	}
	sort.Slice(games, func(i, j int) bool { return games[i].CreatedAt.After(games[j].CreatedAt) })
	return games, nil
}

func (s *MemoryStore) DeleteGame(ctx context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.games[gameID]
	if !ok {
		return nil
	}
	for _, p := range rec.players {
		delete(s.playerGame, p.ID)
	}
	delete(s.games, gameID)
	return nil
}

func (s *MemoryStore) GetPlayer(ctx context.Context, playerID string) (*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	player := s.findPlayer(playerID)
	if player == nil {
		return nil, nil
	}
	return player.clone(), nil
}

func (s *MemoryStore) ListPlayers(ctx context.Context) ([]*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var players []*Player
	for _, rec := range s.games {
		for _, p := range rec.players {
			players = append(players, p.clone())
		}
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].CreatedAt.Before(players[j].CreatedAt)
		}
		return players[i].PlayerIndex < players[j].PlayerIndex
	})
	return players, nil
}

func (s *MemoryStore) RedeemCode(ctx context.Context, playerID string) (redeemed bool, err error) {
	err = s.WithTx(ctx, func(q Queries) error {
		redeemed, err = q.RedeemCode(ctx, playerID)
		return err
	})
	return redeemed, err
}

func (s *MemoryStore) SetPlayerConnected(ctx context.Context, playerID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if player := s.findPlayer(playerID); player != nil {
		player.Connected = connected
	}
	return nil
}

func (s *MemoryStore) findPlayer(playerID string) *Player {
	rec, ok := s.games[s.playerGame[playerID]]
	if !ok {
		return nil
	}
	for _, p := range rec.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (s *MemoryStore) read(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memQueries{s: s})
}

func (s *MemoryStore) GetGame(ctx context.Context, gameID string) (game *Game, err error) {
	err = s.read(ctx, func(q Queries) error {
		game, err = q.GetGame(ctx, gameID)
		return err
	})
	return game, err
}

func (s *MemoryStore) GetGamePlayers(ctx context.Context, gameID string) (players []*Player, err error) {
	err = s.read(ctx, func(q Queries) error {
		players, err = q.GetGamePlayers(ctx, gameID)
		return err
	})
	return players, err
}

func (s *MemoryStore) GetGameCards(ctx context.Context, gameID string) (cards []*Card, err error) {
	err = s.read(ctx, func(q Queries) error {
		cards, err = q.GetGameCards(ctx, gameID)
		return err
	})
	return cards, err
}

func (s *MemoryStore) CountPicks(ctx context.Context, gameID string) (n int, err error) {
	err = s.read(ctx, func(q Queries) error {
		n, err = q.CountPicks(ctx, gameID)
		return err
	})
	return n, err
}

func (s *MemoryStore) ListPicks(ctx context.Context, gameID string) (picks []*Pick, err error) {
	err = s.read(ctx, func(q Queries) error {
		picks, err = q.ListPicks(ctx, gameID)
		return err
	})
	return picks, err
}

func (s *MemoryStore) UpdateGame(ctx context.Context, game *Game) error {
	return s.WithTx(ctx, func(q Queries) error { return q.UpdateGame(ctx, game) })
}

func (s *MemoryStore) RevealCard(ctx context.Context, gameID string, position int, playerID string, at time.Time) error {
	return s.WithTx(ctx, func(q Queries) error { return q.RevealCard(ctx, gameID, position, playerID, at) })
}

func (s *MemoryStore) SetCardPrizes(ctx context.Context, gameID string, flags []bool) error {
	return s.WithTx(ctx, func(q Queries) error { return q.SetCardPrizes(ctx, gameID, flags) })
}

func (s *MemoryStore) CreatePick(ctx context.Context, pick *Pick) error {
	return s.WithTx(ctx, func(q Queries) error { return q.CreatePick(ctx, pick) })
}

func (s *MemoryStore) MarkWinner(ctx context.Context, gameID, playerID string) error {
	return s.WithTx(ctx, func(q Queries) error { return q.MarkWinner(ctx, gameID, playerID) })
}

// memQueries reads through to the base records. With touched set it writes
// to private copies instead; without it, it is read only.
type memQueries struct {
	s       *MemoryStore
	touched map[string]*gameRecord
}

func (q *memQueries) record(gameID string) *gameRecord {
	if rec, ok := q.touched[gameID]; ok {
		return rec
	}
	return q.s.games[gameID]
}

func (q *memQueries) writable(gameID string) (*gameRecord, error) {
	if q.touched == nil {
		return nil, fmt.Errorf("write outside transaction")
	}
	if rec, ok := q.touched[gameID]; ok {
		return rec, nil
	}
	base, ok := q.s.games[gameID]
	if !ok {
		return nil, ErrNoRows
	}
	rec := base.clone()
	q.touched[gameID] = rec
	return rec, nil
}

func (q *memQueries) GetGame(ctx context.Context, gameID string) (*Game, error) {
	rec := q.record(gameID)
	if rec == nil {
		return nil, nil
	}
	return rec.game.clone(), nil
}

func (q *memQueries) GetGamePlayers(ctx context.Context, gameID string) ([]*Player, error) {
	rec := q.record(gameID)
	if rec == nil {
		return nil, nil
	}
	players := make([]*Player, len(rec.players))
	for i, p := range rec.players {
		players[i] = p.clone()
	}
	return players, nil
}

func (q *memQueries) GetGameCards(ctx context.Context, gameID string) ([]*Card, error) {
	rec := q.record(gameID)
	if rec == nil {
		return nil, nil
	}
	cards := make([]*Card, len(rec.cards))
	for i, c := range rec.cards {
		cards[i] = c.clone()
	}
	return cards, nil
}

func (q *memQueries) CountPicks(ctx context.Context, gameID string) (int, error) {
	rec := q.record(gameID)
	if rec == nil {
		return 0, nil
	}
	return len(rec.picks), nil
}

func (q *memQueries) ListPicks(ctx context.Context, gameID string) ([]*Pick, error) {
	rec := q.record(gameID)
	if rec == nil {
		return nil, nil
	}
	picks := make([]*Pick, len(rec.picks))
	for i, p := range rec.picks {
		picks[i] = p.clone()
	}
	return picks, nil
}

func (q *memQueries) UpdateGame(ctx context.Context, game *Game) error {
	rec, err := q.writable(game.ID)
	if err != nil {
		return fmt.Errorf("failed to update game: %w", err)
	}
	rec.game.Status = game.Status
	rec.game.PrizeLayout = game.PrizeLayout
	rec.game.StartedAt = cloneTime(game.StartedAt)
	rec.game.EndedAt = cloneTime(game.EndedAt)
	return nil
}

func (q *memQueries) RevealCard(ctx context.Context, gameID string, position int, playerID string, at time.Time) error {
	rec, err := q.writable(gameID)
	if err != nil {
		return fmt.Errorf("failed to reveal card: %w", err)
	}
	for _, c := range rec.cards {
		if c.PositionIndex != position {
			continue
		}
		if c.RevealedAt != nil {
			return ErrCardRevealed
		}
		c.RevealedAt = &at
		c.RevealedByPlayerID = playerID
		return nil
	}
	return ErrCardRevealed
}

func (q *memQueries) SetCardPrizes(ctx context.Context, gameID string, flags []bool) error {
	rec, err := q.writable(gameID)
	if err != nil {
		return fmt.Errorf("failed to set prizes: %w", err)
	}
	for _, c := range rec.cards {
		c.IsPrize = c.PositionIndex < len(flags) && flags[c.PositionIndex]
	}
	return nil
}

func (q *memQueries) CreatePick(ctx context.Context, pick *Pick) error {
	rec, err := q.writable(pick.GameID)
	if err != nil {
		return fmt.Errorf("failed to create pick: %w", err)
	}
	rec.picks = append(rec.picks, pick.clone())
	return nil
}

func (q *memQueries) MarkWinner(ctx context.Context, gameID, playerID string) error {
	rec, err := q.writable(gameID)
	if err != nil {
		return fmt.Errorf("failed to mark winner: %w", err)
	}
	for _, p := range rec.players {
		if p.ID == playerID {
			p.IsWinner = true
			return nil
		}
	}
	return fmt.Errorf("failed to mark winner: %w", ErrNoRows)
}

func (q *memQueries) RedeemCode(ctx context.Context, playerID string) (bool, error) {
	gameID, ok := q.s.playerGame[playerID]
	if !ok {
		return false, nil
	}
	rec, err := q.writable(gameID)
	if errors.Is(err, ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, p := range rec.players {
		if p.ID == playerID {
			if p.CodeUsed {
				return false, nil
			}
			p.CodeUsed = true
			p.Connected = true
			return true, nil
		}
	}
	return false, nil
}
