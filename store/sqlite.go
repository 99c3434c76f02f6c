package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteStore struct {
	sqlQueries
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates it.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{sqlQueries: sqlQueries{db: db}, db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(sqlQueries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateGame(ctx context.Context, game *Game, players []*Player, cards []*Card) error {
	prizeNames, err := json.Marshal(game.PrizeNames)
	if err != nil {
		return fmt.Errorf("failed to encode prize names: %w", err)
	}

	return s.WithTx(ctx, func(q Queries) error {
		tx := q.(sqlQueries).db

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO games (id, name, total_cards, prize_count, prize_names, player_slots, status, prize_layout, created_at, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			game.ID, game.Name, game.TotalCards, game.PrizeCount, string(prizeNames), game.PlayerSlots,
			game.Status, game.PrizeLayout, game.CreatedAt.UTC(), nullTime(game.StartedAt), nullTime(game.EndedAt),
		); err != nil {
			return fmt.Errorf("failed to create game: %w", err)
		}

		for _, p := range players {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO players (id, game_id, username, code_hash, code_used, player_index, connected, is_winner, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, game.ID, p.Username, p.CodeHash, boolInt(p.CodeUsed), p.PlayerIndex,
				boolInt(p.Connected), boolInt(p.IsWinner), p.CreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("failed to create player: %w", err)
			}
		}

		for _, c := range cards {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cards (id, game_id, position_index, is_prize)
				VALUES (?, ?, ?, ?)`,
				c.ID, game.ID, c.PositionIndex, boolInt(c.IsPrize),
			); err != nil {
				return fmt.Errorf("failed to create card: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListGames(ctx context.Context) ([]*Game, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []*Game
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

func (s *SQLiteStore) DeleteGame(ctx context.Context, gameID string) error {
	return s.WithTx(ctx, func(q Queries) error {
		tx := q.(sqlQueries).db
		for _, stmt := range []string{
			"DELETE FROM picks WHERE game_id = ?",
			"DELETE FROM cards WHERE game_id = ?",
			"DELETE FROM players WHERE game_id = ?",
			"DELETE FROM games WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, stmt, gameID); err != nil {
				return fmt.Errorf("failed to delete game: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetPlayer(ctx context.Context, playerID string) (*Player, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, playerID)
	player, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return player, err
}

func (s *SQLiteStore) ListPlayers(ctx context.Context) ([]*Player, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+playerColumns+` FROM players ORDER BY created_at, player_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()
	return scanPlayers(rows)
}

func (s *SQLiteStore) SetPlayerConnected(ctx context.Context, playerID string, connected bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE players SET connected = ? WHERE id = ?",
		boolInt(connected), playerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update player connection: %w", err)
	}
	return nil
}

// sqlQueries implements Queries over a connection or a transaction.
type sqlQueries struct {
	db dbtx
}

const (
	gameColumns   = "id, name, total_cards, prize_count, prize_names, player_slots, status, prize_layout, created_at, started_at, ended_at"
	playerColumns = "id, game_id, username, code_hash, code_used, player_index, connected, is_winner, created_at"
	cardColumns   = "id, game_id, position_index, is_prize, revealed_at, revealed_by_player_id"
	pickColumns   = "id, game_id, player_id, card_index, was_prize, created_at"
)

func (q sqlQueries) GetGame(ctx context.Context, gameID string) (*Game, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, gameID)
	game, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return game, err
}

func (q sqlQueries) GetGamePlayers(ctx context.Context, gameID string) ([]*Player, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE game_id = ? ORDER BY player_index`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get game players: %w", err)
	}
	defer rows.Close()
	return scanPlayers(rows)
}

func (q sqlQueries) GetGameCards(ctx context.Context, gameID string) ([]*Card, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE game_id = ? ORDER BY position_index`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get game cards: %w", err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		card := &Card{}
		var isPrize int
		var revealedAt sql.NullTime
		var revealedBy sql.NullString
		if err := rows.Scan(&card.ID, &card.GameID, &card.PositionIndex, &isPrize, &revealedAt, &revealedBy); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		card.IsPrize = isPrize == 1
		card.RevealedAt = timePtr(revealedAt)
		card.RevealedByPlayerID = revealedBy.String
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (q sqlQueries) CountPicks(ctx context.Context, gameID string) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM picks WHERE game_id = ?", gameID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count picks: %w", err)
	}
	return n, nil
}

func (q sqlQueries) ListPicks(ctx context.Context, gameID string) ([]*Pick, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+pickColumns+` FROM picks WHERE game_id = ? ORDER BY created_at, rowid`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list picks: %w", err)
	}
	defer rows.Close()

	var picks []*Pick
	for rows.Next() {
		pick := &Pick{}
		var wasPrize int
		if err := rows.Scan(&pick.ID, &pick.GameID, &pick.PlayerID, &pick.CardIndex, &wasPrize, &pick.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pick: %w", err)
		}
		pick.WasPrize = wasPrize == 1
		picks = append(picks, pick)
	}
	return picks, rows.Err()
}

func (q sqlQueries) UpdateGame(ctx context.Context, game *Game) error {
	result, err := q.db.ExecContext(ctx,
		"UPDATE games SET status = ?, prize_layout = ?, started_at = ?, ended_at = ? WHERE id = ?",
		game.Status, game.PrizeLayout, nullTime(game.StartedAt), nullTime(game.EndedAt), game.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update game: %w", err)
	}
	return expectOne(result, "failed to update game")
}

func (q sqlQueries) RevealCard(ctx context.Context, gameID string, position int, playerID string, at time.Time) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE cards SET revealed_at = ?, revealed_by_player_id = ?
		WHERE game_id = ? AND position_index = ? AND revealed_at IS NULL`,
		at.UTC(), playerID, gameID, position,
	)
	if err != nil {
		return fmt.Errorf("failed to reveal card: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reveal card: %w", err)
	}
	if n == 0 {
		return ErrCardRevealed
	}
	return nil
}

func (q sqlQueries) SetCardPrizes(ctx context.Context, gameID string, flags []bool) error {
	if _, err := q.db.ExecContext(ctx, "UPDATE cards SET is_prize = 0 WHERE game_id = ?", gameID); err != nil {
		return fmt.Errorf("failed to clear prizes: %w", err)
	}
	for position, isPrize := range flags {
		if !isPrize {
			continue
		}
		if _, err := q.db.ExecContext(ctx,
			"UPDATE cards SET is_prize = 1 WHERE game_id = ? AND position_index = ?",
			gameID, position,
		); err != nil {
			return fmt.Errorf("failed to set prize: %w", err)
		}
	}
	return nil
}

func (q sqlQueries) CreatePick(ctx context.Context, pick *Pick) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO picks (id, game_id, player_id, card_index, was_prize, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		pick.ID, pick.GameID, pick.PlayerID, pick.CardIndex, boolInt(pick.WasPrize), pick.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create pick: %w", err)
	}
	return nil
}

func (q sqlQueries) MarkWinner(ctx context.Context, gameID, playerID string) error {
	result, err := q.db.ExecContext(ctx,
		"UPDATE players SET is_winner = 1 WHERE id = ? AND game_id = ?",
		playerID, gameID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark winner: %w", err)
	}
	return expectOne(result, "failed to mark winner")
}

type scanner interface {
	Scan(dest ...any) error
}

func (q sqlQueries) RedeemCode(ctx context.Context, playerID string) (bool, error) {
	result, err := q.db.ExecContext(ctx,
		"UPDATE players SET code_used = 1, connected = 1 WHERE id = ? AND code_used = 0",
		playerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to redeem code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to redeem code: %w", err)
	}
	return n == 1, nil
}

func scanGame(row scanner) (*Game, error) {
	game := &Game{}
	var prizeNames string
	var startedAt, endedAt sql.NullTime
	err := row.Scan(&game.ID, &game.Name, &game.TotalCards, &game.PrizeCount, &prizeNames,
		&game.PlayerSlots, &game.Status, &game.PrizeLayout, &game.CreatedAt, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan game: %w", err)
	}
	if err := json.Unmarshal([]byte(prizeNames), &game.PrizeNames); err != nil {
		return nil, fmt.Errorf("failed to decode prize names: %w", err)
	}
	game.StartedAt = timePtr(startedAt)
	game.EndedAt = timePtr(endedAt)
	return game, nil
}

func scanPlayer(row scanner) (*Player, error) {
	player := &Player{}
	var codeUsed, connected, isWinner int
	err := row.Scan(&player.ID, &player.GameID, &player.Username, &player.CodeHash, &codeUsed,
		&player.PlayerIndex, &connected, &isWinner, &player.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}
	player.CodeUsed = codeUsed == 1
	player.Connected = connected == 1
	player.IsWinner = isWinner == 1
	return player, nil
}

func scanPlayers(rows *sql.Rows) ([]*Player, error) {
	var players []*Player
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, player)
	}
	return players, rows.Err()
}

func expectOne(result sql.Result, msg string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", msg, ErrNoRows)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
