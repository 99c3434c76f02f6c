package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"prizepick/codes"
	"prizepick/game"
	"prizepick/logger"
	"prizepick/store"
)

type Service struct {
	store   store.Store
	lobby   *game.Lobby
	hasher  codes.Hasher
	tokens  *TokenManager
	timeout time.Duration
}

func NewService(store store.Store, lobby *game.Lobby, hasher codes.Hasher, tokens *TokenManager, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		store:   store,
		lobby:   lobby,
		hasher:  hasher,
		tokens:  tokens,
		timeout: timeout,
	}
}

type LoginResponse struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Player    *game.PlayerState `json:"player"`
	Game      *game.GameState   `json:"game"`
}

// Identity is an authenticated player.
type Identity struct {
	PlayerID string
	GameID   string
	Username string
}

// PlayerLogin redeems a join code. Codes are checked against every stored
// hash because each hash is salted; the first match wins. A code redeems
// at most once even under concurrent logins, and a failed login never
// consumes it.
func (s *Service) PlayerLogin(ctx context.Context, code string) (*LoginResponse, error) {
	code = codes.Normalize(code)
	if code == "" {
		return nil, game.ErrInvalidCode
	}

	match, err := s.findPlayer(ctx, code)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, game.ErrInvalidCode
	}
	if match.CodeUsed {
		return nil, game.ErrCodeUsed
	}

	// Authenticate rejects the token until Admit has redeemed the code.
	token, expiresAt, err := s.tokens.Issue(match.ID, match.GameID)
	if err != nil {
		return nil, game.Internal(err)
	}

	state, promoted, err := s.lobby.Admit(ctx, match.GameID, match.ID)
	if err != nil {
		return nil, err
	}
	if promoted {
		logger.Infof("Game %s is waiting for players", match.GameID)
	}

	logger.Infof("Player %s logged in to game %s", match.Username, match.GameID)

	return &LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Player:    state.Player(match.ID),
		Game:      state,
	}, nil
}

func (s *Service) findPlayer(ctx context.Context, code string) (*store.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, game.Internal(fmt.Errorf("failed to list players: %w", err))
	}
	for _, p := range players {
		if s.hasher.Verify(p.CodeHash, code) {
			return p, nil
		}
	}
	return nil, nil
}

// Authenticate verifies a session token and the player it names. The player
// must still exist, must have redeemed its code and must belong to the
// token's game.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		logger.Debugf("Rejected token: %v", err)
		return nil, game.ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	player, err := s.store.GetPlayer(ctx, claims.PlayerID)
	if err != nil {
		return nil, game.Internal(err)
	}
	if player == nil || !player.CodeUsed || player.GameID != claims.GameID {
		return nil, game.ErrUnauthorized
	}

	return &Identity{
		PlayerID: player.ID,
		GameID:   player.GameID,
		Username: player.Username,
	}, nil
}

// Authorize checks that the identity belongs to gameID.
func Authorize(id *Identity, gameID string) error {
	if id == nil {
		return game.ErrUnauthorized
	}
	if id.GameID != gameID {
		return game.ErrNotInGame
	}
	return nil
}

// AdminGate guards the admin surface with a shared key.
type AdminGate struct {
	key []byte
}

func NewAdminGate(key string) *AdminGate {
	return &AdminGate{key: []byte(key)}
}

func (g *AdminGate) Check(key string) bool {
	if len(g.key) == 0 || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare(g.key, []byte(key)) == 1
}
