package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
)

const tokenName = "prizepick_session"

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// Claims bind a player to the game their code belongs to.
type Claims struct {
	PlayerID  string `json:"playerId"`
	GameID    string `json:"gameId"`
	ExpiresAt int64  `json:"exp"`
}

// TokenManager issues and verifies HMAC-signed, time-limited session tokens.
type TokenManager struct {
	codec *securecookie.SecureCookie
	ttl   time.Duration
	now   func() time.Time
}

func NewTokenManager(secret []byte, ttl time.Duration) *TokenManager {
	codec := securecookie.New(secret, nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(ttl / time.Second))

	return &TokenManager{
		codec: codec,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *TokenManager) Issue(playerID, gameID string) (string, time.Time, error) {
	expiresAt := m.now().Add(m.ttl)
	token, err := m.codec.Encode(tokenName, &Claims{
		PlayerID:  playerID,
		GameID:    gameID,
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

func (m *TokenManager) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}

	var claims Claims
	if err := m.codec.Decode(tokenName, token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.PlayerID == "" || claims.GameID == "" {
		return nil, ErrTokenInvalid
	}
	if !m.now().Before(time.Unix(claims.ExpiresAt, 0)) {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}
