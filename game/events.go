package game

import "strings"

const (
	EventGameState          = "game:state"
	EventCardRevealed       = "card:revealed"
	EventCardsShuffled      = "cards:shuffled"
	EventTurnChanged        = "turn:changed"
	EventGameEnded          = "game:ended"
	EventPlayerConnected    = "player:connected"
	EventPlayerDisconnected = "player:disconnected"
	EventError              = "error"
	EventGamesUpdate        = "games:update"
)

type Event struct {
	Type    string      `json:"type"`
	GameID  string      `json:"gameId,omitempty"`
	Payload interface{} `json:"payload"`
}

type CardRevealedPayload struct {
	CardIndex  int      `json:"cardIndex"`
	PlayerID   string   `json:"playerId"`
	WasPrize   bool     `json:"wasPrize"`
	Message    string   `json:"message"`
	PrizeNames []string `json:"prizeNames"`
}

type CardsShuffledPayload struct {
	Message    string `json:"message"`
	ShuffledBy string `json:"shuffledBy"`
}

type TurnChangedPayload struct {
	CurrentPlayerIndex int `json:"currentPlayerIndex"`
}

type GameEndedPayload struct {
	WinnerPlayerID string `json:"winnerPlayerId"`
	CardIndex      int    `json:"cardIndex"`
}

type PresencePayload struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

func NewStateEvent(state *GameState) *Event {
	return &Event{Type: EventGameState, GameID: state.ID, Payload: state}
}

func NewPresenceEvent(eventType, gameID, playerID, username string) *Event {
	return &Event{
		Type:    eventType,
		GameID:  gameID,
		Payload: PresencePayload{PlayerID: playerID, Username: username},
	}
}

func NewShuffleEvent(gameID, shuffledBy string) *Event {
	return &Event{
		Type:    EventCardsShuffled,
		GameID:  gameID,
		Payload: CardsShuffledPayload{Message: "Cards have been shuffled!", ShuffledBy: shuffledBy},
	}
}

// PickEvents returns the outcome of a successful pick in broadcast order:
// card:revealed, cards:shuffled when a reshuffle happened, then game:ended
// or turn:changed. The refreshed game:state follows separately.
func PickEvents(gameID string, result *PickResult, playerID, username string) []*Event {
	revealed := CardRevealedPayload{
		CardIndex:  result.CardIndex,
		PlayerID:   playerID,
		WasPrize:   result.WasPrize,
		Message:    "Try Again!",
		PrizeNames: []string{},
	}
	if result.WasPrize {
		revealed.Message = "You've Won! " + strings.Join(result.PrizeNames, ", ")
		revealed.PrizeNames = append(revealed.PrizeNames, result.PrizeNames...)
	}

	events := []*Event{{Type: EventCardRevealed, GameID: gameID, Payload: revealed}}

	if result.CardsShuffled {
		events = append(events, NewShuffleEvent(gameID, username))
	}

	if result.GameEnded {
		winnerID := playerID
		if result.Winner != nil {
			winnerID = result.Winner.ID
		}
		events = append(events, &Event{
			Type:    EventGameEnded,
			GameID:  gameID,
			Payload: GameEndedPayload{WinnerPlayerID: winnerID, CardIndex: result.CardIndex},
		})
	} else if result.NextPlayerIndex != nil {
		events = append(events, &Event{
			Type:    EventTurnChanged,
			GameID:  gameID,
			Payload: TurnChangedPayload{CurrentPlayerIndex: *result.NextPlayerIndex},
		})
	}

	return events
}
