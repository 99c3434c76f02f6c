package ws

import (
	"encoding/json"

	"prizepick/game"
)

const (
	MsgPickCard    = "pick:card"
	MsgRequestSync = "request:sync"
	MsgJoinGame    = "join:game"
	MsgAck         = "ack"
)

// IncomingMessage is a client request. ID, when set, is echoed in the ack.
type IncomingMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type OutgoingMessage struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload"`
}

type AckPayload struct {
	Success bool           `json:"success"`
	Result  interface{}    `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Kind    game.ErrorKind `json:"kind,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type pickPayload struct {
	CardIndex *int `json:"cardIndex"`
}

type joinPayload struct {
	GameID string `json:"gameId"`
}

func eventMessage(e *game.Event) OutgoingMessage {
	return OutgoingMessage{Type: e.Type, Payload: e.Payload}
}

func ackOK(id string, result interface{}) OutgoingMessage {
	return OutgoingMessage{Type: MsgAck, ID: id, Payload: AckPayload{Success: true, Result: result}}
}

func ackError(id string, err error) OutgoingMessage {
	return OutgoingMessage{
		Type: MsgAck,
		ID:   id,
		Payload: AckPayload{
			Error: game.MessageOf(err),
			Kind:  game.KindOf(err),
		},
	}
}

func errorMessage(message string) OutgoingMessage {
	return OutgoingMessage{Type: game.EventError, Payload: ErrorPayload{Message: message}}
}
