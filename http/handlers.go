package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"prizepick/auth"
	"prizepick/game"
	"prizepick/logger"
	"prizepick/ws"
)

type Handlers struct {
	authService *auth.Service
	adminGate   *auth.AdminGate
	lobby       *game.Lobby
	engine      *game.Engine
	wsManager   *ws.Manager
	lobbyFeed   *ws.LobbyManager
	upgrader    websocket.Upgrader
}

func NewHandlers(deps Deps) *Handlers {
	allowed := deps.AllowedOrigin
	return &Handlers{
		authService: deps.Auth,
		adminGate:   deps.AdminGate,
		lobby:       deps.Lobby,
		engine:      deps.Engine,
		wsManager:   deps.Games,
		lobbyFeed:   deps.LobbyFeed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
					return true
				}
				return allowed != "" && origin == allowed
			},
		},
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := game.KindOf(err)
	if kind == game.KindInternal {
		logger.Errorf("Request failed: %v", err)
	}
	writeJSON(w, statusFor(kind), errorResponse{
		Error:   string(kind),
		Message: game.MessageOf(err),
	})
}

func badRequest(message string) error {
	return &game.Error{Kind: game.KindInvalidConfiguration, Message: message}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

// Admin handlers

func (h *Handlers) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req game.CreateGameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.lobby.CreateGame(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Infof("Created game %s (%d cards, %d prizes, %d players)",
		resp.Game.ID, resp.Game.TotalCards, resp.Game.PrizeCount, resp.Game.PlayerSlots)
	h.lobbyFeed.Refresh(r.Context())
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.lobby.ListGames(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (h *Handlers) GetGame(w http.ResponseWriter, r *http.Request) {
	state, err := h.lobby.GetGameState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) StartGame(w http.ResponseWriter, r *http.Request) {
	state, err := h.lobby.StartGame(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Infof("Started game %s", state.ID)
	h.wsManager.PublishState(state)
	h.lobbyFeed.Refresh(r.Context())
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) CancelGame(w http.ResponseWriter, r *http.Request) {
	state, err := h.lobby.CancelGame(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Infof("Canceled game %s", state.ID)
	h.wsManager.PublishState(state)
	h.lobbyFeed.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Game cancelled", "game": state})
}

func (h *Handlers) ShuffleCards(w http.ResponseWriter, r *http.Request) {
	state, err := h.lobby.ShuffleCards(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	h.wsManager.PublishShuffle(state, "admin")
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) DeleteGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	if err := h.lobby.DeleteGame(r.Context(), gameID); err != nil {
		writeError(w, err)
		return
	}

	logger.Infof("Deleted game %s", gameID)
	h.wsManager.RemoveRoom(gameID)
	h.lobbyFeed.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"message": "Game deleted"})
}

// Player handlers

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.authService.PlayerLogin(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	h.wsManager.PublishState(resp.Game)
	h.lobbyFeed.Refresh(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetGameState(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.GetGameState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) ListPicks(w http.ResponseWriter, r *http.Request) {
	picks, err := h.engine.ListPicks(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, picks)
}

func (h *Handlers) PickCard(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]

	identity, ok := GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, game.ErrUnauthorized)
		return
	}
	if err := auth.Authorize(identity, gameID); err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		CardIndex *int `json:"cardIndex"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CardIndex == nil {
		writeError(w, badRequest("cardIndex is required"))
		return
	}

	result, err := h.wsManager.Pick(r.Context(), gameID, identity.PlayerID, identity.Username, *req.CardIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// WebSocket handlers

// HandleGameSocket authenticates before upgrading so that a bad credential
// is an ordinary 401 rather than a dropped socket.
func (h *Handlers) HandleGameSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	identity, err := h.authService.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	h.wsManager.HandleConnection(conn, identity.GameID, identity.PlayerID, identity.Username)
}

func (h *Handlers) HandleLobbySocket(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		key = r.Header.Get(adminKeyHeader)
	}
	if !h.adminGate.Check(key) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "Forbidden", Message: "admin key required"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("Lobby WebSocket upgrade error: %v", err)
		return
	}

	h.lobbyFeed.HandleConnection(conn)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{
		Error:   string(game.KindNotFound),
		Message: "no route for " + strings.ToUpper(r.Method) + " " + r.URL.Path,
	})
}
