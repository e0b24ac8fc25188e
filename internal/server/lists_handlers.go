package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"github.com/gin-gonic/gin"
)

// gamePayload is the game record accepted from clients. The server stamps added dates.
type gamePayload struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	BackgroundImage string `json:"background_image"`
	Released        string `json:"released"`
}

func (p gamePayload) trackedGame() lists.TrackedGame {
	return lists.TrackedGame{
		ID:              lists.GameID(p.ID),
		Name:            p.Name,
		BackgroundImage: p.BackgroundImage,
		Released:        p.Released,
	}
}

type moveRequest struct {
	GameID int64  `json:"gameId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type addGameResponse struct {
	Added bool           `json:"added"`
	List  lists.ListName `json:"list"`
}

type favoritesResponse struct {
	Games  []lists.FavoriteGame `json:"games"`
	Exists bool                 `json:"exists"`
}

func (h *httpHandler) handleGetLists(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	snapshot, err := h.lists.GetUserLists(c.Request.Context(), userID)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleAddGame(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	listName, ok := parseListParam(c, c.Param("list"))
	if !ok {
		return
	}
	var payload gamePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, invalidRequestBody("request body must be a game object"))
		return
	}
	outcome, err := h.lists.AddGameToList(c.Request.Context(), userID, listName, payload.trackedGame())
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	status := http.StatusOK
	if outcome.Added {
		status = http.StatusCreated
	}
	c.JSON(status, addGameResponse{Added: outcome.Added, List: outcome.List})
}

func (h *httpHandler) handleDeleteGame(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	listName, ok := parseListParam(c, c.Param("list"))
	if !ok {
		return
	}
	gameID, ok := parseGameIDParam(c)
	if !ok {
		return
	}
	if err := h.lists.DeleteGameFromList(c.Request.Context(), userID, listName, gameID); err != nil {
		h.respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMoveGame(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	var request moveRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, invalidRequestBody("request body must be JSON"))
		return
	}
	source, ok := parseListParam(c, request.From)
	if !ok {
		return
	}
	target, ok := parseListParam(c, request.To)
	if !ok {
		return
	}
	moved, err := h.lists.MoveGameToList(c.Request.Context(), userID, source, target, lists.GameID(request.GameID))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game": moved, "list": target})
}

func (h *httpHandler) handleDeleteCollection(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	if err := h.lists.DeleteCollectionGames(c.Request.Context(), userID); err != nil {
		h.respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGameStatus(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	gameID, ok := parseGameIDParam(c)
	if !ok {
		return
	}
	status, err := h.lists.GameStatus(c.Request.Context(), userID, gameID)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) handleGetFavorites(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	games, exists, err := h.lists.GetAllFavorites(c.Request.Context(), userID)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	if games == nil {
		games = []lists.FavoriteGame{}
	}
	c.JSON(http.StatusOK, favoritesResponse{Games: games, Exists: exists})
}

func (h *httpHandler) handleAddFavorite(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	var payload gamePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, invalidRequestBody("request body must be a game object"))
		return
	}
	added, err := h.lists.AddFavorite(c.Request.Context(), userID, payload.trackedGame())
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"added": added})
}

func (h *httpHandler) handleRemoveFavorite(c *gin.Context) {
	userID, ok := listUser(c)
	if !ok {
		return
	}
	gameID, ok := parseGameIDParam(c)
	if !ok {
		return
	}
	if err := h.lists.RemoveFavorite(c.Request.Context(), userID, gameID); err != nil {
		h.respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseListParam(c *gin.Context, raw string) (lists.ListName, bool) {
	name, err := lists.ParseListName(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_input", Message: "Unknown list: " + strings.TrimSpace(raw)})
		return "", false
	}
	return name, true
}

func parseGameIDParam(c *gin.Context) (lists.GameID, bool) {
	value, err := strconv.ParseInt(c.Param("gameId"), 10, 64)
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_input", Message: "Game id must be a positive integer."})
		return 0, false
	}
	return lists.GameID(value), true
}
