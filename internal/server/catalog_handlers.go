package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/catalog"
	"github.com/gin-gonic/gin"
)

type gamesResponse struct {
	Results []catalog.Game `json:"results"`
}

func (h *httpHandler) registerCatalogRoutes(group *gin.RouterGroup) {
	group.GET("/games", h.handleCatalogGames)
	group.GET("/search", h.catalogList(func(ctx context.Context, c *gin.Context) ([]catalog.Game, error) {
		return h.catalog.SearchGames(ctx, c.Query("q"))
	}))
	group.GET("/discover", h.catalogList(func(ctx context.Context, c *gin.Context) ([]catalog.Game, error) {
		return h.catalog.Discover(ctx, c.Query("ordering"))
	}))
	group.GET("/upcoming", h.catalogList(func(ctx context.Context, _ *gin.Context) ([]catalog.Game, error) {
		return h.catalog.UpcomingGames(ctx)
	}))
	group.GET("/new", h.catalogList(func(ctx context.Context, _ *gin.Context) ([]catalog.Game, error) {
		return h.catalog.NewGames(ctx)
	}))
	group.GET("/popular", h.catalogList(func(ctx context.Context, _ *gin.Context) ([]catalog.Game, error) {
		return h.catalog.PopularGames(ctx)
	}))
	group.GET("/developers/:slug/games", h.catalogList(func(ctx context.Context, c *gin.Context) ([]catalog.Game, error) {
		return h.catalog.GamesByDeveloper(ctx, c.Param("slug"))
	}))
	group.GET("/publishers/:slug/games", h.catalogList(func(ctx context.Context, c *gin.Context) ([]catalog.Game, error) {
		return h.catalog.GamesByPublisher(ctx, c.Param("slug"))
	}))
	group.GET("/genres/:slug/games", h.catalogList(func(ctx context.Context, c *gin.Context) ([]catalog.Game, error) {
		return h.catalog.GamesByGenre(ctx, c.Param("slug"))
	}))
	group.GET("/genres/:slug/highlights", h.catalogList(func(ctx context.Context, c *gin.Context) ([]catalog.Game, error) {
		return h.catalog.GenreHighlights(ctx, c.Param("slug"))
	}))
	group.GET("/tags/:slug/games", h.catalogList(func(ctx context.Context, c *gin.Context) ([]catalog.Game, error) {
		return h.catalog.GamesByTag(ctx, c.Param("slug"))
	}))
	group.GET("/platforms/:slug/games", h.catalogList(func(ctx context.Context, c *gin.Context) ([]catalog.Game, error) {
		return h.catalog.GamesByPlatform(ctx, c.Param("slug"))
	}))

	group.GET("/games/:gameId", h.catalogGame(func(ctx context.Context, id int64) (any, error) {
		return h.catalog.GameDetails(ctx, id)
	}))
	group.GET("/games/:gameId/screenshots", h.catalogGame(func(ctx context.Context, id int64) (any, error) {
		return h.catalog.Screenshots(ctx, id)
	}))
	group.GET("/games/:gameId/stores", h.catalogGame(func(ctx context.Context, id int64) (any, error) {
		return h.catalog.Stores(ctx, id)
	}))
	group.GET("/games/:gameId/additions", h.catalogGame(func(ctx context.Context, id int64) (any, error) {
		return h.catalog.Additions(ctx, id)
	}))
	group.GET("/games/:gameId/parent-games", h.catalogGame(func(ctx context.Context, id int64) (any, error) {
		return h.catalog.ParentGames(ctx, id)
	}))
	group.GET("/games/:gameId/series", h.catalogGame(func(ctx context.Context, id int64) (any, error) {
		return h.catalog.SeriesGames(ctx, id)
	}))
	group.GET("/games/:gameId/bundle", h.catalogGame(func(ctx context.Context, id int64) (any, error) {
		return h.catalog.GameBundle(ctx, id)
	}))
}

// handleCatalogGames serves the default listing, or search results when search is set.
func (h *httpHandler) handleCatalogGames(c *gin.Context) {
	var (
		games []catalog.Game
		err   error
	)
	if query, ok := c.GetQuery("search"); ok {
		games, err = h.catalog.SearchGames(c.Request.Context(), query)
	} else {
		games, err = h.catalog.ListGames(c.Request.Context())
	}
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gamesResponse{Results: games})
}

func (h *httpHandler) catalogList(fetch func(ctx context.Context, c *gin.Context) ([]catalog.Game, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		games, err := fetch(c.Request.Context(), c)
		if err != nil {
			h.respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gamesResponse{Results: games})
	}
}

func (h *httpHandler) catalogGame(fetch func(ctx context.Context, gameID int64) (any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID, err := strconv.ParseInt(c.Param("gameId"), 10, 64)
		if err != nil || gameID <= 0 {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_game_id", Message: "Game id must be a positive integer."})
			return
		}
		result, err := fetch(c.Request.Context(), gameID)
		if err != nil {
			h.respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
