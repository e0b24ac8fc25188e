package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/telemetry"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	principalContextKey      = "gameshelf_principal"
	accessTokenQueryKey      = "access_token"
	adminTokenHeader         = "X-Admin-Token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingAccountService = errors.New("account service dependency required")
	errMissingListService    = errors.New("list service dependency required")
)

// AccountService manages accounts and sessions.
type AccountService interface {
	SignUp(ctx context.Context, email, password, displayName string) (users.SignedInSession, error)
	SignIn(ctx context.Context, email, password string) (users.SignedInSession, error)
	SignInWithFirebase(ctx context.Context, idToken string) (users.SignedInSession, error)
	SignOut(ctx context.Context, principal users.Principal) error
	Authenticate(ctx context.Context, token string) (users.Principal, error)
	CurrentUser(ctx context.Context, userID string) (users.Profile, error)
}

// ListService is the list sync layer.
type ListService interface {
	AddGameToList(ctx context.Context, userID lists.UserID, listName lists.ListName, game lists.TrackedGame) (lists.AddOutcome, error)
	DeleteGameFromList(ctx context.Context, userID lists.UserID, listName lists.ListName, gameID lists.GameID) error
	MoveGameToList(ctx context.Context, userID lists.UserID, sourceList, targetList lists.ListName, gameID lists.GameID) (lists.TrackedGame, error)
	GetUserLists(ctx context.Context, userID lists.UserID) (lists.ListsSnapshot, error)
	SubscribeUserLists(ctx context.Context, userID lists.UserID) (<-chan lists.ListsSnapshot, func(), error)
	GameStatus(ctx context.Context, userID lists.UserID, gameID lists.GameID) (lists.GameStatus, error)
	DeleteCollectionGames(ctx context.Context, userID lists.UserID) error
	AddFavorite(ctx context.Context, userID lists.UserID, game lists.TrackedGame) (bool, error)
	GetAllFavorites(ctx context.Context, userID lists.UserID) ([]lists.FavoriteGame, bool, error)
	RemoveFavorite(ctx context.Context, userID lists.UserID, gameID lists.GameID) error
}

// CatalogService reads the game catalog.
type CatalogService interface {
	ListGames(ctx context.Context) ([]catalog.Game, error)
	SearchGames(ctx context.Context, query string) ([]catalog.Game, error)
	GameDetails(ctx context.Context, gameID int64) (catalog.GameDetail, error)
	Screenshots(ctx context.Context, gameID int64) ([]catalog.Screenshot, error)
	Stores(ctx context.Context, gameID int64) ([]catalog.GameStore, error)
	Additions(ctx context.Context, gameID int64) ([]catalog.Game, error)
	ParentGames(ctx context.Context, gameID int64) ([]catalog.Game, error)
	SeriesGames(ctx context.Context, gameID int64) ([]catalog.Game, error)
	GamesByDeveloper(ctx context.Context, developer string) ([]catalog.Game, error)
	GamesByPublisher(ctx context.Context, publisher string) ([]catalog.Game, error)
	GamesByGenre(ctx context.Context, genre string) ([]catalog.Game, error)
	GamesByTag(ctx context.Context, tag string) ([]catalog.Game, error)
	GamesByPlatform(ctx context.Context, platform string) ([]catalog.Game, error)
	GenreHighlights(ctx context.Context, genre string) ([]catalog.Game, error)
	Discover(ctx context.Context, ordering string) ([]catalog.Game, error)
	UpcomingGames(ctx context.Context) ([]catalog.Game, error)
	NewGames(ctx context.Context) ([]catalog.Game, error)
	PopularGames(ctx context.Context) ([]catalog.Game, error)
	GameBundle(ctx context.Context, gameID int64) (catalog.Bundle, error)
}

// CacheClearer purges the local cache directory.
type CacheClearer interface {
	Clear(ctx context.Context) (int, error)
}

// Dependencies wires the HTTP handler. Catalog and Cache are optional. The admin routes
// are registered only when both Cache and AdminToken are set.
type Dependencies struct {
	Accounts          AccountService
	Lists             ListService
	Catalog           CatalogService
	Cache             CacheClearer
	AdminToken        string
	Reporter          telemetry.Reporter
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if deps.Lists == nil {
		return nil, errMissingListService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.Middleware(deps.Reporter))
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		accounts:   deps.Accounts,
		lists:      deps.Lists,
		catalog:    deps.Catalog,
		cache:      deps.Cache,
		adminToken: deps.AdminToken,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)
	router.POST("/auth/firebase", handler.handleFirebaseSignIn)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/signout", handler.handleSignOut)
	protected.GET("/auth/me", handler.handleCurrentUser)

	protected.GET("/lists", handler.handleGetLists)
	protected.POST("/lists/move", handler.handleMoveGame)
	protected.DELETE("/lists/games", handler.handleDeleteCollection)
	protected.POST("/lists/:list/games", handler.handleAddGame)
	protected.DELETE("/lists/:list/games/:gameId", handler.handleDeleteGame)
	protected.GET("/games/:gameId/status", handler.handleGameStatus)

	protected.GET("/favorites", handler.handleGetFavorites)
	protected.POST("/favorites", handler.handleAddFavorite)
	protected.DELETE("/favorites/:gameId", handler.handleRemoveFavorite)

	stream := router.Group("/")
	stream.Use(handler.authorizeStream)
	stream.GET("/lists/stream", handler.handleListsStream)

	if deps.Cache != nil && deps.AdminToken != "" {
		admin := router.Group("/admin")
		admin.Use(handler.authorizeAdmin)
		admin.POST("/cache/clear", handler.handleClearCache)
	}
	if deps.Catalog != nil {
		handler.registerCatalogRoutes(router.Group("/catalog"))
	}

	return router, nil
}

type httpHandler struct {
	accounts   AccountService
	lists      ListService
	catalog    CatalogService
	cache      CacheClearer
	adminToken string
	heartbeat  time.Duration
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleClearCache(c *gin.Context) {
	removed, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		h.logger.Error("cache clear failed", zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorBody{
			Error:   "cache_clear_failed",
			Code:    "cache.clear.failed",
			Message: "Failed to clear the cache. Please try again.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// authorizeAdmin checks the operator token. User sessions never grant admin access.
func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	presented := c.GetHeader(adminTokenHeader)
	if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.adminToken)) != 1 {
		h.logger.Warn("admin request rejected", zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: "forbidden", Message: "Admin token required."})
		return
	}
	c.Next()
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorizedBody(err.Error()))
		return
	}
	h.authenticate(c, token)
}

// authorizeStream also accepts the token as a query parameter, since EventSource clients
// cannot set headers.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		token = c.Query(accessTokenQueryKey)
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorizedBody(auth.ErrMissingBearerToken.Error()))
		return
	}
	h.authenticate(c, token)
}

func (h *httpHandler) authenticate(c *gin.Context, token string) {
	principal, err := h.accounts.Authenticate(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, users.ErrUnauthenticated) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		h.abortWithError(c, err)
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func principalFrom(c *gin.Context) (users.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return users.Principal{}, false
	}
	principal, ok := value.(users.Principal)
	return principal, ok && principal.UserID != ""
}

// listUser returns the caller as a lists user id, writing a 401 when absent.
func listUser(c *gin.Context) (lists.UserID, bool) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, unauthorizedBody("unauthorized"))
		return "", false
	}
	return lists.UserID(principal.UserID), true
}
