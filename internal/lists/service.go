package lists

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/realtime"
	"go.uber.org/zap"
)

var (
	errMissingStore        = errors.New("document store is required")
	errListMissing         = errors.New("list document missing")
	errTargetHoldsGame     = errors.New("target list already holds the game")
	errSameSourceAndTarget = errors.New("source and target lists are the same")
	noOpLogger             = zap.NewNop()
)

const (
	opServiceNew         = "lists.service.new"
	opCreateDefaultLists = "lists.create_default_lists"
	opAddGame            = "lists.add_game"
	opDeleteGame         = "lists.delete_game"
	opMoveGame           = "lists.move_game"
	opGetUserLists       = "lists.get_user_lists"
	opSubscribeUserLists = "lists.subscribe_user_lists"
	opGetGameList        = "lists.get_game_list"
	opDeleteCollection   = "lists.delete_collection_games"
	opAddFavorite        = "lists.add_favorite"
	opGetFavorites       = "lists.get_all_favorites"
	opRemoveFavorite     = "lists.remove_favorite"
	opGameStatus         = "lists.game_status"

	reasonMissingStore      = "missing_store"
	reasonInvalidUserID     = "invalid_user_id"
	reasonInvalidList       = "invalid_list"
	reasonInvalidGame       = "invalid_game"
	reasonInvalidGameID     = "invalid_game_id"
	reasonSameList          = "same_list"
	reasonListMissing       = "list_missing"
	reasonGameNotInList     = "game_not_in_list"
	reasonTransactionFailed = "transaction_failed"
	reasonSubscribeFailed   = "subscribe_failed"

	fieldOperation = "operation"
	fieldReason    = "reason"
	fieldUserID    = "user_id"
	fieldGameID    = "game_id"
	fieldList      = "list"
)

const (
	messageInitialization = "Failed to set up your lists. Please try signing up again."
	messageAddGame        = "Failed to add game to list. Please try again."
	messageDeleteGame     = "Failed to delete game from list. Please try again."
	messageMoveGame       = "Failed to move game between lists. Please try again."
	messageGameNotInList  = "The game is no longer in that list. Refresh and try again."
	messageLoadLists      = "Failed to load your lists. Please try again."
	messageGameList       = "Error fetching game list status. Please try again."
	messageClearLists     = "Failed to delete all games from collection. Please try again."
	messageAddFavorite    = "Failed to add game to favorites. Please try again."
	messageGetFavorites   = "Failed to fetch favorite games. Please try again."
	messageRemoveFavorite = "Failed to remove game from favorites. Please try again."
	messageInvalidInput   = "The request was not valid."
)

// ServiceConfig describes the dependencies of the list sync service.
type ServiceConfig struct {
	Store      Store
	Dispatcher *realtime.Dispatcher
	Clock      func() time.Time
	Logger     *zap.Logger
	Retry      RetryPolicy
}

// Service owns every read and write of the per-user list and favorites documents.
type Service struct {
	store      Store
	dispatcher *realtime.Dispatcher
	clock      func() time.Time
	logger     *zap.Logger
	retry      RetryPolicy
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(ErrInvalidInput, opServiceNew, reasonMissingStore, messageInvalidInput, errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		clock:      clock,
		logger:     logger,
		retry:      cfg.Retry.withDefaults(),
	}, nil
}

// CreateDefaultLists creates the five empty status lists of a new account in one
// transaction. Lists that already exist are left untouched.
func (s *Service) CreateDefaultLists(ctx context.Context, userID UserID) error {
	if err := s.ready(opCreateDefaultLists, ErrInitialization, messageInitialization); err != nil {
		return err
	}
	if userID == "" {
		return s.fail(ErrInitialization, opCreateDefaultLists, reasonInvalidUserID, messageInitialization, ErrInvalidUserID)
	}

	var created []string
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
		created = created[:0]
		existing, err := tx.LoadLists(userID)
		if err != nil {
			return err
		}
		present := make(map[ListName]struct{}, len(existing))
		for _, document := range existing {
			present[document.Name] = struct{}{}
		}
		for _, name := range canonicalListNames {
			if _, ok := present[name]; ok {
				continue
			}
			if err := tx.CreateList(ListDocument{UserID: userID, Name: name, Games: []TrackedGame{}}); err != nil {
				return err
			}
			created = append(created, name.String())
		}
		return nil
	})
	if err != nil {
		return s.fail(ErrInitialization, opCreateDefaultLists, reasonTransactionFailed, messageInitialization, err,
			zap.String(fieldUserID, userID.String()))
	}
	s.publish(userID, realtime.EventListsChanged, created...)
	return nil
}

// AddGameToList appends game to the named list unless the game is already tracked in
// any list, in which case the call is a no-op reporting the owning list.
func (s *Service) AddGameToList(ctx context.Context, userID UserID, listName ListName, game TrackedGame) (AddOutcome, error) {
	if err := s.ready(opAddGame, ErrWrite, messageAddGame); err != nil {
		return AddOutcome{}, err
	}
	if err := validateUserAndList(userID, listName); err != nil {
		return AddOutcome{}, s.fail(ErrInvalidInput, opAddGame, invalidInputReason(err), messageInvalidInput, err)
	}
	if err := validateGame(game); err != nil {
		return AddOutcome{}, s.fail(ErrInvalidInput, opAddGame, reasonInvalidGame, messageInvalidInput, err)
	}
	if game.AddedDate.IsZero() {
		game.AddedDate = s.clock()
	}
	game.AddedDate = game.AddedDate.UTC()

	var outcome AddOutcome
	err := s.withRetry(ctx, func() error {
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
			outcome = AddOutcome{}
			owner, found, err := tx.FindGameList(userID, game.ID)
			if err != nil {
				return err
			}
			if found {
				outcome = AddOutcome{Added: false, List: owner}
				return nil
			}
			documents, err := tx.LoadLists(userID)
			if err != nil {
				return err
			}
			target, ok := findDocument(documents, listName)
			if !ok {
				return fmt.Errorf("%w: %s", errListMissing, listName)
			}
			target.Games = append(target.Games, game)
			if err := tx.SaveList(target); err != nil {
				return err
			}
			outcome = AddOutcome{Added: true, List: listName}
			return nil
		})
	})
	if err != nil {
		return AddOutcome{}, s.failStore(ErrWrite, opAddGame, messageAddGame, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldList, listName.String()),
			zap.Int64(fieldGameID, game.ID.Int64()))
	}
	if outcome.Added {
		s.publish(userID, realtime.EventListsChanged, listName.String())
	}
	return outcome, nil
}

// DeleteGameFromList removes the game with gameID from the named list. A game that is not
// in the list is a silent no-op.
func (s *Service) DeleteGameFromList(ctx context.Context, userID UserID, listName ListName, gameID GameID) error {
	if err := s.ready(opDeleteGame, ErrDelete, messageDeleteGame); err != nil {
		return err
	}
	if err := validateUserAndList(userID, listName); err != nil {
		return s.fail(ErrInvalidInput, opDeleteGame, invalidInputReason(err), messageInvalidInput, err)
	}
	if gameID <= 0 {
		return s.fail(ErrInvalidInput, opDeleteGame, reasonInvalidGameID, messageInvalidInput, ErrInvalidGameID)
	}

	removed := false
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
		removed = false
		documents, err := tx.LoadLists(userID)
		if err != nil {
			return err
		}
		document, ok := findDocument(documents, listName)
		if !ok || document.indexOf(gameID) < 0 {
			return nil
		}
		document.Games = document.without(gameID)
		if err := tx.SaveList(document); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return s.failStore(ErrDelete, opDeleteGame, messageDeleteGame, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldList, listName.String()),
			zap.Int64(fieldGameID, gameID.Int64()))
	}
	if removed {
		s.publish(userID, realtime.EventListsChanged, listName.String())
	}
	return nil
}

// MoveGameToList moves a game from sourceList to targetList in one transaction, resetting
// its added date to the move instant. Either both lists change or neither does.
func (s *Service) MoveGameToList(ctx context.Context, userID UserID, sourceList, targetList ListName, gameID GameID) (TrackedGame, error) {
	if err := s.ready(opMoveGame, ErrWrite, messageMoveGame); err != nil {
		return TrackedGame{}, err
	}
	if err := validateUserAndList(userID, sourceList); err != nil {
		return TrackedGame{}, s.fail(ErrInvalidInput, opMoveGame, invalidInputReason(err), messageInvalidInput, err)
	}
	if _, err := ParseListName(targetList.String()); err != nil {
		return TrackedGame{}, s.fail(ErrInvalidInput, opMoveGame, reasonInvalidList, messageInvalidInput, err)
	}
	if sourceList == targetList {
		return TrackedGame{}, s.fail(ErrInvalidInput, opMoveGame, reasonSameList, messageInvalidInput, errSameSourceAndTarget)
	}
	if gameID <= 0 {
		return TrackedGame{}, s.fail(ErrInvalidInput, opMoveGame, reasonInvalidGameID, messageInvalidInput, ErrInvalidGameID)
	}

	var moved TrackedGame
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
		documents, err := tx.LoadLists(userID)
		if err != nil {
			return err
		}
		source, sourceOK := findDocument(documents, sourceList)
		target, targetOK := findDocument(documents, targetList)
		if !sourceOK {
			return fmt.Errorf("%w: %s", errListMissing, sourceList)
		}
		if !targetOK {
			return fmt.Errorf("%w: %s", errListMissing, targetList)
		}
		position := source.indexOf(gameID)
		if position < 0 {
			return ErrGameNotInList
		}
		if target.indexOf(gameID) >= 0 {
			return errTargetHoldsGame
		}

		moved = source.Games[position]
		moved.AddedDate = s.clock().UTC()
		source.Games = source.without(gameID)
		target.Games = append(target.Games, moved)

		if err := tx.SaveList(source); err != nil {
			return err
		}
		return tx.SaveList(target)
	})
	if err != nil {
		fields := []zap.Field{
			zap.String(fieldUserID, userID.String()),
			zap.String("source_list", sourceList.String()),
			zap.String("target_list", targetList.String()),
			zap.Int64(fieldGameID, gameID.Int64()),
		}
		if errors.Is(err, ErrGameNotInList) {
			return TrackedGame{}, s.fail(ErrGameNotInList, opMoveGame, reasonGameNotInList, messageGameNotInList, err, fields...)
		}
		return TrackedGame{}, s.failStore(ErrWrite, opMoveGame, messageMoveGame, err, fields...)
	}
	s.publish(userID, realtime.EventListsChanged, sourceList.String(), targetList.String())
	return moved, nil
}

// GetUserLists reads the current snapshot of every list of the user.
func (s *Service) GetUserLists(ctx context.Context, userID UserID) (ListsSnapshot, error) {
	if err := s.ready(opGetUserLists, ErrLookup, messageLoadLists); err != nil {
		return ListsSnapshot{}, err
	}
	if userID == "" {
		return ListsSnapshot{}, s.fail(ErrInvalidInput, opGetUserLists, reasonInvalidUserID, messageInvalidInput, ErrInvalidUserID)
	}
	var documents []ListDocument
	err := s.withRetry(ctx, func() error {
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
			loaded, err := tx.LoadLists(userID)
			if err != nil {
				return err
			}
			documents = loaded
			return nil
		})
	})
	if err != nil {
		return ListsSnapshot{}, s.failStore(ErrLookup, opGetUserLists, messageLoadLists, err,
			zap.String(fieldUserID, userID.String()))
	}
	return newListsSnapshot(userID, documents, s.clock().UTC()), nil
}

// GetGameList reports which list holds the game, if any.
func (s *Service) GetGameList(ctx context.Context, userID UserID, gameID GameID) (ListName, bool, error) {
	if err := s.ready(opGetGameList, ErrLookup, messageGameList); err != nil {
		return "", false, err
	}
	if userID == "" {
		return "", false, s.fail(ErrInvalidInput, opGetGameList, reasonInvalidUserID, messageInvalidInput, ErrInvalidUserID)
	}
	if gameID <= 0 {
		return "", false, s.fail(ErrInvalidInput, opGetGameList, reasonInvalidGameID, messageInvalidInput, ErrInvalidGameID)
	}
	var (
		owner ListName
		found bool
	)
	err := s.withRetry(ctx, func() error {
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
			var err error
			owner, found, err = tx.FindGameList(userID, gameID)
			return err
		})
	})
	if err != nil {
		return "", false, s.failStore(ErrLookup, opGetGameList, messageGameList, err,
			zap.String(fieldUserID, userID.String()),
			zap.Int64(fieldGameID, gameID.Int64()))
	}
	return owner, found, nil
}

// GameStatus combines the owning list and the favorite flag of a game.
func (s *Service) GameStatus(ctx context.Context, userID UserID, gameID GameID) (GameStatus, error) {
	if err := s.ready(opGameStatus, ErrLookup, messageGameList); err != nil {
		return GameStatus{}, err
	}
	if userID == "" {
		return GameStatus{}, s.fail(ErrInvalidInput, opGameStatus, reasonInvalidUserID, messageInvalidInput, ErrInvalidUserID)
	}
	if gameID <= 0 {
		return GameStatus{}, s.fail(ErrInvalidInput, opGameStatus, reasonInvalidGameID, messageInvalidInput, ErrInvalidGameID)
	}
	status := GameStatus{GameID: gameID}
	err := s.withRetry(ctx, func() error {
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
			owner, found, err := tx.FindGameList(userID, gameID)
			if err != nil {
				return err
			}
			favorites, _, err := tx.LoadFavorites(userID)
			if err != nil {
				return err
			}
			status = GameStatus{
				GameID:   gameID,
				List:     owner,
				Tracked:  found,
				Favorite: favorites.contains(gameID),
			}
			return nil
		})
	})
	if err != nil {
		return GameStatus{}, s.failStore(ErrLookup, opGameStatus, messageGameList, err,
			zap.String(fieldUserID, userID.String()),
			zap.Int64(fieldGameID, gameID.Int64()))
	}
	return status, nil
}

// DeleteCollectionGames empties every list of the user in one transaction. The list
// documents themselves remain.
func (s *Service) DeleteCollectionGames(ctx context.Context, userID UserID) error {
	if err := s.ready(opDeleteCollection, ErrDelete, messageClearLists); err != nil {
		return err
	}
	if userID == "" {
		return s.fail(ErrInvalidInput, opDeleteCollection, reasonInvalidUserID, messageInvalidInput, ErrInvalidUserID)
	}
	var cleared []string
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
		cleared = cleared[:0]
		documents, err := tx.LoadLists(userID)
		if err != nil {
			return err
		}
		for _, document := range documents {
			if len(document.Games) == 0 {
				continue
			}
			document.Games = []TrackedGame{}
			if err := tx.SaveList(document); err != nil {
				return err
			}
			cleared = append(cleared, document.Name.String())
		}
		return nil
	})
	if err != nil {
		return s.failStore(ErrDelete, opDeleteCollection, messageClearLists, err,
			zap.String(fieldUserID, userID.String()))
	}
	s.publish(userID, realtime.EventListsChanged, cleared...)
	return nil
}

// AddFavorite stores game in the favorites set without its added date. Games already
// in the set are left as they are.
func (s *Service) AddFavorite(ctx context.Context, userID UserID, game TrackedGame) (bool, error) {
	if err := s.ready(opAddFavorite, ErrWrite, messageAddFavorite); err != nil {
		return false, err
	}
	if userID == "" {
		return false, s.fail(ErrInvalidInput, opAddFavorite, reasonInvalidUserID, messageInvalidInput, ErrInvalidUserID)
	}
	if err := validateGame(game); err != nil {
		return false, s.fail(ErrInvalidInput, opAddFavorite, reasonInvalidGame, messageInvalidInput, err)
	}
	favorite := game.Favorite()

	added := false
	err := s.withRetry(ctx, func() error {
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
			added = false
			document, _, err := tx.LoadFavorites(userID)
			if err != nil {
				return err
			}
			if document.contains(favorite.ID) {
				return nil
			}
			document.UserID = userID
			document.Games = append(document.Games, favorite)
			if err := tx.SaveFavorites(document); err != nil {
				return err
			}
			added = true
			return nil
		})
	})
	if err != nil {
		return false, s.failStore(ErrWrite, opAddFavorite, messageAddFavorite, err,
			zap.String(fieldUserID, userID.String()),
			zap.Int64(fieldGameID, game.ID.Int64()))
	}
	if added {
		s.publish(userID, realtime.EventFavoritesChanged)
	}
	return added, nil
}

// GetAllFavorites returns the favorites set. exists is false when the user never added
// a favorite.
func (s *Service) GetAllFavorites(ctx context.Context, userID UserID) ([]FavoriteGame, bool, error) {
	if err := s.ready(opGetFavorites, ErrLookup, messageGetFavorites); err != nil {
		return nil, false, err
	}
	if userID == "" {
		return nil, false, s.fail(ErrInvalidInput, opGetFavorites, reasonInvalidUserID, messageInvalidInput, ErrInvalidUserID)
	}
	var (
		document FavoritesDocument
		exists   bool
	)
	err := s.withRetry(ctx, func() error {
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
			var err error
			document, exists, err = tx.LoadFavorites(userID)
			return err
		})
	})
	if err != nil {
		return nil, false, s.failStore(ErrLookup, opGetFavorites, messageGetFavorites, err,
			zap.String(fieldUserID, userID.String()))
	}
	if !exists {
		return nil, false, nil
	}
	games := document.Games
	if games == nil {
		games = []FavoriteGame{}
	}
	return games, true, nil
}

// RemoveFavorite drops the game from the favorites set by id.
func (s *Service) RemoveFavorite(ctx context.Context, userID UserID, gameID GameID) error {
	if err := s.ready(opRemoveFavorite, ErrDelete, messageRemoveFavorite); err != nil {
		return err
	}
	if userID == "" {
		return s.fail(ErrInvalidInput, opRemoveFavorite, reasonInvalidUserID, messageInvalidInput, ErrInvalidUserID)
	}
	if gameID <= 0 {
		return s.fail(ErrInvalidInput, opRemoveFavorite, reasonInvalidGameID, messageInvalidInput, ErrInvalidGameID)
	}
	removed := false
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
		removed = false
		document, exists, err := tx.LoadFavorites(userID)
		if err != nil {
			return err
		}
		if !exists || !document.contains(gameID) {
			return nil
		}
		remaining := make([]FavoriteGame, 0, len(document.Games))
		for _, game := range document.Games {
			if game.ID != gameID {
				remaining = append(remaining, game)
			}
		}
		document.Games = remaining
		if err := tx.SaveFavorites(document); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return s.failStore(ErrDelete, opRemoveFavorite, messageRemoveFavorite, err,
			zap.String(fieldUserID, userID.String()),
			zap.Int64(fieldGameID, gameID.Int64()))
	}
	if removed {
		s.publish(userID, realtime.EventFavoritesChanged)
	}
	return nil
}

func (s *Service) ready(operation string, kind error, message string) error {
	if s == nil || s.store == nil {
		logger := noOpLogger
		if s != nil {
			logger = s.loggerOrDefault()
		}
		logger.Error("lists service error",
			zap.String(fieldOperation, operation),
			zap.String(fieldReason, reasonMissingStore))
		return newServiceError(kind, operation, reasonMissingStore, message, errMissingStore)
	}
	return nil
}

func (s *Service) publish(userID UserID, eventType string, listNames ...string) {
	if s.dispatcher == nil {
		return
	}
	if eventType == realtime.EventListsChanged && len(listNames) == 0 {
		return
	}
	s.dispatcher.Publish(realtime.Message{
		UserID:    userID.String(),
		EventType: eventType,
		Lists:     listNames,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) fail(kind error, operation, reason, message string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(kind, operation, reason, message, err)
}

func (s *Service) failStore(kind error, operation, message string, err error, fields ...zap.Field) error {
	reason := reasonTransactionFailed
	switch {
	case errors.Is(err, errListMissing), errors.Is(err, ErrDocumentNotFound):
		reason = reasonListMissing
	case errors.Is(err, ErrVersionConflict):
		reason = "version_conflict"
	case errors.Is(err, errTargetHoldsGame):
		reason = "target_holds_game"
	}
	return s.fail(kind, operation, reason, message, err, fields...)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String(fieldOperation, operation),
		zap.String(fieldReason, reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("lists service error", attrs...)
}

func validateUserAndList(userID UserID, listName ListName) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if _, err := ParseListName(listName.String()); err != nil {
		return err
	}
	return nil
}

// invalidInputReason names the field that failed validateUserAndList.
func invalidInputReason(err error) string {
	if errors.Is(err, ErrInvalidListName) {
		return reasonInvalidList
	}
	return reasonInvalidUserID
}

func findDocument(documents []ListDocument, name ListName) (ListDocument, bool) {
	for _, document := range documents {
		if document.Name == name {
			return document, true
		}
	}
	return ListDocument{}, false
}
