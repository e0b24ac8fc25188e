// Package firestore stores list and favorites documents in Cloud Firestore under
// users/{uid}/lists/{list} and users/{uid}/favorites/games.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionUsers     = "users"
	collectionLists     = "lists"
	collectionFavorites = "favorites"
	documentFavorites   = "games"

	fieldGames          = "games"
	fieldFavoriteGames  = "favoriteGames"
	fieldVersion        = "version"
	fieldUpdatedAt      = "updatedAt"
	watchSignalCapacity = 1
)

var errMissingClient = errors.New("firestore store requires a client")

type gameData struct {
	ID              int64     `firestore:"id"`
	Name            string    `firestore:"name"`
	BackgroundImage string    `firestore:"background_image"`
	Released        string    `firestore:"released"`
	AddedDate       time.Time `firestore:"addedDate,omitempty"`
}

type listData struct {
	Games     []gameData `firestore:"games"`
	Version   int64      `firestore:"version"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
}

type favoritesData struct {
	FavoriteGames []gameData `firestore:"favoriteGames"`
	Version       int64      `firestore:"version"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

// Store implements lists.Store and lists.ChangeWatcher over a Firestore client.
type Store struct {
	client *firestore.Client
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore wraps client. A nil clock defaults to time.Now and a nil logger to a no-op logger.
func NewStore(client *firestore.Client, clock func() time.Time, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, clock: clock, logger: logger}, nil
}

// RunInTransaction runs fn inside a Firestore transaction. Firestore retries the callback on
// contention, so fn must not keep state across invocations.
func (store *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx lists.Transaction) error) error {
	if store == nil || store.client == nil {
		return errMissingClient
	}
	return store.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &transaction{
			store:        store,
			tx:           tx,
			listVersions: make(map[lists.ListName]int64),
		})
	})
}

// WatchLists emits a signal after every snapshot of the user's list documents, including
// the first one Firestore reports once the listener is registered.
func (store *Store) WatchLists(ctx context.Context, userID lists.UserID) (<-chan struct{}, error) {
	if store == nil || store.client == nil {
		return nil, errMissingClient
	}
	signals := make(chan struct{}, watchSignalCapacity)
	go store.forwardSnapshots(ctx, userID, store.listsCollection(userID).Snapshots(ctx), signals)
	return signals, nil
}

// snapshotSource is the part of *firestore.QuerySnapshotIterator the watch loop uses.
type snapshotSource interface {
	Next() (*firestore.QuerySnapshot, error)
	Stop()
}

// forwardSnapshots turns every snapshot into a pending signal until the source fails. A
// signal is dropped when one is already pending.
func (store *Store) forwardSnapshots(ctx context.Context, userID lists.UserID, source snapshotSource, signals chan<- struct{}) {
	defer close(signals)
	defer source.Stop()
	for {
		if _, err := source.Next(); err != nil {
			if ctx.Err() == nil && status.Code(err) != codes.Canceled {
				store.logger.Warn("firestore list watch ended",
					zap.String("user_id", userID.String()),
					zap.Error(err))
			}
			return
		}
		select {
		case signals <- struct{}{}:
		default:
		}
	}
}

func (store *Store) userDocument(userID lists.UserID) *firestore.DocumentRef {
	return store.client.Collection(collectionUsers).Doc(userID.String())
}

func (store *Store) listsCollection(userID lists.UserID) *firestore.CollectionRef {
	return store.userDocument(userID).Collection(collectionLists)
}

func (store *Store) favoritesDocument(userID lists.UserID) *firestore.DocumentRef {
	return store.userDocument(userID).Collection(collectionFavorites).Doc(documentFavorites)
}

// transaction adapts a Firestore transaction. Firestore rejects reads after the first
// write, so list documents are read once and cached.
type transaction struct {
	store        *Store
	tx           *firestore.Transaction
	loaded       []lists.ListDocument
	listsLoaded  bool
	listVersions map[lists.ListName]int64
	wrote        bool
}

func (t *transaction) LoadLists(userID lists.UserID) ([]lists.ListDocument, error) {
	if t.listsLoaded {
		return cloneDocuments(t.loaded), nil
	}
	if t.wrote {
		return nil, fmt.Errorf("firestore: read after write in transaction")
	}
	documentIterator := t.tx.Documents(t.store.listsCollection(userID))
	defer documentIterator.Stop()
	documents := make([]lists.ListDocument, 0, len(lists.DefaultListNames()))
	for {
		snapshot, err := documentIterator.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		name, err := lists.ParseListName(snapshot.Ref.ID)
		if err != nil {
			continue
		}
		var data listData
		if err := snapshot.DataTo(&data); err != nil {
			return nil, fmt.Errorf("decode list %s: %w", snapshot.Ref.ID, err)
		}
		version := data.Version
		if version <= 0 {
			version = 1
		}
		t.listVersions[name] = version
		documents = append(documents, lists.ListDocument{
			UserID:  userID,
			Name:    name,
			Games:   toTrackedGames(data.Games),
			Version: version,
		})
	}
	t.loaded = documents
	t.listsLoaded = true
	return cloneDocuments(documents), nil
}

func (t *transaction) FindGameList(userID lists.UserID, gameID lists.GameID) (lists.ListName, bool, error) {
	documents, err := t.LoadLists(userID)
	if err != nil {
		return "", false, err
	}
	for _, document := range documents {
		for _, game := range document.Games {
			if game.ID == gameID {
				return document.Name, true, nil
			}
		}
	}
	return "", false, nil
}

func (t *transaction) CreateList(document lists.ListDocument) error {
	t.wrote = true
	ref := t.store.listsCollection(document.UserID).Doc(document.Name.String())
	return t.tx.Create(ref, listData{
		Games:     fromTrackedGames(document.Games),
		Version:   1,
		UpdatedAt: t.store.clock().UTC(),
	})
}

func (t *transaction) SaveList(document lists.ListDocument) error {
	seen, ok := t.listVersions[document.Name]
	if !ok {
		return fmt.Errorf("%w: %s", lists.ErrDocumentNotFound, document.Name)
	}
	if seen != document.Version {
		return fmt.Errorf("%w: %s", lists.ErrVersionConflict, document.Name)
	}
	t.wrote = true
	ref := t.store.listsCollection(document.UserID).Doc(document.Name.String())
	return t.tx.Update(ref, []firestore.Update{
		{Path: fieldGames, Value: fromTrackedGames(document.Games)},
		{Path: fieldVersion, Value: document.Version + 1},
		{Path: fieldUpdatedAt, Value: t.store.clock().UTC()},
	})
}

func (t *transaction) LoadFavorites(userID lists.UserID) (lists.FavoritesDocument, bool, error) {
	if t.wrote {
		return lists.FavoritesDocument{}, false, fmt.Errorf("firestore: read after write in transaction")
	}
	snapshot, err := t.tx.Get(t.store.favoritesDocument(userID))
	if status.Code(err) == codes.NotFound {
		return lists.FavoritesDocument{UserID: userID}, false, nil
	}
	if err != nil {
		return lists.FavoritesDocument{}, false, err
	}
	var data favoritesData
	if err := snapshot.DataTo(&data); err != nil {
		return lists.FavoritesDocument{}, false, fmt.Errorf("decode favorites: %w", err)
	}
	version := data.Version
	if version <= 0 {
		version = 1
	}
	return lists.FavoritesDocument{
		UserID:  userID,
		Games:   toFavoriteGames(data.FavoriteGames),
		Version: version,
	}, true, nil
}

func (t *transaction) SaveFavorites(document lists.FavoritesDocument) error {
	t.wrote = true
	ref := t.store.favoritesDocument(document.UserID)
	payload := fromFavoriteGames(document.Games)
	now := t.store.clock().UTC()
	if document.Version == 0 {
		return t.tx.Create(ref, favoritesData{FavoriteGames: payload, Version: 1, UpdatedAt: now})
	}
	return t.tx.Update(ref, []firestore.Update{
		{Path: fieldFavoriteGames, Value: payload},
		{Path: fieldVersion, Value: document.Version + 1},
		{Path: fieldUpdatedAt, Value: now},
	})
}

func cloneDocuments(documents []lists.ListDocument) []lists.ListDocument {
	cloned := make([]lists.ListDocument, len(documents))
	for index, document := range documents {
		document.Games = append([]lists.TrackedGame{}, document.Games...)
		cloned[index] = document
	}
	return cloned
}

func toTrackedGames(games []gameData) []lists.TrackedGame {
	tracked := make([]lists.TrackedGame, 0, len(games))
	for _, game := range games {
		tracked = append(tracked, lists.TrackedGame{
			ID:              lists.GameID(game.ID),
			Name:            game.Name,
			BackgroundImage: game.BackgroundImage,
			Released:        game.Released,
			AddedDate:       game.AddedDate.UTC(),
		})
	}
	return tracked
}

func fromTrackedGames(games []lists.TrackedGame) []gameData {
	stored := make([]gameData, 0, len(games))
	for _, game := range games {
		stored = append(stored, gameData{
			ID:              game.ID.Int64(),
			Name:            game.Name,
			BackgroundImage: game.BackgroundImage,
			Released:        game.Released,
			AddedDate:       game.AddedDate,
		})
	}
	return stored
}

func toFavoriteGames(games []gameData) []lists.FavoriteGame {
	favorites := make([]lists.FavoriteGame, 0, len(games))
	for _, game := range games {
		favorites = append(favorites, lists.FavoriteGame{
			ID:              lists.GameID(game.ID),
			Name:            game.Name,
			BackgroundImage: game.BackgroundImage,
			Released:        game.Released,
		})
	}
	return favorites
}

func fromFavoriteGames(games []lists.FavoriteGame) []gameData {
	stored := make([]gameData, 0, len(games))
	for _, game := range games {
		stored = append(stored, gameData{
			ID:              game.ID.Int64(),
			Name:            game.Name,
			BackgroundImage: game.BackgroundImage,
			Released:        game.Released,
		})
	}
	return stored
}
