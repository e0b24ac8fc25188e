package lists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	queryUserID     = "user_id = ?"
	queryUserList   = "user_id = ? AND list_name = ?"
	queryUserGame   = "user_id = ? AND game_id = ?"
	queryListUpdate = "user_id = ? AND list_name = ? AND version = ?"
	queryFavUpdate  = "user_id = ? AND version = ?"
)

var errMissingSQLDatabase = errors.New("lists: sql store requires a database handle")

// SQLStore keeps list documents in a relational database through GORM.
type SQLStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLStore constructs a store over the provided database handle.
func NewSQLStore(db *gorm.DB, clock func() time.Time) *SQLStore {
	if clock == nil {
		clock = time.Now
	}
	return &SQLStore{db: db, clock: clock}
}

// RunInTransaction executes fn inside a database transaction.
func (store *SQLStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error {
	if store == nil || store.db == nil {
		return errMissingSQLDatabase
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &sqlTransaction{tx: transaction, now: store.clock})
	})
}

type sqlTransaction struct {
	tx  *gorm.DB
	now func() time.Time
}

func (transaction *sqlTransaction) LoadLists(userID UserID) ([]ListDocument, error) {
	var records []ListRecord
	if err := transaction.tx.Where(queryUserID, userID.String()).Find(&records).Error; err != nil {
		return nil, err
	}
	documents := make([]ListDocument, 0, len(records))
	for _, record := range records {
		name, err := ParseListName(record.ListName)
		if err != nil {
			continue
		}
		games, err := decodeTrackedGames(record.GamesJSON)
		if err != nil {
			return nil, fmt.Errorf("decode list %s: %w", record.ListName, err)
		}
		documents = append(documents, ListDocument{
			UserID:  userID,
			Name:    name,
			Games:   games,
			Version: record.Version,
		})
	}
	sortDocuments(documents)
	return documents, nil
}

func (transaction *sqlTransaction) FindGameList(userID UserID, gameID GameID) (ListName, bool, error) {
	var entry ListGameIndexEntry
	err := transaction.tx.Where(queryUserGame, userID.String(), gameID.Int64()).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	name, err := ParseListName(entry.ListName)
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (transaction *sqlTransaction) CreateList(document ListDocument) error {
	payload, err := encodeJSONArray(document.Games)
	if err != nil {
		return err
	}
	record := ListRecord{
		UserID:           document.UserID.String(),
		ListName:         document.Name.String(),
		GamesJSON:        payload,
		Version:          1,
		UpdatedAtSeconds: transaction.now().UTC().Unix(),
	}
	if err := transaction.tx.Create(&record).Error; err != nil {
		return err
	}
	return transaction.replaceIndex(document)
}

func (transaction *sqlTransaction) SaveList(document ListDocument) error {
	payload, err := encodeJSONArray(document.Games)
	if err != nil {
		return err
	}
	result := transaction.tx.Model(&ListRecord{}).
		Where(queryListUpdate, document.UserID.String(), document.Name.String(), document.Version).
		Updates(map[string]any{
			"games_json":   payload,
			"version":      document.Version + 1,
			"updated_at_s": transaction.now().UTC().Unix(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := transaction.tx.Model(&ListRecord{}).
			Where(queryUserList, document.UserID.String(), document.Name.String()).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, document.Name)
		}
		return fmt.Errorf("%w: %s", ErrVersionConflict, document.Name)
	}
	return transaction.replaceIndex(document)
}

func (transaction *sqlTransaction) replaceIndex(document ListDocument) error {
	if err := transaction.tx.
		Where(queryUserList, document.UserID.String(), document.Name.String()).
		Delete(&ListGameIndexEntry{}).Error; err != nil {
		return err
	}
	if len(document.Games) == 0 {
		return nil
	}
	entries := make([]ListGameIndexEntry, 0, len(document.Games))
	for _, game := range document.Games {
		entries = append(entries, ListGameIndexEntry{
			UserID:   document.UserID.String(),
			GameID:   game.ID.Int64(),
			ListName: document.Name.String(),
		})
	}
	return transaction.tx.Create(&entries).Error
}

func (transaction *sqlTransaction) LoadFavorites(userID UserID) (FavoritesDocument, bool, error) {
	var record FavoritesRecord
	err := transaction.tx.Where(queryUserID, userID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FavoritesDocument{UserID: userID}, false, nil
	}
	if err != nil {
		return FavoritesDocument{}, false, err
	}
	var games []FavoriteGame
	if err := json.Unmarshal([]byte(record.GamesJSON), &games); err != nil {
		return FavoritesDocument{}, false, fmt.Errorf("decode favorites: %w", err)
	}
	return FavoritesDocument{UserID: userID, Games: games, Version: record.Version}, true, nil
}

func (transaction *sqlTransaction) SaveFavorites(document FavoritesDocument) error {
	payload, err := encodeJSONArray(document.Games)
	if err != nil {
		return err
	}
	nowSeconds := transaction.now().UTC().Unix()
	if document.Version == 0 {
		return transaction.tx.Create(&FavoritesRecord{
			UserID:           document.UserID.String(),
			GamesJSON:        payload,
			Version:          1,
			UpdatedAtSeconds: nowSeconds,
		}).Error
	}
	result := transaction.tx.Model(&FavoritesRecord{}).
		Where(queryFavUpdate, document.UserID.String(), document.Version).
		Updates(map[string]any{
			"games_json":   payload,
			"version":      document.Version + 1,
			"updated_at_s": nowSeconds,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: favorites", ErrVersionConflict)
	}
	return nil
}

func decodeTrackedGames(payload string) ([]TrackedGame, error) {
	if payload == "" {
		return []TrackedGame{}, nil
	}
	var games []TrackedGame
	if err := json.Unmarshal([]byte(payload), &games); err != nil {
		return nil, err
	}
	if games == nil {
		games = []TrackedGame{}
	}
	return games, nil
}

func encodeJSONArray[T any](values []T) (string, error) {
	if values == nil {
		values = []T{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
