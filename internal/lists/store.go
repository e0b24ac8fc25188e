package lists

import (
	"context"
	"errors"
)

var (
	// ErrVersionConflict indicates a document changed between read and write.
	ErrVersionConflict = errors.New("lists: document version conflict")
	// ErrDocumentNotFound indicates a write targeted a document that does not exist.
	ErrDocumentNotFound = errors.New("lists: document not found")
)

// Store is the document store backing the list sync layer. Every mutation runs inside
// RunInTransaction; the callback either commits all writes or none.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction exposes the document operations available inside a store transaction.
// Implementations may require all reads to happen before the first write.
type Transaction interface {
	// LoadLists returns every existing list document of the user.
	LoadLists(userID UserID) ([]ListDocument, error)
	// FindGameList reports which list, if any, currently holds the game.
	FindGameList(userID UserID, gameID GameID) (ListName, bool, error)
	// CreateList stores a new list document with version 1.
	CreateList(document ListDocument) error
	// SaveList replaces the games of a list. document.Version must equal the stored
	// version; the stored version is then incremented.
	SaveList(document ListDocument) error
	// LoadFavorites returns the favorites document and whether it exists.
	LoadFavorites(userID UserID) (FavoritesDocument, bool, error)
	// SaveFavorites writes the favorites document, creating it when document.Version is zero.
	SaveFavorites(document FavoritesDocument) error
}

// ChangeWatcher is implemented by stores that push change notifications for a user's
// lists. The returned channel receives a value after each committed change and is closed
// when ctx ends.
type ChangeWatcher interface {
	WatchLists(ctx context.Context, userID UserID) (<-chan struct{}, error)
}
