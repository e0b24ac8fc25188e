package lists

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	maxGameNameLength   = 512
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("lists: invalid user id")
	// ErrInvalidListName indicates that a list name is not one of the canonical lists.
	ErrInvalidListName = errors.New("lists: invalid list name")
	// ErrInvalidGameID indicates that a catalog game identifier is not positive.
	ErrInvalidGameID = errors.New("lists: invalid game id")
	// ErrInvalidGame indicates that a game record failed validation.
	ErrInvalidGame = errors.New("lists: invalid game")
)

// ListName identifies one of the canonical status lists.
type ListName string

const (
	// ListBacklog holds games the user intends to play.
	ListBacklog ListName = "backlog"
	// ListPlaylist holds games the user is currently playing.
	ListPlaylist ListName = "playlist"
	// ListWishlist holds games the user wants to acquire.
	ListWishlist ListName = "wishlist"
	// ListCompleted holds finished games.
	ListCompleted ListName = "completed"
	// ListDropped holds abandoned or ignored games.
	ListDropped ListName = "dropped"
)

var canonicalListNames = []ListName{ListBacklog, ListPlaylist, ListWishlist, ListCompleted, ListDropped}

var listLabels = map[ListName]string{
	ListBacklog:   "Backlog",
	ListPlaylist:  "Playing",
	ListWishlist:  "Wishlist",
	ListCompleted: "Completed",
	ListDropped:   "Dropped",
}

// DefaultListNames returns the five lists every account owns, in display order.
func DefaultListNames() []ListName {
	return append([]ListName(nil), canonicalListNames...)
}

// ParseListName validates raw input and returns a ListName.
func ParseListName(rawInput string) (ListName, error) {
	candidate := ListName(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := listLabels[candidate]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidListName, rawInput)
	}
	return candidate, nil
}

// String returns the storage name of the list.
func (name ListName) String() string {
	return string(name)
}

// Label returns the human readable list title.
func (name ListName) Label() string {
	return listLabels[name]
}

func (name ListName) position() int {
	for index, candidate := range canonicalListNames {
		if candidate == name {
			return index
		}
	}
	return len(canonicalListNames)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// GameID is the catalog identifier of a game.
type GameID int64

// NewGameID validates the value and returns a GameID.
func NewGameID(value int64) (GameID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidGameID, value)
	}
	return GameID(value), nil
}

// Int64 exposes the raw catalog identifier.
func (id GameID) Int64() int64 {
	return int64(id)
}

// TrackedGame is the record embedded in a list document.
type TrackedGame struct {
	ID              GameID    `json:"id"`
	Name            string    `json:"name"`
	BackgroundImage string    `json:"background_image"`
	Released        string    `json:"released"`
	AddedDate       time.Time `json:"addedDate"`
}

// Favorite returns the favorites representation of the game, which never carries an added date.
func (game TrackedGame) Favorite() FavoriteGame {
	return FavoriteGame{
		ID:              game.ID,
		Name:            game.Name,
		BackgroundImage: game.BackgroundImage,
		Released:        game.Released,
	}
}

// FavoriteGame is the record embedded in the favorites document.
type FavoriteGame struct {
	ID              GameID `json:"id"`
	Name            string `json:"name"`
	BackgroundImage string `json:"background_image"`
	Released        string `json:"released"`
}

func validateGame(game TrackedGame) error {
	if game.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidGame)
	}
	if len(game.Name) > maxGameNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidGame, maxGameNameLength)
	}
	return nil
}

// ListDocument is the stored state of one status list.
type ListDocument struct {
	UserID  UserID
	Name    ListName
	Games   []TrackedGame
	Version int64
}

func (document ListDocument) indexOf(gameID GameID) int {
	for index, game := range document.Games {
		if game.ID == gameID {
			return index
		}
	}
	return -1
}

func (document ListDocument) without(gameID GameID) []TrackedGame {
	remaining := make([]TrackedGame, 0, len(document.Games))
	for _, game := range document.Games {
		if game.ID != gameID {
			remaining = append(remaining, game)
		}
	}
	return remaining
}

// FavoritesDocument is the stored favorites set of a user.
type FavoritesDocument struct {
	UserID  UserID
	Games   []FavoriteGame
	Version int64
}

func (document FavoritesDocument) contains(gameID GameID) bool {
	for _, game := range document.Games {
		if game.ID == gameID {
			return true
		}
	}
	return false
}

// ListView is a materialized list as delivered to readers.
type ListView struct {
	ID        ListName      `json:"id"`
	Label     string        `json:"label"`
	Games     []TrackedGame `json:"games"`
	GameCount int           `json:"gameCount"`
}

// ListsSnapshot is the full set of a user's lists at a point in time.
type ListsSnapshot struct {
	UserID  UserID     `json:"userId"`
	Lists   []ListView `json:"lists"`
	TakenAt time.Time  `json:"takenAt"`
}

// List returns the view of the named list.
func (snapshot ListsSnapshot) List(name ListName) (ListView, bool) {
	for _, view := range snapshot.Lists {
		if view.ID == name {
			return view, true
		}
	}
	return ListView{}, false
}

// TotalGames returns the number of games across all lists.
func (snapshot ListsSnapshot) TotalGames() int {
	total := 0
	for _, view := range snapshot.Lists {
		total += view.GameCount
	}
	return total
}

func newListsSnapshot(userID UserID, documents []ListDocument, takenAt time.Time) ListsSnapshot {
	ordered := append([]ListDocument(nil), documents...)
	sortDocuments(ordered)

	views := make([]ListView, 0, len(ordered))
	for _, document := range ordered {
		games := append([]TrackedGame{}, document.Games...)
		sort.SliceStable(games, func(left, right int) bool {
			return games[left].AddedDate.After(games[right].AddedDate)
		})
		views = append(views, ListView{
			ID:        document.Name,
			Label:     document.Name.Label(),
			Games:     games,
			GameCount: len(games),
		})
	}
	return ListsSnapshot{UserID: userID, Lists: views, TakenAt: takenAt}
}

func sortDocuments(documents []ListDocument) {
	sort.SliceStable(documents, func(left, right int) bool {
		return documents[left].Name.position() < documents[right].Name.position()
	})
}

// GameStatus answers where a game is tracked and whether it is a favorite.
type GameStatus struct {
	GameID   GameID   `json:"gameId"`
	List     ListName `json:"list,omitempty"`
	Tracked  bool     `json:"tracked"`
	Favorite bool     `json:"favorite"`
}

// AddOutcome reports the effect of AddGameToList.
type AddOutcome struct {
	Added bool
	// List is the list holding the game after the call.
	List ListName
}
