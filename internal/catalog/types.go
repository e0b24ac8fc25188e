package catalog

// NamedRef is a catalog entity reference such as a genre, developer, or platform.
type NamedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Tag is a user-facing catalog tag.
type Tag struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Language string `json:"language,omitempty"`
}

// PlatformEntry wraps the platform a game was released on.
type PlatformEntry struct {
	Platform NamedRef `json:"platform"`
}

// Game is the list representation of a catalog game.
type Game struct {
	ID              int64           `json:"id"`
	Slug            string          `json:"slug"`
	Name            string          `json:"name"`
	Released        string          `json:"released"`
	BackgroundImage string          `json:"background_image"`
	Rating          float64         `json:"rating"`
	Metacritic      int             `json:"metacritic"`
	Tags            []Tag           `json:"tags"`
	Genres          []NamedRef      `json:"genres"`
	Platforms       []PlatformEntry `json:"platforms"`
}

// GameDetail is the full catalog record of one game.
type GameDetail struct {
	Game
	Description string     `json:"description_raw"`
	Website     string     `json:"website"`
	Playtime    int        `json:"playtime"`
	Developers  []NamedRef `json:"developers"`
	Publishers  []NamedRef `json:"publishers"`
	ESRBRating  *NamedRef  `json:"esrb_rating"`
}

// Screenshot is a game screenshot.
type Screenshot struct {
	ID     int64  `json:"id"`
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// GameStore is a storefront offering a game.
type GameStore struct {
	ID      int64  `json:"id"`
	GameID  int64  `json:"game_id"`
	StoreID int64  `json:"store_id"`
	URL     string `json:"url"`
}

// Bundle is the detail view of a game with its media and storefronts.
type Bundle struct {
	Details     GameDetail   `json:"details"`
	Screenshots []Screenshot `json:"screenshots"`
	Stores      []GameStore  `json:"stores"`
}

type page[T any] struct {
	Count   int    `json:"count"`
	Next    string `json:"next"`
	Results []T    `json:"results"`
}
