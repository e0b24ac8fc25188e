package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	browsePageSize = 40
	listPageSize   = 20
	dateLayout     = "2006-01-02"

	orderingRating     = "-rating"
	orderingAdded      = "-added"
	orderingReleased   = "-released"
	orderingMetacritic = "-metacritic"
)

// ListGames returns the default catalog listing.
func (c *Client) ListGames(ctx context.Context) ([]Game, error) {
	games, err := c.games(ctx, "list_games", url.Values{})
	if err != nil {
		return nil, err
	}
	return c.policy.Filter(games), nil
}

// SearchGames returns games matching query, filtered by tags and name words.
func (c *Client) SearchGames(ctx context.Context, query string) ([]Game, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, wrapError("search_games", 0, ErrBadRequest)
	}
	games, err := c.games(ctx, "search_games", url.Values{"search": {query}})
	if err != nil {
		return nil, err
	}
	return c.policy.FilterSearch(games), nil
}

// GameDetails returns the full record of one game.
func (c *Client) GameDetails(ctx context.Context, gameID int64) (GameDetail, error) {
	const op = "game_details"
	if gameID <= 0 {
		return GameDetail{}, wrapError(op, gameID, ErrInvalidID)
	}
	var detail GameDetail
	if err := c.getJSON(ctx, op, gameID, gamePath(gameID, ""), nil, &detail); err != nil {
		return GameDetail{}, err
	}
	return detail, nil
}

// Screenshots returns the screenshots of one game.
func (c *Client) Screenshots(ctx context.Context, gameID int64) ([]Screenshot, error) {
	return gameResource[Screenshot](ctx, c, "screenshots", gameID, "/screenshots")
}

// Stores returns the storefronts offering one game.
func (c *Client) Stores(ctx context.Context, gameID int64) ([]GameStore, error) {
	return gameResource[GameStore](ctx, c, "stores", gameID, "/stores")
}

// Additions returns DLCs and editions of one game.
func (c *Client) Additions(ctx context.Context, gameID int64) ([]Game, error) {
	return gameResource[Game](ctx, c, "additions", gameID, "/additions")
}

// ParentGames returns the games an addition belongs to.
func (c *Client) ParentGames(ctx context.Context, gameID int64) ([]Game, error) {
	return gameResource[Game](ctx, c, "parent_games", gameID, "/parent-games")
}

// SeriesGames returns the other games of the same series.
func (c *Client) SeriesGames(ctx context.Context, gameID int64) ([]Game, error) {
	return gameResource[Game](ctx, c, "series_games", gameID, "/game-series")
}

// GamesByDeveloper returns games made by the developer slug or id.
func (c *Client) GamesByDeveloper(ctx context.Context, developer string) ([]Game, error) {
	return c.browse(ctx, "games_by_developer", "developers", developer, "", false)
}

// GamesByPublisher returns games released by the publisher slug or id.
func (c *Client) GamesByPublisher(ctx context.Context, publisher string) ([]Game, error) {
	return c.browse(ctx, "games_by_publisher", "publishers", publisher, "", false)
}

// GamesByGenre returns the best rated games of a genre.
func (c *Client) GamesByGenre(ctx context.Context, genre string) ([]Game, error) {
	return c.browse(ctx, "games_by_genre", "genres", genre, orderingRating, true)
}

// GamesByTag returns the best rated games carrying a tag.
func (c *Client) GamesByTag(ctx context.Context, tag string) ([]Game, error) {
	return c.browse(ctx, "games_by_tag", "tags", tag, orderingRating, true)
}

// GamesByPlatform returns the best rated games of a platform id.
func (c *Client) GamesByPlatform(ctx context.Context, platform string) ([]Game, error) {
	return c.browse(ctx, "games_by_platform", "platforms", platform, orderingRating, true)
}

// GenreHighlights returns the top metacritic games of a genre.
func (c *Client) GenreHighlights(ctx context.Context, genre string) ([]Game, error) {
	genre = strings.TrimSpace(genre)
	if genre == "" {
		return nil, wrapError("genre_highlights", 0, ErrBadRequest)
	}
	return c.filteredList(ctx, "genre_highlights", url.Values{
		"genres":   {genre},
		"ordering": {orderingMetacritic},
	})
}

// Discover returns a page of games in the given ordering.
func (c *Client) Discover(ctx context.Context, ordering string) ([]Game, error) {
	query := url.Values{}
	if ordering = strings.TrimSpace(ordering); ordering != "" {
		query.Set("ordering", ordering)
	}
	return c.filteredList(ctx, "discover", query)
}

// UpcomingGames returns games releasing within the next year.
func (c *Client) UpcomingGames(ctx context.Context) ([]Game, error) {
	now := c.clock()
	return c.filteredList(ctx, "upcoming_games", url.Values{
		"dates":    {dateRange(now, now.AddDate(1, 0, 0))},
		"ordering": {orderingAdded},
	})
}

// NewGames returns games released within the last year, newest first.
func (c *Client) NewGames(ctx context.Context) ([]Game, error) {
	now := c.clock()
	return c.filteredList(ctx, "new_games", url.Values{
		"dates":    {dateRange(now.AddDate(-1, 0, 0), now)},
		"ordering": {orderingReleased},
	})
}

// PopularGames returns the best rated games of the last year.
func (c *Client) PopularGames(ctx context.Context) ([]Game, error) {
	now := c.clock()
	return c.filteredList(ctx, "popular_games", url.Values{
		"dates":    {dateRange(now.AddDate(-1, 0, 0), now)},
		"ordering": {orderingRating},
	})
}

// GameBundle fetches details, screenshots and stores of one game concurrently.
func (c *Client) GameBundle(ctx context.Context, gameID int64) (Bundle, error) {
	if gameID <= 0 {
		return Bundle{}, wrapError("game_bundle", gameID, ErrInvalidID)
	}
	var bundle Bundle
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		detail, err := c.GameDetails(groupCtx, gameID)
		bundle.Details = detail
		return err
	})
	group.Go(func() error {
		screenshots, err := c.Screenshots(groupCtx, gameID)
		bundle.Screenshots = screenshots
		return err
	})
	group.Go(func() error {
		stores, err := c.Stores(groupCtx, gameID)
		bundle.Stores = stores
		return err
	})
	if err := group.Wait(); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

func (c *Client) browse(ctx context.Context, op, field, value, ordering string, filtered bool) ([]Game, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, wrapError(op, 0, ErrBadRequest)
	}
	query := url.Values{
		field:       {value},
		"page_size": {strconv.Itoa(browsePageSize)},
	}
	if ordering != "" {
		query.Set("ordering", ordering)
	}
	games, err := c.games(ctx, op, query)
	if err != nil {
		return nil, err
	}
	if !filtered {
		return games, nil
	}
	return c.policy.Filter(games), nil
}

func (c *Client) filteredList(ctx context.Context, op string, query url.Values) ([]Game, error) {
	query.Set("page_size", strconv.Itoa(listPageSize))
	games, err := c.games(ctx, op, query)
	if err != nil {
		return nil, err
	}
	return c.policy.Filter(games), nil
}

func (c *Client) games(ctx context.Context, op string, query url.Values) ([]Game, error) {
	var result page[Game]
	if err := c.getJSON(ctx, op, 0, "/games", query, &result); err != nil {
		return nil, err
	}
	if result.Results == nil {
		return []Game{}, nil
	}
	return result.Results, nil
}

func gameResource[T any](ctx context.Context, c *Client, op string, gameID int64, suffix string) ([]T, error) {
	if gameID <= 0 {
		return nil, wrapError(op, gameID, ErrInvalidID)
	}
	var result page[T]
	if err := c.getJSON(ctx, op, gameID, gamePath(gameID, suffix), nil, &result); err != nil {
		return nil, err
	}
	if result.Results == nil {
		return []T{}, nil
	}
	return result.Results, nil
}

func gamePath(gameID int64, suffix string) string {
	return fmt.Sprintf("/games/%d%s", gameID, suffix)
}

func dateRange(from, to time.Time) string {
	return from.Format(dateLayout) + "," + to.Format(dateLayout)
}
