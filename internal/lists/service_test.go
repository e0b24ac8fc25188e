package lists

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/realtime"
)

func TestCreateDefaultListsCreatesFiveEmptyLists(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")

	mustCreateDefaultLists(t, harness.service, userID)
	mustCreateDefaultLists(t, harness.service, userID)

	snapshot, err := harness.service.GetUserLists(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot.Lists) != 5 {
		t.Fatalf("expected 5 lists, got %d", len(snapshot.Lists))
	}
	for index, name := range DefaultListNames() {
		view := snapshot.Lists[index]
		if view.ID != name {
			t.Fatalf("expected list %s at position %d, got %s", name, index, view.ID)
		}
		if view.GameCount != 0 || len(view.Games) != 0 {
			t.Fatalf("expected list %s to be empty", name)
		}
		if view.Label == "" {
			t.Fatalf("expected label for list %s", name)
		}
	}

	var count int64
	if err := harness.db.Model(&ListRecord{}).Where("user_id = ?", userID.String()).Count(&count).Error; err != nil {
		t.Fatalf("failed to count lists: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 stored lists after repeated creation, got %d", count)
	}
}

func TestAddGameToListStampsAddedDate(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)

	outcome, err := harness.service.AddGameToList(context.Background(), userID, ListBacklog, sampleGame(3498, "gta-v"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Added || outcome.List != ListBacklog {
		t.Fatalf("unexpected outcome: %#v", outcome)
	}

	snapshot, err := harness.service.GetUserLists(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	backlog, _ := snapshot.List(ListBacklog)
	if backlog.GameCount != 1 {
		t.Fatalf("expected one game in backlog, got %d", backlog.GameCount)
	}
	if backlog.Games[0].AddedDate.IsZero() {
		t.Fatalf("expected added date to be stamped")
	}
	if backlog.Games[0].Name != "gta-v" {
		t.Fatalf("unexpected stored game: %#v", backlog.Games[0])
	}
}

func TestAddGameToListKeepsGameInSingleList(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()

	if _, err := harness.service.AddGameToList(ctx, userID, ListBacklog, sampleGame(3498, "gta-v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome, err := harness.service.AddGameToList(ctx, userID, ListWishlist, sampleGame(3498, "gta-v"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Added {
		t.Fatalf("expected second add to be a no-op")
	}
	if outcome.List != ListBacklog {
		t.Fatalf("expected owning list backlog, got %s", outcome.List)
	}

	snapshot, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.TotalGames() != 1 {
		t.Fatalf("expected game tracked once, got %d entries", snapshot.TotalGames())
	}
	if ids := listGameIDs(t, snapshot, ListWishlist); len(ids) != 0 {
		t.Fatalf("expected wishlist to stay empty, got %v", ids)
	}
}

func TestAddGameToListTwiceToSameListIsIdempotent(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()
	game := sampleGame(3498, "gta-v")

	first, err := harness.service.AddGameToList(ctx, userID, ListPlaylist, game)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Added || first.List != ListPlaylist {
		t.Fatalf("unexpected first outcome: %#v", first)
	}
	before, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var versionBefore ListRecord
	if err := harness.db.Where("user_id = ? AND list_name = ?", userID.String(), ListPlaylist.String()).Take(&versionBefore).Error; err != nil {
		t.Fatalf("failed to load list record: %v", err)
	}

	second, err := harness.service.AddGameToList(ctx, userID, ListPlaylist, game)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Added || second.List != ListPlaylist {
		t.Fatalf("expected repeated add to report the same list without adding, got %#v", second)
	}

	after, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range DefaultListNames() {
		beforeList, _ := before.List(name)
		afterList, _ := after.List(name)
		if beforeList.GameCount != afterList.GameCount || len(beforeList.Games) != len(afterList.Games) {
			t.Fatalf("list %s changed: before %d games, after %d", name, beforeList.GameCount, afterList.GameCount)
		}
		for index := range beforeList.Games {
			if beforeList.Games[index] != afterList.Games[index] {
				t.Fatalf("list %s game %d changed: %#v -> %#v", name, index, beforeList.Games[index], afterList.Games[index])
			}
		}
	}
	var versionAfter ListRecord
	if err := harness.db.Where("user_id = ? AND list_name = ?", userID.String(), ListPlaylist.String()).Take(&versionAfter).Error; err != nil {
		t.Fatalf("failed to load list record: %v", err)
	}
	if versionAfter.Version != versionBefore.Version {
		t.Fatalf("expected no write, version %d -> %d", versionBefore.Version, versionAfter.Version)
	}
}

func TestAddGameToListWithoutListsFails(t *testing.T) {
	harness := newTestHarness(t)

	_, err := harness.service.AddGameToList(context.Background(), mustUserID(t, "user-1"), ListBacklog, sampleGame(1, "portal"))
	assertServiceErrorKind(t, err, ErrWrite)
	var serviceErr *ServiceError
	errors.As(err, &serviceErr)
	if serviceErr.Code() != "lists.add_game.list_missing" {
		t.Fatalf("unexpected error code %s", serviceErr.Code())
	}
}

func TestAddGameToListRejectsInvalidInput(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")

	testCases := []struct {
		name     string
		listName ListName
		game     TrackedGame
	}{
		{name: "unknown list", listName: ListName("favorites"), game: sampleGame(1, "portal")},
		{name: "non positive id", listName: ListBacklog, game: sampleGame(0, "portal")},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := harness.service.AddGameToList(context.Background(), userID, testCase.listName, testCase.game)
			assertServiceErrorKind(t, err, ErrInvalidInput)
		})
	}
}

func TestAddGameToListRetriesTransientFailures(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)

	flaky := &faultyStore{inner: harness.store, transient: 2}
	service, err := NewService(ServiceConfig{
		Store: flaky,
		Clock: harness.clock.Now,
		Retry: RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	outcome, err := service.AddGameToList(context.Background(), userID, ListPlaylist, sampleGame(28, "rdr2"))
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if !outcome.Added {
		t.Fatalf("expected game to be added")
	}
	if flaky.attempts() != 2 {
		t.Fatalf("expected two failed attempts, got %d", flaky.attempts())
	}
}

func TestAddGameToListGivesUpAfterRetryBudget(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)

	flaky := &faultyStore{inner: harness.store, transient: 10}
	service, err := NewService(ServiceConfig{
		Store: flaky,
		Clock: harness.clock.Now,
		Retry: RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	_, err = service.AddGameToList(context.Background(), userID, ListPlaylist, sampleGame(28, "rdr2"))
	assertServiceErrorKind(t, err, ErrWrite)
	if flaky.attempts() != 3 {
		t.Fatalf("expected three attempts, got %d", flaky.attempts())
	}
}

func TestDeleteGameFromList(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()

	if _, err := harness.service.AddGameToList(ctx, userID, ListCompleted, sampleGame(4200, "portal-2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := harness.service.DeleteGameFromList(ctx, userID, ListCompleted, 4200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := harness.service.DeleteGameFromList(ctx, userID, ListCompleted, 4200); err != nil {
		t.Fatalf("expected deleting an absent game to be a no-op, got %v", err)
	}

	_, found, err := harness.service.GetGameList(ctx, userID, 4200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected game to be untracked after delete")
	}

	var indexCount int64
	if err := harness.db.Model(&ListGameIndexEntry{}).Count(&indexCount).Error; err != nil {
		t.Fatalf("failed to count index entries: %v", err)
	}
	if indexCount != 0 {
		t.Fatalf("expected index to be empty, got %d entries", indexCount)
	}
}

func TestMoveGameToListMovesAndResetsAddedDate(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()

	if _, err := harness.service.AddGameToList(ctx, userID, ListBacklog, sampleGame(3498, "gta-v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	backlog, _ := before.List(ListBacklog)
	originalAdded := backlog.Games[0].AddedDate

	moved, err := harness.service.MoveGameToList(ctx, userID, ListBacklog, ListCompleted, 3498)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !moved.AddedDate.After(originalAdded) {
		t.Fatalf("expected added date to reset, before %s after %s", originalAdded, moved.AddedDate)
	}

	after, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids := listGameIDs(t, after, ListBacklog); len(ids) != 0 {
		t.Fatalf("expected backlog to be empty, got %v", ids)
	}
	if ids := listGameIDs(t, after, ListCompleted); len(ids) != 1 || ids[0] != 3498 {
		t.Fatalf("expected completed to hold the game, got %v", ids)
	}
	owner, found, err := harness.service.GetGameList(ctx, userID, 3498)
	if err != nil || !found || owner != ListCompleted {
		t.Fatalf("expected index to follow the move, got %s %v %v", owner, found, err)
	}
}

func TestMoveGameToListRejectsMissingSourceGame(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()

	if _, err := harness.service.AddGameToList(ctx, userID, ListWishlist, sampleGame(12, "hades")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := harness.service.MoveGameToList(ctx, userID, ListBacklog, ListCompleted, 12)
	assertServiceErrorKind(t, err, ErrGameNotInList)

	snapshot, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids := listGameIDs(t, snapshot, ListWishlist); len(ids) != 1 {
		t.Fatalf("expected wishlist untouched, got %v", ids)
	}
	if ids := listGameIDs(t, snapshot, ListCompleted); len(ids) != 0 {
		t.Fatalf("expected completed untouched, got %v", ids)
	}
}

func TestMoveGameToListRejectsSameList(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")

	_, err := harness.service.MoveGameToList(context.Background(), userID, ListBacklog, ListBacklog, 12)
	assertServiceErrorKind(t, err, ErrInvalidInput)
}

func TestMoveGameToListRollsBackWhenTargetWriteFails(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()

	if _, err := harness.service.AddGameToList(ctx, userID, ListPlaylist, sampleGame(77, "celeste")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failing := &faultyStore{
		inner:      harness.store,
		failSaveOn: map[ListName]error{ListDropped: errors.New("write rejected")},
	}
	service, err := NewService(ServiceConfig{Store: failing, Clock: harness.clock.Now})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	_, err = service.MoveGameToList(ctx, userID, ListPlaylist, ListDropped, 77)
	assertServiceErrorKind(t, err, ErrWrite)

	snapshot, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids := listGameIDs(t, snapshot, ListPlaylist); len(ids) != 1 || ids[0] != 77 {
		t.Fatalf("expected playlist to keep the game after rollback, got %v", ids)
	}
	if ids := listGameIDs(t, snapshot, ListDropped); len(ids) != 0 {
		t.Fatalf("expected dropped to stay empty after rollback, got %v", ids)
	}
	owner, found, err := harness.service.GetGameList(ctx, userID, 77)
	if err != nil || !found || owner != ListPlaylist {
		t.Fatalf("expected index rollback, got %s %v %v", owner, found, err)
	}
}

func TestGetUserListsOrdersGamesNewestFirst(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if _, err := harness.service.AddGameToList(ctx, userID, ListBacklog, sampleGame(id, "game")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	snapshot, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := listGameIDs(t, snapshot, ListBacklog)
	expected := []GameID{3, 2, 1}
	for index := range expected {
		if ids[index] != expected[index] {
			t.Fatalf("expected order %v, got %v", expected, ids)
		}
	}
}

func TestDeleteCollectionGamesEmptiesEveryList(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()

	if _, err := harness.service.AddGameToList(ctx, userID, ListBacklog, sampleGame(1, "a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := harness.service.AddGameToList(ctx, userID, ListDropped, sampleGame(2, "b")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := harness.service.DeleteCollectionGames(ctx, userID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot, err := harness.service.GetUserLists(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot.Lists) != 5 {
		t.Fatalf("expected list documents to remain, got %d", len(snapshot.Lists))
	}
	if snapshot.TotalGames() != 0 {
		t.Fatalf("expected no games, got %d", snapshot.TotalGames())
	}
	if outcome, err := harness.service.AddGameToList(ctx, userID, ListWishlist, sampleGame(1, "a")); err != nil || !outcome.Added {
		t.Fatalf("expected cleared game to be addable again, got %#v %v", outcome, err)
	}
}

func TestFavoritesLifecycle(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	ctx := context.Background()

	_, exists, err := harness.service.GetAllFavorites(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatalf("expected no favorites document before the first add")
	}

	game := sampleGame(3328, "witcher-3")
	game.AddedDate = time.Unix(1600000000, 0).UTC()
	added, err := harness.service.AddFavorite(ctx, userID, game)
	if err != nil || !added {
		t.Fatalf("expected favorite to be added, got %v %v", added, err)
	}
	added, err = harness.service.AddFavorite(ctx, userID, game)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Fatalf("expected duplicate favorite to be ignored")
	}

	favorites, exists, err := harness.service.GetAllFavorites(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists || len(favorites) != 1 {
		t.Fatalf("expected one favorite, got %v exists=%v", favorites, exists)
	}
	if favorites[0].Name != "witcher-3" {
		t.Fatalf("unexpected favorite %#v", favorites[0])
	}

	var record FavoritesRecord
	if err := harness.db.First(&record, "user_id = ?", userID.String()).Error; err != nil {
		t.Fatalf("failed to load favorites: %v", err)
	}
	if strings.Contains(record.GamesJSON, "addedDate") {
		t.Fatalf("expected favorites payload without added date, got %s", record.GamesJSON)
	}

	status, err := harness.service.GameStatus(ctx, userID, 3328)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Favorite || status.Tracked {
		t.Fatalf("unexpected status %#v", status)
	}

	if err := harness.service.RemoveFavorite(ctx, userID, 3328); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	favorites, exists, err = harness.service.GetAllFavorites(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists || len(favorites) != 0 {
		t.Fatalf("expected empty favorites document, got %v exists=%v", favorites, exists)
	}
}

func TestGameStatusReportsOwningList(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()

	if _, err := harness.service.AddGameToList(ctx, userID, ListWishlist, sampleGame(9, "tunic")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, err := harness.service.GameStatus(ctx, userID, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Tracked || status.List != ListWishlist || status.Favorite {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestWritesPublishListChanges(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := harness.dispatcher.Subscribe(ctx, userID.String())
	defer cleanup()

	if _, err := harness.service.AddGameToList(ctx, userID, ListBacklog, sampleGame(5, "inside")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := harness.service.MoveGameToList(ctx, userID, ListBacklog, ListWishlist, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := receiveMessage(t, stream)
	if first.EventType != realtime.EventListsChanged || len(first.Lists) != 1 || first.Lists[0] != "backlog" {
		t.Fatalf("unexpected add message %#v", first)
	}
	second := receiveMessage(t, stream)
	if len(second.Lists) != 2 || second.Lists[0] != "backlog" || second.Lists[1] != "wishlist" {
		t.Fatalf("unexpected move message %#v", second)
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assertServiceErrorKind(t, err, ErrInvalidInput)
}

func receiveMessage(t *testing.T, stream <-chan realtime.Message) realtime.Message {
	t.Helper()
	select {
	case message, ok := <-stream:
		if !ok {
			t.Fatalf("stream closed unexpectedly")
		}
		return message
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return realtime.Message{}
}

func TestInvalidListAndUserReasons(t *testing.T) {
	harness := newTestHarness(t)
	userID := mustUserID(t, "user-1")
	mustCreateDefaultLists(t, harness.service, userID)
	ctx := context.Background()
	game := sampleGame(42, "celeste")

	testCases := []struct {
		name     string
		call     func() error
		wantCode string
	}{
		{
			name: "add to unknown list",
			call: func() error {
				_, err := harness.service.AddGameToList(ctx, userID, ListName("archive"), game)
				return err
			},
			wantCode: "lists.add_game.invalid_list",
		},
		{
			name: "add without user",
			call: func() error {
				_, err := harness.service.AddGameToList(ctx, "", ListBacklog, game)
				return err
			},
			wantCode: "lists.add_game.invalid_user_id",
		},
		{
			name:     "delete from unknown list",
			call:     func() error { return harness.service.DeleteGameFromList(ctx, userID, ListName("archive"), game.ID) },
			wantCode: "lists.delete_game.invalid_list",
		},
		{
			name: "move from unknown list",
			call: func() error {
				_, err := harness.service.MoveGameToList(ctx, userID, ListName("archive"), ListBacklog, game.ID)
				return err
			},
			wantCode: "lists.move_game.invalid_list",
		},
		{
			name: "move to unknown list",
			call: func() error {
				_, err := harness.service.MoveGameToList(ctx, userID, ListBacklog, ListName("archive"), game.ID)
				return err
			},
			wantCode: "lists.move_game.invalid_list",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := testCase.call()
			assertServiceErrorKind(t, err, ErrInvalidInput)
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) || serviceErr.Code() != testCase.wantCode {
				t.Fatalf("code = %v, want %s", err, testCase.wantCode)
			}
		})
	}
}
