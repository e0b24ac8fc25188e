package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openSchemaDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	models := append([]any{&migrationRecord{}}, lists.Models()...)
	if err := database.AutoMigrate(models...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsBackfillsAddedDates(testContext *testing.T) {
	database := openSchemaDatabase(testContext)
	updatedAt := time.Date(2023, time.January, 2, 3, 4, 5, 0, time.UTC)
	record := lists.ListRecord{
		UserID:           "user-1",
		ListName:         lists.ListBacklog.String(),
		GamesJSON:        `[{"id":1,"name":"Legacy"},{"id":2,"name":"Stamped","addedDate":"2024-01-01T00:00:00Z"}]`,
		Version:          3,
		UpdatedAtSeconds: updatedAt.Unix(),
	}
	if err := database.Create(&record).Error; err != nil {
		testContext.Fatalf("failed to insert list: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored lists.ListRecord
	if err := database.Where("user_id = ? AND list_name = ?", record.UserID, record.ListName).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload list: %v", err)
	}
	var games []lists.TrackedGame
	if err := json.Unmarshal([]byte(stored.GamesJSON), &games); err != nil {
		testContext.Fatalf("failed to decode games: %v", err)
	}
	if !games[0].AddedDate.Equal(updatedAt) {
		testContext.Fatalf("expected legacy game stamped with %v, got %v", updatedAt, games[0].AddedDate)
	}
	if !games[1].AddedDate.Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		testContext.Fatalf("existing added date must be preserved, got %v", games[1].AddedDate)
	}
	if stored.Version != 4 {
		testContext.Fatalf("expected version bump to 4, got %d", stored.Version)
	}

	var record2 migrationRecord
	if err := database.Where("name = ?", migrationBackfillAddedDates).Take(&record2).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record2.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsStripsFavoriteAddedDates(testContext *testing.T) {
	database := openSchemaDatabase(testContext)
	favorites := lists.FavoritesRecord{
		UserID:           "user-1",
		GamesJSON:        `[{"id":5,"name":"Portal","background_image":"","released":"2007-10-10","addedDate":"2024-01-01T00:00:00Z"}]`,
		Version:          1,
		UpdatedAtSeconds: 1,
	}
	if err := database.Create(&favorites).Error; err != nil {
		testContext.Fatalf("failed to insert favorites: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored lists.FavoritesRecord
	if err := database.Where("user_id = ?", favorites.UserID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload favorites: %v", err)
	}
	if strings.Contains(stored.GamesJSON, "addedDate") {
		testContext.Fatalf("expected addedDate stripped, got %s", stored.GamesJSON)
	}
	if !strings.Contains(stored.GamesJSON, `"name":"Portal"`) {
		testContext.Fatalf("expected game preserved, got %s", stored.GamesJSON)
	}
}

func TestApplyMigrationsRebuildsGameIndex(testContext *testing.T) {
	database := openSchemaDatabase(testContext)
	records := []lists.ListRecord{
		{UserID: "user-1", ListName: lists.ListCompleted.String(), GamesJSON: `[{"id":7,"name":"Dup"}]`, Version: 1, UpdatedAtSeconds: 1},
		{UserID: "user-1", ListName: lists.ListBacklog.String(), GamesJSON: `[{"id":7,"name":"Dup"},{"id":8,"name":"Solo"}]`, Version: 1, UpdatedAtSeconds: 1},
	}
	if err := database.Create(&records).Error; err != nil {
		testContext.Fatalf("failed to insert lists: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var entries []lists.ListGameIndexEntry
	if err := database.Order("game_id").Find(&entries).Error; err != nil {
		testContext.Fatalf("failed to load index: %v", err)
	}
	if len(entries) != 2 {
		testContext.Fatalf("expected 2 index entries, got %+v", entries)
	}
	if entries[0].GameID != 7 || entries[0].ListName != lists.ListBacklog.String() {
		testContext.Fatalf("duplicate game should be indexed under backlog, got %+v", entries[0])
	}

	var completed lists.ListRecord
	if err := database.Where("user_id = ? AND list_name = ?", "user-1", lists.ListCompleted.String()).Take(&completed).Error; err != nil {
		testContext.Fatalf("failed to load completed list: %v", err)
	}
	if strings.Contains(completed.GamesJSON, `"id":7`) {
		testContext.Fatalf("duplicate game should be removed from completed, got %s", completed.GamesJSON)
	}
	if completed.Version != 2 {
		testContext.Fatalf("expected completed version bumped to 2, got %d", completed.Version)
	}
	var backlog lists.ListRecord
	if err := database.Where("user_id = ? AND list_name = ?", "user-1", lists.ListBacklog.String()).Take(&backlog).Error; err != nil {
		testContext.Fatalf("failed to load backlog list: %v", err)
	}
	if backlog.Version != 1 || !strings.Contains(backlog.GamesJSON, `"id":7`) {
		testContext.Fatalf("backlog should be untouched, got version %d %s", backlog.Version, backlog.GamesJSON)
	}
}

func TestApplyMigrationsLeavesDeduplicatedListsWritable(testContext *testing.T) {
	database := openSchemaDatabase(testContext)
	records := []lists.ListRecord{
		{UserID: "user-1", ListName: lists.ListCompleted.String(), GamesJSON: `[{"id":7,"name":"Dup"}]`, Version: 1, UpdatedAtSeconds: 1},
		{UserID: "user-1", ListName: lists.ListBacklog.String(), GamesJSON: `[{"id":7,"name":"Dup"}]`, Version: 1, UpdatedAtSeconds: 1},
	}
	if err := database.Create(&records).Error; err != nil {
		testContext.Fatalf("failed to insert lists: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	userID, err := lists.NewUserID("user-1")
	if err != nil {
		testContext.Fatalf("NewUserID error: %v", err)
	}
	gameID, err := lists.NewGameID(9)
	if err != nil {
		testContext.Fatalf("NewGameID error: %v", err)
	}
	store := lists.NewSQLStore(database, nil)
	err = store.RunInTransaction(context.Background(), func(ctx context.Context, tx lists.Transaction) error {
		documents, err := tx.LoadLists(userID)
		if err != nil {
			return err
		}
		for _, document := range documents {
			if document.Name != lists.ListCompleted {
				continue
			}
			document.Games = append(document.Games, lists.TrackedGame{ID: gameID, Name: "Fresh"})
			return tx.SaveList(document)
		}
		testContext.Fatalf("completed list missing after migration")
		return nil
	})
	if err != nil {
		testContext.Fatalf("saving the completed list after migration failed: %v", err)
	}

	var count int64
	if err := database.Model(&lists.ListGameIndexEntry{}).Where("user_id = ?", "user-1").Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count index entries: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected 2 index entries, got %d", count)
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database := openSchemaDatabase(testContext)
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first run failed: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second run failed: %v", err)
	}
	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 3 {
		testContext.Fatalf("expected 3 migration records, got %d", count)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "gameshelf.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("OpenSQLite error: %v", err)
	}
	for _, model := range append(users.Models(), lists.Models()...) {
		if !database.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
