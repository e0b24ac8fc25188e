package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillAddedDates      = "2026-10-01_backfill_list_added_dates"
	migrationStripFavoriteAddedDates = "2026-10-01_strip_favorite_added_dates"
	migrationRebuildListGameIndex    = "2026-10-02_rebuild_list_game_index"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillAddedDates, apply: backfillAddedDates},
		{name: migrationStripFavoriteAddedDates, apply: stripFavoriteAddedDates},
		{name: migrationRebuildListGameIndex, apply: rebuildListGameIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillAddedDates stamps games without an added date with their list's last update time.
func backfillAddedDates(db *gorm.DB) error {
	var records []lists.ListRecord
	if err := db.Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		var games []lists.TrackedGame
		if err := json.Unmarshal([]byte(record.GamesJSON), &games); err != nil {
			return fmt.Errorf("decode %s/%s: %w", record.UserID, record.ListName, err)
		}
		changed := false
		for index := range games {
			if games[index].AddedDate.IsZero() {
				games[index].AddedDate = time.Unix(record.UpdatedAtSeconds, 0).UTC()
				changed = true
			}
		}
		if !changed {
			continue
		}
		payload, err := json.Marshal(games)
		if err != nil {
			return err
		}
		if err := db.Model(&lists.ListRecord{}).
			Where("user_id = ? AND list_name = ?", record.UserID, record.ListName).
			Updates(map[string]any{"games_json": string(payload), "version": record.Version + 1}).Error; err != nil {
			return err
		}
	}
	return nil
}

// stripFavoriteAddedDates rewrites favorites through FavoriteGame, which has no added date.
func stripFavoriteAddedDates(db *gorm.DB) error {
	var records []lists.FavoritesRecord
	if err := db.Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		var games []lists.FavoriteGame
		if err := json.Unmarshal([]byte(record.GamesJSON), &games); err != nil {
			return fmt.Errorf("decode favorites of %s: %w", record.UserID, err)
		}
		if games == nil {
			games = []lists.FavoriteGame{}
		}
		payload, err := json.Marshal(games)
		if err != nil {
			return err
		}
		if string(payload) == record.GamesJSON {
			continue
		}
		if err := db.Model(&lists.FavoritesRecord{}).
			Where("user_id = ?", record.UserID).
			Updates(map[string]any{"games_json": string(payload), "version": record.Version + 1}).Error; err != nil {
			return err
		}
	}
	return nil
}

// rebuildListGameIndex recreates the game index from list documents. A game found in
// several lists keeps the first list in default list order and is removed from the others.
func rebuildListGameIndex(db *gorm.DB) error {
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&lists.ListGameIndexEntry{}).Error; err != nil {
		return err
	}
	var records []lists.ListRecord
	if err := db.Find(&records).Error; err != nil {
		return err
	}
	byList := make(map[string][]lists.ListRecord)
	for _, record := range records {
		byList[record.ListName] = append(byList[record.ListName], record)
	}
	indexed := make(map[string]map[int64]struct{})
	for _, name := range lists.DefaultListNames() {
		for _, record := range byList[name.String()] {
			var games []lists.TrackedGame
			if err := json.Unmarshal([]byte(record.GamesJSON), &games); err != nil {
				return fmt.Errorf("decode %s/%s: %w", record.UserID, record.ListName, err)
			}
			seen := indexed[record.UserID]
			if seen == nil {
				seen = make(map[int64]struct{})
				indexed[record.UserID] = seen
			}
			kept := make([]lists.TrackedGame, 0, len(games))
			for _, game := range games {
				if _, duplicate := seen[game.ID.Int64()]; duplicate {
					continue
				}
				seen[game.ID.Int64()] = struct{}{}
				kept = append(kept, game)
				entry := lists.ListGameIndexEntry{UserID: record.UserID, GameID: game.ID.Int64(), ListName: record.ListName}
				if err := db.Create(&entry).Error; err != nil {
					return err
				}
			}
			if len(kept) == len(games) {
				continue
			}
			payload, err := json.Marshal(kept)
			if err != nil {
				return err
			}
			if err := db.Model(&lists.ListRecord{}).
				Where("user_id = ? AND list_name = ?", record.UserID, record.ListName).
				Updates(map[string]any{"games_json": string(payload), "version": record.Version + 1}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
