package lists

// ListRecord stores one status list document with its embedded games.
type ListRecord struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	ListName         string `gorm:"column:list_name;primaryKey;size:32;not null"`
	GamesJSON        string `gorm:"column:games_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ListRecord) TableName() string {
	return "user_lists"
}

// ListGameIndexEntry maps a tracked game to the list holding it. The primary key makes
// list exclusivity a storage constraint.
type ListGameIndexEntry struct {
	UserID   string `gorm:"column:user_id;primaryKey;size:190;not null"`
	GameID   int64  `gorm:"column:game_id;primaryKey;autoIncrement:false;not null"`
	ListName string `gorm:"column:list_name;size:32;not null;index:idx_list_game_index_list"`
}

// TableName provides the explicit table binding for GORM.
func (ListGameIndexEntry) TableName() string {
	return "list_game_index"
}

// FavoritesRecord stores the favorites document of a user.
type FavoritesRecord struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	GamesJSON        string `gorm:"column:games_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FavoritesRecord) TableName() string {
	return "user_favorites"
}

// Models lists the GORM models owned by this package, for schema migration.
func Models() []any {
	return []any{&ListRecord{}, &ListGameIndexEntry{}, &FavoritesRecord{}}
}
