package perspective

// Record is the persisted form of a personal perspective.
type Record struct {
	PerspectiveID    string `gorm:"column:perspective_id;primaryKey;size:190;not null"`
	TableID          string `gorm:"column:table_id;size:190;not null;index:idx_perspectives_table_user,priority:1"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_perspectives_table_user,priority:2"`
	Name             string `gorm:"column:name;size:190;not null"`
	SettingsJSON     string `gorm:"column:settings_json;type:text;not null"`
	IsDefault        bool   `gorm:"column:is_default;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "perspectives"
}

// RoleRecord is the persisted form of a role-shared perspective. One record
// exists per (table, role, name).
type RoleRecord struct {
	RolePerspectiveID string `gorm:"column:role_perspective_id;primaryKey;size:190;not null"`
	TableID           string `gorm:"column:table_id;size:190;not null;index:idx_role_perspectives_table_role,priority:1"`
	RoleID            string `gorm:"column:role_id;size:190;not null;index:idx_role_perspectives_table_role,priority:2"`
	Name              string `gorm:"column:name;size:190;not null"`
	SettingsJSON      string `gorm:"column:settings_json;type:text;not null"`
	IsDefault         bool   `gorm:"column:is_default;not null;default:false"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RoleRecord) TableName() string {
	return "role_perspectives"
}
