package perspective

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vantagehq/vantage/backend/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingTableID    = errors.New("table identifier is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingName       = errors.New("perspective name is required")
	noOpLogger           = zap.NewNop()
)

// ErrPerspectiveNotFound indicates a delete targeted an id the user does not own.
var ErrPerspectiveNotFound = errors.New("perspective: not found")

// ServiceError wraps a failure with a dotted operation code for log correlation.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "perspective.service.new"
	opListSource       = "perspective.list_source"
	opSave             = "perspective.save"
	opDelete           = "perspective.delete"
	opClearRoleDefault = "perspective.clear_role_default"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies for the perspectives service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns server-side perspective storage for all tables.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the perspectives service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// ListSource assembles the resolver source for one table: the user's personal
// perspectives, the role perspectives visible through the provided role ids,
// and the user's declared default. CanApplyToRoles is decided by the caller.
func (s *Service) ListSource(ctx context.Context, tableID, userID string, roleIDs []string) (Source, error) {
	if strings.TrimSpace(tableID) == "" {
		return Source{}, newServiceError(opListSource, "missing_table_id", errMissingTableID)
	}
	if strings.TrimSpace(userID) == "" {
		return Source{}, newServiceError(opListSource, "missing_user_id", errMissingUserID)
	}

	var records []Record
	if err := s.db.WithContext(ctx).
		Where("table_id = ? AND user_id = ?", tableID, userID).
		Order("created_at_s ASC").
		Find(&records).Error; err != nil {
		s.logError(opListSource, "personal_query_failed", err, zap.String("table_id", tableID))
		return Source{}, newServiceError(opListSource, "personal_query_failed", err)
	}

	var roleRecords []RoleRecord
	if len(roleIDs) > 0 {
		if err := s.db.WithContext(ctx).
			Where("table_id = ? AND role_id IN ?", tableID, roleIDs).
			Order("created_at_s ASC").
			Find(&roleRecords).Error; err != nil {
			s.logError(opListSource, "role_query_failed", err, zap.String("table_id", tableID))
			return Source{}, newServiceError(opListSource, "role_query_failed", err)
		}
	}

	source := Source{
		Perspectives:     make([]Perspective, 0, len(records)),
		RolePerspectives: make([]RolePerspective, 0, len(roleRecords)),
		Roles:            make([]Role, 0, len(roleIDs)),
	}
	hasPersonal := len(records) > 0
	for _, record := range records {
		perspective := record.toPerspective()
		if record.IsDefault && source.DefaultPerspectiveID == "" {
			source.DefaultPerspectiveID = record.PerspectiveID
		}
		source.Perspectives = append(source.Perspectives, perspective)
	}
	for _, record := range roleRecords {
		source.RolePerspectives = append(source.RolePerspectives, record.toRolePerspective(hasPersonal))
	}
	for _, roleID := range roleIDs {
		source.Roles = append(source.Roles, Role{ID: roleID, Name: roleID})
	}
	return source, nil
}

// Save stores one personal perspective as a full replacement. A request
// carrying a perspective id replaces that perspective; without one a new id
// is issued. IsDefault demotes every other personal default for the table,
// and ApplyToRoles fans the same settings out to role perspectives keyed by
// (table, role, name).
func (s *Service) Save(ctx context.Context, tableID, userID string, request SaveRequest) (Perspective, error) {
	if strings.TrimSpace(tableID) == "" {
		return Perspective{}, newServiceError(opSave, "missing_table_id", errMissingTableID)
	}
	if strings.TrimSpace(userID) == "" {
		return Perspective{}, newServiceError(opSave, "missing_user_id", errMissingUserID)
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		return Perspective{}, newServiceError(opSave, "missing_name", errMissingName)
	}

	sanitized := settings.Sanitize(request.Settings)
	settingsJSON, err := encodeSettings(sanitized)
	if err != nil {
		s.logError(opSave, "settings_encode_failed", err, zap.String("table_id", tableID))
		return Perspective{}, newServiceError(opSave, "settings_encode_failed", err)
	}

	perspectiveID := strings.TrimSpace(request.PerspectiveID)
	if perspectiveID == "" {
		perspectiveID, err = s.idProvider.NewID()
		if err != nil {
			s.logError(opSave, "id_generation_failed", err, zap.String("table_id", tableID))
			return Perspective{}, newServiceError(opSave, "id_generation_failed", err)
		}
	}

	now := s.clock().UTC().Unix()
	record := Record{
		PerspectiveID:    perspectiveID,
		TableID:          tableID,
		UserID:           userID,
		Name:             name,
		SettingsJSON:     settingsJSON,
		IsDefault:        request.IsDefault,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Record
		err := tx.Where("perspective_id = ? AND table_id = ? AND user_id = ?", perspectiveID, tableID, userID).
			Take(&existing).Error
		if err == nil {
			record.CreatedAtSeconds = existing.CreatedAtSeconds
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opSave, "select_failed", err)
		}

		if request.IsDefault {
			if err := tx.Model(&Record{}).
				Where("table_id = ? AND user_id = ? AND perspective_id <> ?", tableID, userID, perspectiveID).
				Update("is_default", false).Error; err != nil {
				return newServiceError(opSave, "demote_defaults_failed", err)
			}
		}

		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opSave, "save_failed", err)
		}

		for _, roleID := range request.ApplyToRoles {
			roleID = strings.TrimSpace(roleID)
			if roleID == "" {
				continue
			}
			if err := s.saveRolePerspective(tx, tableID, roleID, name, settingsJSON, request.SetRoleDefault, now); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSave, "transaction_failed", txErr,
			zap.String("table_id", tableID),
			zap.String("perspective_id", perspectiveID))
		return Perspective{}, txErr
	}

	return record.toPerspective(), nil
}

func (s *Service) saveRolePerspective(tx *gorm.DB, tableID, roleID, name, settingsJSON string, setDefault bool, now int64) error {
	roleRecord := RoleRecord{
		TableID:          tableID,
		RoleID:           roleID,
		Name:             name,
		SettingsJSON:     settingsJSON,
		IsDefault:        setDefault,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	var existing RoleRecord
	err := tx.Where("table_id = ? AND role_id = ? AND name = ?", tableID, roleID, name).
		Take(&existing).Error
	if err == nil {
		roleRecord.RolePerspectiveID = existing.RolePerspectiveID
		roleRecord.CreatedAtSeconds = existing.CreatedAtSeconds
		roleRecord.IsDefault = existing.IsDefault || setDefault
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		newID, idErr := s.idProvider.NewID()
		if idErr != nil {
			return newServiceError(opSave, "role_id_generation_failed", idErr)
		}
		roleRecord.RolePerspectiveID = newID
	} else {
		return newServiceError(opSave, "role_select_failed", err)
	}

	if setDefault {
		if err := tx.Model(&RoleRecord{}).
			Where("table_id = ? AND role_id = ? AND role_perspective_id <> ?", tableID, roleID, roleRecord.RolePerspectiveID).
			Update("is_default", false).Error; err != nil {
			return newServiceError(opSave, "role_demote_defaults_failed", err)
		}
	}

	if err := tx.Save(&roleRecord).Error; err != nil {
		return newServiceError(opSave, "role_save_failed", err)
	}
	return nil
}

// Delete removes one personal perspective owned by the user.
func (s *Service) Delete(ctx context.Context, tableID, userID, perspectiveID string) error {
	if strings.TrimSpace(tableID) == "" {
		return newServiceError(opDelete, "missing_table_id", errMissingTableID)
	}
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opDelete, "missing_user_id", errMissingUserID)
	}

	result := s.db.WithContext(ctx).
		Where("perspective_id = ? AND table_id = ? AND user_id = ?", perspectiveID, tableID, userID).
		Delete(&Record{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error,
			zap.String("table_id", tableID),
			zap.String("perspective_id", perspectiveID))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "not_found", ErrPerspectiveNotFound)
	}
	return nil
}

// ClearRoleDefault removes the default role perspective for one table and
// role. Clearing an already-clear default is a no-op.
func (s *Service) ClearRoleDefault(ctx context.Context, tableID, roleID string) error {
	if strings.TrimSpace(tableID) == "" {
		return newServiceError(opClearRoleDefault, "missing_table_id", errMissingTableID)
	}

	if err := s.db.WithContext(ctx).
		Where("table_id = ? AND role_id = ? AND is_default = ?", tableID, roleID, true).
		Delete(&RoleRecord{}).Error; err != nil {
		s.logError(opClearRoleDefault, "delete_failed", err,
			zap.String("table_id", tableID),
			zap.String("role_id", roleID))
		return newServiceError(opClearRoleDefault, "delete_failed", err)
	}
	return nil
}

func (r Record) toPerspective() Perspective {
	return Perspective{
		ID:        r.PerspectiveID,
		Name:      r.Name,
		Settings:  decodeSettings(r.SettingsJSON),
		IsDefault: r.IsDefault,
	}
}

func (r RoleRecord) toRolePerspective(hasPreference bool) RolePerspective {
	return RolePerspective{
		ID:            r.RolePerspectiveID,
		Name:          r.Name,
		RoleID:        r.RoleID,
		Settings:      decodeSettings(r.SettingsJSON),
		IsDefault:     r.IsDefault,
		HasPreference: hasPreference,
	}
}

func encodeSettings(value *settings.PerspectiveSettings) (string, error) {
	if value == nil {
		return "null", nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// decodeSettings re-sanitizes persisted JSON so stored rows written by older
// builds still come back in canonical shape.
func decodeSettings(payload string) *settings.PerspectiveSettings {
	if payload == "" || payload == "null" {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil
	}
	return settings.Sanitize(raw)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("perspective service error", attrs...)
}
