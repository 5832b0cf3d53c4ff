package perspective

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/vantagehq/vantage/backend/internal/settings"
	"gorm.io/gorm"
)

func mustService(t *testing.T, name string) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &RoleRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustSave(t *testing.T, service *Service, tableID, userID string, request SaveRequest) Perspective {
	t.Helper()
	saved, err := service.Save(context.Background(), tableID, userID, request)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	return saved
}

func TestServiceSaveIssuesIDAndSanitizesSettings(t *testing.T) {
	service := mustService(t, "svc_save_new")

	saved := mustSave(t, service, "orders", "user-1", SaveRequest{
		Name: "Mine",
		Settings: settings.Sanitize(map[string]any{
			"columnOrder": []any{"id", "id", " total "},
			"__proto__":   map[string]any{"polluted": true},
			"pageSize":    float64(9000),
		}),
	})
	if saved.ID == "" {
		t.Fatalf("expected generated perspective id")
	}

	source, err := service.ListSource(context.Background(), "orders", "user-1", nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(source.Perspectives) != 1 {
		t.Fatalf("expected one perspective, got %d", len(source.Perspectives))
	}
	stored := source.Perspectives[0].Settings
	if stored == nil {
		t.Fatalf("expected stored settings")
	}
	if len(stored.ColumnOrder) != 2 || stored.ColumnOrder[0] != "id" || stored.ColumnOrder[1] != "total" {
		t.Fatalf("unexpected column order: %#v", stored.ColumnOrder)
	}
	if stored.PageSize != 500 {
		t.Fatalf("expected clamped page size, got %d", stored.PageSize)
	}
}

func TestServiceSaveReplacesByIDAndKeepsCreatedAt(t *testing.T) {
	service := mustService(t, "svc_save_replace")

	first := mustSave(t, service, "orders", "user-1", SaveRequest{Name: "Mine"})
	second := mustSave(t, service, "orders", "user-1", SaveRequest{
		PerspectiveID: first.ID,
		Name:          "Renamed",
		Settings:      settings.Sanitize(map[string]any{"searchValue": "abc"}),
	})
	if second.ID != first.ID {
		t.Fatalf("expected id to be stable across replacement")
	}

	source, err := service.ListSource(context.Background(), "orders", "user-1", nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(source.Perspectives) != 1 || source.Perspectives[0].Name != "Renamed" {
		t.Fatalf("expected in-place replacement, got %#v", source.Perspectives)
	}
}

func TestServiceSaveDemotesOtherDefaults(t *testing.T) {
	service := mustService(t, "svc_save_default")

	first := mustSave(t, service, "orders", "user-1", SaveRequest{Name: "First", IsDefault: true})
	second := mustSave(t, service, "orders", "user-1", SaveRequest{Name: "Second", IsDefault: true})

	source, err := service.ListSource(context.Background(), "orders", "user-1", nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if source.DefaultPerspectiveID != second.ID {
		t.Fatalf("expected second perspective as default, got %q", source.DefaultPerspectiveID)
	}
	for _, perspective := range source.Perspectives {
		if perspective.ID == first.ID && perspective.IsDefault {
			t.Fatalf("expected first default to be demoted")
		}
	}
}

func TestServiceSaveFansOutToRoles(t *testing.T) {
	service := mustService(t, "svc_save_roles")

	mustSave(t, service, "orders", "user-1", SaveRequest{
		Name:           "Team view",
		Settings:       settings.Sanitize(map[string]any{"searchValue": "open"}),
		ApplyToRoles:   []string{"support", "admin"},
		SetRoleDefault: true,
	})

	source, err := service.ListSource(context.Background(), "orders", "user-2", []string{"support"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(source.RolePerspectives) != 1 {
		t.Fatalf("expected one visible role perspective, got %d", len(source.RolePerspectives))
	}
	rolePerspective := source.RolePerspectives[0]
	if rolePerspective.RoleID != "support" || !rolePerspective.IsDefault {
		t.Fatalf("unexpected role perspective: %#v", rolePerspective)
	}
	if rolePerspective.HasPreference {
		t.Fatalf("user-2 has no personal perspective, HasPreference must be false")
	}
	if rolePerspective.Settings == nil || rolePerspective.Settings.SearchValue != "open" {
		t.Fatalf("role settings not carried: %#v", rolePerspective.Settings)
	}

	// saving again under the same name replaces rather than duplicates.
	mustSave(t, service, "orders", "user-1", SaveRequest{
		Name:         "Team view",
		Settings:     settings.Sanitize(map[string]any{"searchValue": "closed"}),
		ApplyToRoles: []string{"support"},
	})
	source, err = service.ListSource(context.Background(), "orders", "user-2", []string{"support"})
	if err != nil {
		t.Fatalf("second list failed: %v", err)
	}
	if len(source.RolePerspectives) != 1 {
		t.Fatalf("expected replacement, got %d role perspectives", len(source.RolePerspectives))
	}
	if source.RolePerspectives[0].Settings.SearchValue != "closed" {
		t.Fatalf("expected updated role settings, got %#v", source.RolePerspectives[0].Settings)
	}
	if !source.RolePerspectives[0].IsDefault {
		t.Fatalf("replacement must not clear an existing role default")
	}
}

func TestServiceRoleDefaultDemotion(t *testing.T) {
	service := mustService(t, "svc_role_default")

	mustSave(t, service, "orders", "user-1", SaveRequest{
		Name: "A", ApplyToRoles: []string{"support"}, SetRoleDefault: true,
	})
	mustSave(t, service, "orders", "user-1", SaveRequest{
		Name: "B", ApplyToRoles: []string{"support"}, SetRoleDefault: true,
	})

	source, err := service.ListSource(context.Background(), "orders", "user-1", []string{"support"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	defaults := 0
	for _, rolePerspective := range source.RolePerspectives {
		if rolePerspective.IsDefault {
			defaults++
			if rolePerspective.Name != "B" {
				t.Fatalf("expected B as role default, got %q", rolePerspective.Name)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one role default, got %d", defaults)
	}
}

func TestServiceDelete(t *testing.T) {
	service := mustService(t, "svc_delete")

	saved := mustSave(t, service, "orders", "user-1", SaveRequest{Name: "Mine"})
	if err := service.Delete(context.Background(), "orders", "user-1", saved.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := service.Delete(context.Background(), "orders", "user-1", saved.ID); !errors.Is(err, ErrPerspectiveNotFound) {
		t.Fatalf("expected ErrPerspectiveNotFound, got %v", err)
	}

	// other users cannot delete a perspective they do not own.
	other := mustSave(t, service, "orders", "user-2", SaveRequest{Name: "Theirs"})
	if err := service.Delete(context.Background(), "orders", "user-1", other.ID); !errors.Is(err, ErrPerspectiveNotFound) {
		t.Fatalf("expected ownership-scoped delete, got %v", err)
	}
}

func TestServiceClearRoleDefaultIsIdempotent(t *testing.T) {
	service := mustService(t, "svc_clear_role_default")

	mustSave(t, service, "orders", "user-1", SaveRequest{
		Name: "Shared", ApplyToRoles: []string{"support"}, SetRoleDefault: true,
	})
	if err := service.ClearRoleDefault(context.Background(), "orders", "support"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := service.ClearRoleDefault(context.Background(), "orders", "support"); err != nil {
		t.Fatalf("second clear must be a no-op, got %v", err)
	}

	source, err := service.ListSource(context.Background(), "orders", "user-1", []string{"support"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, rolePerspective := range source.RolePerspectives {
		if rolePerspective.IsDefault {
			t.Fatalf("expected role default to be removed, got %#v", rolePerspective)
		}
	}
}

func TestServiceValidation(t *testing.T) {
	service := mustService(t, "svc_validation")
	ctx := context.Background()

	if _, err := service.Save(ctx, "orders", "user-1", SaveRequest{Name: "  "}); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if _, err := service.Save(ctx, "", "user-1", SaveRequest{Name: "Mine"}); err == nil {
		t.Fatalf("expected error for missing table id")
	}
	if _, err := service.ListSource(ctx, "orders", "", nil); err == nil {
		t.Fatalf("expected error for missing user id")
	}

	var serviceError *ServiceError
	_, err := service.Save(ctx, "orders", "user-1", SaveRequest{})
	if !errors.As(err, &serviceError) || serviceError.Code() != "perspective.save.missing_name" {
		t.Fatalf("expected dotted operation code, got %v", err)
	}
}

func TestServiceHasPreferenceReflectsPersonalOwnership(t *testing.T) {
	service := mustService(t, "svc_has_preference")

	mustSave(t, service, "orders", "user-1", SaveRequest{
		Name: "Shared", ApplyToRoles: []string{"support"},
	})
	mustSave(t, service, "orders", "user-1", SaveRequest{Name: "Personal"})

	source, err := service.ListSource(context.Background(), "orders", "user-1", []string{"support"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(source.RolePerspectives) == 0 || !source.RolePerspectives[0].HasPreference {
		t.Fatalf("expected HasPreference for a user with personal perspectives: %#v", source.RolePerspectives)
	}
}
