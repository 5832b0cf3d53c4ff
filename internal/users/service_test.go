package users

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/vantagehq/vantage/backend/internal/auth"
	"gorm.io/gorm"
)

func newIdentityService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service := newIdentityService(t)

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserRoles:       []string{"support"},
	}
	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	// second call should hit cache and not create a duplicate record.
	userID, err = service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", userID)
	}
}

func TestResolveCanonicalUserIDFallsBackToSubject(t *testing.T) {
	service := newIdentityService(t)

	userID, err := service.ResolveCanonicalUserID(auth.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-77"},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "user-77" {
		t.Fatalf("expected subject as canonical id, got %q", userID)
	}
}

func TestResolveCanonicalUserIDRejectsEmptyClaims(t *testing.T) {
	service := newIdentityService(t)

	if _, err := service.ResolveCanonicalUserID(auth.SessionClaims{}); err != ErrInvalidIdentity {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}
