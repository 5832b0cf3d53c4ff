package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "vantage-auth"
	testSessionCookieName    = "vantage_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func mustValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func mustSignSession(t *testing.T, claims SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := mustValidator(t, func() time.Time { return clockNow })

	signed := mustSignSession(t, SessionClaims{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		UserRoles: []string{"support", "admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
	if len(claims.UserRoles) != 2 {
		t.Fatalf("roles not carried through: %#v", claims.UserRoles)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := mustValidator(t, func() time.Time { return clockNow })

	signed := mustSignSession(t, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
		},
	})

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected ErrExpiredSessionToken, got %v", err)
	}
}

func TestSessionValidatorRejectsWrongIssuer(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := mustValidator(t, func() time.Time { return clockNow })

	signed := mustSignSession(t, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator := mustValidator(t, nil)

	signed := mustSignSession(t, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	request := httptest.NewRequest(http.MethodGet, "/perspectives/orders", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
}

func TestSessionIssuerRoundTrip(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	signed, expiresIn, err := issuer.IssueSessionToken(SessionClaims{
		UserID:    testSessionUserID,
		UserRoles: []string{"admin"},
	})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("unexpected lifetime: %d", expiresIn)
	}

	validator := mustValidator(t, func() time.Time { return clockNow })
	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("issued token failed validation: %v", err)
	}
	if claims.Subject != testSessionUserID || len(claims.UserRoles) != 1 {
		t.Fatalf("unexpected round-trip claims: %#v", claims)
	}
}

func TestSessionIssuerRequiresSubject(t *testing.T) {
	issuer, err := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	if _, _, err := issuer.IssueSessionToken(SessionClaims{}); err == nil {
		t.Fatalf("expected error for claims without a subject")
	}
}
