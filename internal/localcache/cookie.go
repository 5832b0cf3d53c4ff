package localcache

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

const (
	// pointerCookieMaxAge keeps the active pointer for one year so a
	// server-rendered initial view matches device state without a flash.
	pointerCookieMaxAge = 31536000
)

// PointerCookie builds the cookie that stores the active perspective pointer.
// An empty perspective id produces an immediately-expiring cookie (Max-Age 0).
func PointerCookie(prefix, tableID, perspectiveID string) *http.Cookie {
	cookie := &http.Cookie{
		Name:     Key(prefix, tableID),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
	if perspectiveID == "" {
		cookie.MaxAge = -1
		return cookie
	}
	cookie.Value = url.QueryEscape(perspectiveID)
	cookie.MaxAge = pointerCookieMaxAge
	return cookie
}

// PointerFromCookies extracts the active perspective id for a table from a
// cookie list. Undecodable values are treated as absent.
func PointerFromCookies(cookies []*http.Cookie, prefix, tableID string) string {
	name := Key(prefix, tableID)
	for _, cookie := range cookies {
		if cookie.Name != name {
			continue
		}
		decoded, err := url.QueryUnescape(cookie.Value)
		if err != nil {
			return ""
		}
		return decoded
	}
	return ""
}

// CookiePointerStore persists the active pointer in an http.CookieJar scoped
// to a single site origin.
type CookiePointerStore struct {
	jar    http.CookieJar
	origin *url.URL
	prefix string
	logger *zap.Logger
}

// NewCookiePointerStore wraps a cookie jar as a PointerStore. The origin is
// the site URL the cookies are scoped to.
func NewCookiePointerStore(jar http.CookieJar, origin *url.URL, prefix string, logger *zap.Logger) *CookiePointerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CookiePointerStore{jar: jar, origin: origin, prefix: prefix, logger: logger}
}

// ReadPointer returns the cached active perspective id, or "" when no usable
// cookie exists.
func (s *CookiePointerStore) ReadPointer(tableID string) string {
	if s.jar == nil || s.origin == nil {
		return ""
	}
	return PointerFromCookies(s.jar.Cookies(s.origin), s.prefix, tableID)
}

// WritePointer stores or clears the active perspective id. Failures are
// swallowed; the pointer is a cache, not a system of record.
func (s *CookiePointerStore) WritePointer(tableID, perspectiveID string) {
	if s.jar == nil || s.origin == nil {
		s.logger.Debug("pointer cookie write skipped", zap.String("table_id", tableID))
		return
	}
	s.jar.SetCookies(s.origin, []*http.Cookie{PointerCookie(s.prefix, tableID, perspectiveID)})
}
