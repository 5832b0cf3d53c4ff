package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vantagehq/vantage/backend/internal/auth"
	"github.com/vantagehq/vantage/backend/internal/perspective"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "vantage_user_id"
	userRolesContextKey = "vantage_user_roles"

	// featureApplyToRoles gates sharing a perspective with a role and
	// clearing a role default.
	featureApplyToRoles = "perspectives.apply_to_roles"
)

var (
	errMissingSessionValidator   = errors.New("session validator dependency required")
	errMissingIdentityResolver   = errors.New("identity resolver dependency required")
	errMissingPerspectiveService = errors.New("perspective service dependency required")
)

// SessionValidator authenticates an incoming request and returns its claims.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// IdentityResolver maps session claims onto a canonical user id.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

// PerspectiveService is the storage contract the handlers depend on.
type PerspectiveService interface {
	ListSource(ctx context.Context, tableID, userID string, roleIDs []string) (perspective.Source, error)
	Save(ctx context.Context, tableID, userID string, request perspective.SaveRequest) (perspective.Perspective, error)
	Delete(ctx context.Context, tableID, userID, perspectiveID string) error
	ClearRoleDefault(ctx context.Context, tableID, roleID string) error
}

type Dependencies struct {
	Sessions     SessionValidator
	Identities   IdentityResolver
	Perspectives PerspectiveService
	Grants       auth.FeatureGrants
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.Perspectives == nil {
		return nil, errMissingPerspectiveService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:     deps.Sessions,
		identities:   deps.Identities,
		perspectives: deps.Perspectives,
		grants:       deps.Grants,
		logger:       logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/feature-check", handler.handleFeatureCheck)
	protected.GET("/perspectives/:tableId", handler.handleListSource)
	protected.POST("/perspectives/:tableId", handler.handleSavePerspective)
	protected.DELETE("/perspectives/:tableId/roles/:roleId", handler.handleClearRoleDefault)
	protected.DELETE("/perspectives/:tableId/:perspectiveId", handler.handleDeletePerspective)

	return router, nil
}

type httpHandler struct {
	sessions     SessionValidator
	identities   IdentityResolver
	perspectives PerspectiveService
	grants       auth.FeatureGrants
	logger       *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.identities.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Set(userRolesContextKey, claims.UserRoles)
	c.Next()
}

func (h *httpHandler) sessionRoles(c *gin.Context) []string {
	if value, ok := c.Get(userRolesContextKey); ok {
		if roles, ok := value.([]string); ok {
			return roles
		}
	}
	return nil
}

func (h *httpHandler) sessionAllows(c *gin.Context, feature string) bool {
	return auth.MatchFeature(h.grants.GrantedFor(h.sessionRoles(c)), feature)
}

func (h *httpHandler) handleListSource(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	tableID := strings.TrimSpace(c.Param("tableId"))
	if userID == "" || tableID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	source, err := h.perspectives.ListSource(c.Request.Context(), tableID, userID, h.sessionRoles(c))
	if err != nil {
		h.logger.Error("failed to list perspective source", zap.Error(err), zap.String("table_id", tableID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	source.CanApplyToRoles = h.sessionAllows(c, featureApplyToRoles)

	c.JSON(http.StatusOK, source)
}

type savePerspectiveResponse struct {
	Perspective perspective.Perspective `json:"perspective"`
}

func (h *httpHandler) handleSavePerspective(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	tableID := strings.TrimSpace(c.Param("tableId"))
	if userID == "" || tableID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var request perspective.SaveRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if (len(request.ApplyToRoles) > 0 || request.SetRoleDefault) && !h.sessionAllows(c, featureApplyToRoles) {
		c.JSON(http.StatusForbidden, gin.H{"error": "role_sharing_not_granted"})
		return
	}

	saved, err := h.perspectives.Save(c.Request.Context(), tableID, userID, request)
	if err != nil {
		h.logger.Error("failed to save perspective", zap.Error(err), zap.String("table_id", tableID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}

	c.JSON(http.StatusOK, savePerspectiveResponse{Perspective: saved})
}

// handleDeletePerspective never answers 404: clients reserve that status for
// an uninstalled perspectives API. Deleting an unknown id reports deleted=false.
func (h *httpHandler) handleDeletePerspective(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	tableID := strings.TrimSpace(c.Param("tableId"))
	perspectiveID := strings.TrimSpace(c.Param("perspectiveId"))
	if userID == "" || tableID == "" || perspectiveID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.perspectives.Delete(c.Request.Context(), tableID, userID, perspectiveID)
	if errors.Is(err, perspective.ErrPerspectiveNotFound) {
		c.JSON(http.StatusOK, gin.H{"deleted": false})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete perspective", zap.Error(err),
			zap.String("table_id", tableID),
			zap.String("perspective_id", perspectiveID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleClearRoleDefault(c *gin.Context) {
	tableID := strings.TrimSpace(c.Param("tableId"))
	roleID := strings.TrimSpace(c.Param("roleId"))
	if tableID == "" || roleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.sessionAllows(c, featureApplyToRoles) {
		c.JSON(http.StatusForbidden, gin.H{"error": "role_sharing_not_granted"})
		return
	}

	if err := h.perspectives.ClearRoleDefault(c.Request.Context(), tableID, roleID); err != nil {
		h.logger.Error("failed to clear role default", zap.Error(err),
			zap.String("table_id", tableID),
			zap.String("role_id", roleID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear_role_default_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

type featureCheckRequest struct {
	Features []string `json:"features"`
}

type featureCheckResponse struct {
	Granted []string `json:"granted"`
}

// handleFeatureCheck returns every grant pattern the session's roles carry.
// Pattern matching against the requested features happens client-side.
func (h *httpHandler) handleFeatureCheck(c *gin.Context) {
	var request featureCheckRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	granted := h.grants.GrantedFor(h.sessionRoles(c))
	if granted == nil {
		granted = []string{}
	}
	c.JSON(http.StatusOK, featureCheckResponse{Granted: granted})
}
