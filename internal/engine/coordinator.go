package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vantagehq/vantage/backend/internal/auth"
	"github.com/vantagehq/vantage/backend/internal/localcache"
	"github.com/vantagehq/vantage/backend/internal/perspective"
	"github.com/vantagehq/vantage/backend/internal/settings"
	"go.uber.org/zap"
)

const defaultSourceTTL = 5 * time.Minute

var (
	errMissingTableID = errors.New("engine: table id is required")
	errMissingClient  = errors.New("engine: api client is required")
	errMissingView    = errors.New("engine: view state is required")

	// ErrUnknownPerspective indicates an apply targeted an id the current
	// source does not contain.
	ErrUnknownPerspective = errors.New("engine: unknown perspective id")
	// ErrCoordinatorClosed indicates the owning view was torn down.
	ErrCoordinatorClosed = errors.New("engine: coordinator closed")

	noOpLogger = zap.NewNop()
)

// CoordinatorConfig wires a coordinator to its collaborators. Pointers and
// Snapshots default to in-memory stores so a headless embedding still
// observes cache semantics.
type CoordinatorConfig struct {
	TableID   string
	Client    APIClient
	View      *ViewState
	Pointers  localcache.PointerStore
	Snapshots localcache.SnapshotStore
	Logger    *zap.Logger
	Clock     func() time.Time
	// SourceTTL is the read-mostly stale window for the cached perspective
	// list; mutations invalidate it explicitly. Defaults to five minutes.
	SourceTTL time.Duration
	// OnWarning receives the once-only, non-blocking message surfaced when
	// the perspectives endpoint turns out to be missing.
	OnWarning func(message string)
	// RefreshFunc, when set, is invoked (debounced) after every successful
	// mutation so the embedding view can re-render server-derived chrome.
	RefreshFunc  func()
	RefreshDelay time.Duration
}

// Coordinator serializes perspective mutations for a single table view,
// keeps the device caches in step with server state, and runs the one-shot
// initial resolution. Each live table view owns exactly one coordinator.
type Coordinator struct {
	tableID   string
	client    APIClient
	view      *ViewState
	pointers  localcache.PointerStore
	snapshots localcache.SnapshotStore
	logger    *zap.Logger
	clock     func() time.Time
	sourceTTL time.Duration
	onWarning func(string)
	refresh   *Debouncer

	queue fifoQueue
	gate  resolutionGate

	mu              sync.Mutex
	activeID        string
	missingEndpoint bool
	warned          bool
	closed          bool
	inFlight        map[string]struct{}
	cachedSource    *perspective.Source
	cachedAt        time.Time
}

// NewCoordinator validates the configuration and builds a coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if strings.TrimSpace(cfg.TableID) == "" {
		return nil, errMissingTableID
	}
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.View == nil {
		return nil, errMissingView
	}

	pointers := cfg.Pointers
	if pointers == nil {
		pointers = localcache.NewMemoryPointerStore()
	}
	snapshots := cfg.Snapshots
	if snapshots == nil {
		snapshots = localcache.NewMemorySnapshotStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sourceTTL := cfg.SourceTTL
	if sourceTTL <= 0 {
		sourceTTL = defaultSourceTTL
	}

	coordinator := &Coordinator{
		tableID:   cfg.TableID,
		client:    cfg.Client,
		view:      cfg.View,
		pointers:  pointers,
		snapshots: snapshots,
		logger:    logger,
		clock:     clock,
		sourceTTL: sourceTTL,
		onWarning: cfg.OnWarning,
		inFlight:  map[string]struct{}{},
	}
	if cfg.RefreshFunc != nil {
		coordinator.refresh = NewDebouncer(cfg.RefreshDelay, cfg.RefreshFunc)
	}
	return coordinator, nil
}

// Bootstrap seeds the view from the device snapshot, fetches the server
// source, and runs the one-shot initial resolution. A missing endpoint
// disables the perspectives feature and is not an error; a transport failure
// leaves the snapshot-seeded state applied, keeps the resolution gate armed
// for a retry, and is returned to the caller.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	if c.isClosed() {
		return ErrCoordinatorClosed
	}

	snapshot := c.snapshots.ReadSnapshot(c.tableID)
	if snapshot != nil && !snapshot.Settings.IsEmpty() && c.gate.State() == ResolutionUnresolved {
		c.view.ApplySettings(snapshot.Settings)
	}

	source, err := c.Source(ctx)
	if errors.Is(err, ErrEndpointMissing) {
		return nil
	}
	if err != nil {
		c.logger.Warn("perspective source fetch failed",
			zap.String("operation", "engine.bootstrap"),
			zap.String("table_id", c.tableID),
			zap.Error(err))
		return fmt.Errorf("engine: bootstrap %q: %w", c.tableID, err)
	}

	if !c.gate.TryAcquire() {
		return nil
	}

	snapshotID := ""
	if snapshot != nil {
		snapshotID = snapshot.PerspectiveID
	}
	resolution, ok := ResolveInitial(source, c.Active(), c.pointers.ReadPointer(c.tableID), snapshotID)
	if !ok {
		// No match in the precedence chain: keep whatever settings were
		// already seeded rather than inventing empty ones.
		return nil
	}
	c.activate(resolution.PerspectiveID(), resolution)
	return nil
}

// Source returns the perspective source, served from the stale-window cache
// when fresh. A 404 latches missingEndpoint and surfaces the once-only
// warning.
func (c *Coordinator) Source(ctx context.Context) (perspective.Source, error) {
	c.mu.Lock()
	if c.missingEndpoint {
		c.mu.Unlock()
		return perspective.Source{}, ErrEndpointMissing
	}
	if c.cachedSource != nil && c.clock().Sub(c.cachedAt) < c.sourceTTL {
		cached := *c.cachedSource
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	source, err := c.client.FetchSource(ctx, c.tableID)
	if err != nil {
		if errors.Is(err, ErrEndpointMissing) {
			c.markEndpointMissing()
		}
		return perspective.Source{}, err
	}

	c.mu.Lock()
	c.cachedSource = &source
	c.cachedAt = c.clock()
	c.mu.Unlock()
	return source, nil
}

// InvalidateSource drops the cached perspective list so the next read is
// fresh.
func (c *Coordinator) InvalidateSource() {
	c.mu.Lock()
	c.cachedSource = nil
	c.mu.Unlock()
}

// Apply activates a perspective from the current source by id, replacing the
// live view state and updating the device caches.
func (c *Coordinator) Apply(ctx context.Context, perspectiveID string) error {
	if c.isClosed() {
		return ErrCoordinatorClosed
	}
	source, err := c.Source(ctx)
	if err != nil {
		return err
	}
	resolution, ok := resolveID(source, perspectiveID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPerspective, perspectiveID)
	}
	c.activate(resolution.PerspectiveID(), resolution)
	return nil
}

// SaveOptions carries the user-chosen naming and sharing flags for a save;
// the settings themselves are always read from the live view state at
// execution time.
type SaveOptions struct {
	PerspectiveID  string
	Name           string
	IsDefault      bool
	ApplyToRoles   []string
	SetRoleDefault bool
}

// Save persists the current view settings as a perspective. Saves are
// serialized per table: a save submitted while another is in flight waits its
// turn, so rapid clicks can never interleave at the server. On failure the
// applied view state is left untouched; only persistence is lost.
func (c *Coordinator) Save(ctx context.Context, options SaveOptions) (perspective.Perspective, error) {
	if c.isClosed() {
		return perspective.Perspective{}, ErrCoordinatorClosed
	}
	if c.MissingEndpoint() {
		return perspective.Perspective{}, ErrEndpointMissing
	}

	var saved perspective.Perspective
	var err error
	c.queue.Do(func() {
		request := perspective.SaveRequest{
			PerspectiveID:  options.PerspectiveID,
			Name:           options.Name,
			Settings:       c.view.CurrentSettings(),
			IsDefault:      options.IsDefault,
			ApplyToRoles:   options.ApplyToRoles,
			SetRoleDefault: options.SetRoleDefault,
		}
		saved, err = c.client.SavePerspective(ctx, c.tableID, request)
		if err != nil {
			if errors.Is(err, ErrEndpointMissing) {
				c.markEndpointMissing()
			}
			return
		}
		if c.isClosed() {
			return
		}
		c.setActive(saved.ID)
		c.writeCaches(saved.ID, saved.Settings)
		c.InvalidateSource()
		c.refresh.Trigger()
	})
	if err != nil {
		c.logger.Error("perspective save failed",
			zap.String("operation", "engine.save"),
			zap.String("table_id", c.tableID),
			zap.Error(err))
		return perspective.Perspective{}, err
	}
	return saved, nil
}

// Delete removes one perspective. While the call is in flight the id is
// reported by InFlight so the UI can disable its affordances. Deleting the
// active perspective clears the device caches and rearms the one-shot
// resolution so a future reload resolves anew.
func (c *Coordinator) Delete(ctx context.Context, perspectiveID string) error {
	if c.isClosed() {
		return ErrCoordinatorClosed
	}
	if c.MissingEndpoint() {
		return ErrEndpointMissing
	}

	c.markInFlight(perspectiveID)
	defer c.clearInFlight(perspectiveID)

	var err error
	c.queue.Do(func() {
		err = c.client.DeletePerspective(ctx, c.tableID, perspectiveID)
		if err != nil {
			if errors.Is(err, ErrEndpointMissing) {
				c.markEndpointMissing()
			}
			return
		}
		if c.isClosed() {
			return
		}
		c.removeFromCachedSource(perspectiveID)
		if c.Active() == perspectiveID {
			c.clearActive()
		}
		c.refresh.Trigger()
	})
	if err != nil {
		c.logger.Error("perspective delete failed",
			zap.String("operation", "engine.delete"),
			zap.String("table_id", c.tableID),
			zap.String("perspective_id", perspectiveID),
			zap.Error(err))
	}
	return err
}

// ClearRoleDefault removes the default perspective shared with a role. When
// the active perspective is that role default the device caches are cleared
// exactly as on delete.
func (c *Coordinator) ClearRoleDefault(ctx context.Context, roleID string) error {
	if c.isClosed() {
		return ErrCoordinatorClosed
	}
	if c.MissingEndpoint() {
		return ErrEndpointMissing
	}

	c.markInFlight(roleID)
	defer c.clearInFlight(roleID)

	activeRoleDefaultID := c.activeRoleDefault(ctx, roleID)

	var err error
	c.queue.Do(func() {
		err = c.client.ClearRoleDefault(ctx, c.tableID, roleID)
		if err != nil {
			if errors.Is(err, ErrEndpointMissing) {
				c.markEndpointMissing()
			}
			return
		}
		if c.isClosed() {
			return
		}
		c.InvalidateSource()
		if activeRoleDefaultID != "" && c.Active() == activeRoleDefaultID {
			c.clearActive()
		}
		c.refresh.Trigger()
	})
	if err != nil {
		c.logger.Error("role default clear failed",
			zap.String("operation", "engine.clear_role_default"),
			zap.String("table_id", c.tableID),
			zap.String("role_id", roleID),
			zap.Error(err))
	}
	return err
}

// FeatureGranted asks the feature-check endpoint whether the session holds a
// feature, honoring exact, universal, and prefix wildcard grants.
func (c *Coordinator) FeatureGranted(ctx context.Context, feature string) (bool, error) {
	granted, err := c.client.CheckFeatures(ctx, []string{feature})
	if err != nil {
		return false, err
	}
	return auth.MatchFeature(granted, feature), nil
}

// MissingEndpoint reports whether the perspectives API answered 404 at any
// point in this session.
func (c *Coordinator) MissingEndpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missingEndpoint
}

// InFlight reports whether a delete or clear for the given id is currently
// executing.
func (c *Coordinator) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inFlight[id]
	return busy
}

// Active returns the id of the currently applied perspective, or "".
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// ResolutionState exposes the one-shot gate state for tests and diagnostics.
func (c *Coordinator) ResolutionState() ResolutionState {
	return c.gate.State()
}

// Close marks the coordinator torn down. Jobs already queued still run their
// network call but stop consuming results: no view state, cache, or refresh
// updates happen after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.refresh.Stop()
}

func (c *Coordinator) activate(perspectiveID string, resolution Resolution) {
	c.view.ApplySettings(resolution.Settings)
	c.setActive(perspectiveID)
	c.writeCaches(perspectiveID, resolution.Settings)
}

func (c *Coordinator) setActive(perspectiveID string) {
	c.mu.Lock()
	c.activeID = perspectiveID
	c.mu.Unlock()
}

// writeCaches updates the device pointer and snapshot. Both writes are
// best-effort: the stores swallow storage failures and the coordinator never
// inspects an outcome.
func (c *Coordinator) writeCaches(perspectiveID string, applied *settings.PerspectiveSettings) {
	c.pointers.WritePointer(c.tableID, perspectiveID)
	c.snapshots.WriteSnapshot(c.tableID, &localcache.Snapshot{
		PerspectiveID: perspectiveID,
		Settings:      applied.Clone(),
		UpdatedAt:     c.clock().UTC(),
	})
}

func (c *Coordinator) clearActive() {
	c.setActive("")
	c.pointers.WritePointer(c.tableID, "")
	c.snapshots.WriteSnapshot(c.tableID, nil)
	c.gate.Reset()
}

// removeFromCachedSource filters into fresh backing storage: Source hands out
// shallow copies of the cached value, so compacting the old slice in place
// would corrupt lists callers already hold.
func (c *Coordinator) removeFromCachedSource(perspectiveID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedSource == nil {
		return
	}
	filtered := make([]perspective.Perspective, 0, len(c.cachedSource.Perspectives))
	for _, entry := range c.cachedSource.Perspectives {
		if entry.ID != perspectiveID {
			filtered = append(filtered, entry)
		}
	}
	c.cachedSource.Perspectives = filtered
	if c.cachedSource.DefaultPerspectiveID == perspectiveID {
		c.cachedSource.DefaultPerspectiveID = ""
	}
}

// activeRoleDefault finds the default perspective for a role so ClearRoleDefault
// can tell whether the active perspective is about to be removed. A prior
// mutation may have invalidated the cache, so an empty cache triggers a fresh
// fetch instead of skipping the check.
func (c *Coordinator) activeRoleDefault(ctx context.Context, roleID string) string {
	c.mu.Lock()
	cached := c.cachedSource
	c.mu.Unlock()
	if cached == nil {
		source, err := c.Source(ctx)
		if err != nil {
			return ""
		}
		cached = &source
	}
	for _, entry := range cached.RolePerspectives {
		if entry.RoleID == roleID && entry.IsDefault {
			return entry.ID
		}
	}
	return ""
}

func (c *Coordinator) markEndpointMissing() {
	c.mu.Lock()
	alreadyWarned := c.warned
	c.missingEndpoint = true
	c.warned = true
	c.mu.Unlock()

	if !alreadyWarned {
		c.logger.Warn("perspectives endpoint missing, feature disabled",
			zap.String("operation", "engine.endpoint_check"),
			zap.String("table_id", c.tableID))
		if c.onWarning != nil {
			c.onWarning("saved table views are unavailable on this server")
		}
	}
}

func (c *Coordinator) markInFlight(id string) {
	c.mu.Lock()
	c.inFlight[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Coordinator) clearInFlight(id string) {
	c.mu.Lock()
	delete(c.inFlight, id)
	c.mu.Unlock()
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
