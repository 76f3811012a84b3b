package configentry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

// Actions reported by config_entries_updated events.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// Service names used when a domain has no registered Handler.
const (
	SetupService  = "setup_entry"
	UnloadService = "unload_entry"
)

// Handler sets up and unloads the entries of one integration domain.
type Handler interface {
	SetupEntry(ctx context.Context, entry *Entry) error
	UnloadEntry(ctx context.Context, entry *Entry) error
}

// HandlerFuncs adapts plain functions to Handler. A nil func succeeds.
type HandlerFuncs struct {
	Setup  func(ctx context.Context, entry *Entry) error
	Unload func(ctx context.Context, entry *Entry) error
}

// SetupEntry implements Handler.
func (h HandlerFuncs) SetupEntry(ctx context.Context, entry *Entry) error {
	if h.Setup == nil {
		return nil
	}
	return h.Setup(ctx, entry)
}

// UnloadEntry implements Handler.
func (h HandlerFuncs) UnloadEntry(ctx context.Context, entry *Entry) error {
	if h.Unload == nil {
		return nil
	}
	return h.Unload(ctx, entry)
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns every config entry and drives its lifecycle.
//
// Setup, Unload, Reload and Remove hold a per-entry lock for their whole
// duration, so at most one lifecycle operation runs for a given entry while
// different entries proceed concurrently. The manager lock itself is only
// held for map access, never across handler calls.
type Manager struct {
	bus      *bus.Bus
	services *service.Registry
	repo     Repository

	mu       sync.RWMutex
	entries  map[string]*Entry
	order    []string
	handlers map[string]Handler

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	logger Logger
}

// NewManager creates a manager. repo may be nil for a purely in-memory manager.
func NewManager(b *bus.Bus, services *service.Registry, repo Repository) *Manager {
	return &Manager{
		bus:      b,
		services: services,
		repo:     repo,
		entries:  make(map[string]*Entry),
		handlers: make(map[string]Handler),
		locks:    make(map[string]*sync.Mutex),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// RegisterHandler installs the setup/unload handler for domain.
func (m *Manager) RegisterHandler(domain string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[domain] = h
}

// Load reads stored entries into memory. Existing in-memory entries with
// the same id are replaced.
func (m *Manager) Load(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	stored, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading config entries: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range stored {
		if _, exists := m.entries[e.EntryID]; !exists {
			m.order = append(m.order, e.EntryID)
		}
		m.entries[e.EntryID] = e
	}
	m.logger.Info("config entries loaded", "count", len(stored))
	return nil
}

// Add registers a new entry in not_loaded. A missing entry id is generated
// and defaults are filled in. The stored copy is returned.
func (m *Manager) Add(ctx context.Context, e *Entry) (*Entry, error) {
	if e == nil || !core.ValidDomain(e.Domain) {
		return nil, fmt.Errorf("%w: domain must be a valid domain name", ErrInvalidEntry)
	}

	entry := e.Clone()
	if entry.EntryID == "" {
		entry.EntryID = core.NewID()
	}
	if entry.Source == "" {
		entry.Source = SourceUser
	}
	if entry.Version == 0 {
		entry.Version = 1
	}
	if entry.MinorVersion == 0 {
		entry.MinorVersion = 1
	}
	entry.State = StateNotLoaded
	entry.Reason = nil
	now := core.Now()
	entry.CreatedAt = now
	entry.ModifiedAt = now

	m.mu.Lock()
	if _, exists := m.entries[entry.EntryID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrEntryExists, entry.EntryID)
	}
	if entry.UniqueID != nil && m.uniqueIDTaken(entry.Domain, *entry.UniqueID) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyConfigured, entry.Domain, *entry.UniqueID)
	}
	if m.repo != nil {
		if err := m.repo.Save(ctx, entry); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.entries[entry.EntryID] = entry
	m.order = append(m.order, entry.EntryID)
	m.enqueueUpdated(ActionCreate, entry.EntryID)
	out := entry.Clone()
	m.mu.Unlock()

	m.bus.Flush()
	m.logger.Info("config entry added", "entry_id", out.EntryID, "domain", out.Domain)
	return out, nil
}

func (m *Manager) uniqueIDTaken(domain, uniqueID string) bool {
	for _, e := range m.entries {
		if e.Domain == domain && e.UniqueID != nil && *e.UniqueID == uniqueID {
			return true
		}
	}
	return false
}

// Get returns a copy of the entry, or nil if absent.
func (m *Manager) Get(entryID string) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[entryID].Clone()
}

// Entries returns copies of the entries in domain, or all entries when
// domain is empty, in insertion order.
func (m *Manager) Entries(domain string) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		if domain == "" || e.Domain == domain {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Domains returns the sorted set of domains with at least one entry.
func (m *Manager) Domains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, e := range m.entries {
		set[e.Domain] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Update describes a partial change to an entry's configuration.
type Update struct {
	Title                  *string
	Data                   map[string]any
	Options                map[string]any
	UniqueID               *string
	PrefDisableNewEntities *bool
	PrefDisablePolling     *bool
	// DisabledBy sets the disabler; a pointer to "" re-enables the entry.
	DisabledBy *string
}

// Update applies u to the entry and persists it.
func (m *Manager) Update(ctx context.Context, entryID string, u Update) (*Entry, error) {
	m.mu.Lock()
	current, ok := m.entries[entryID]
	if !ok {
		m.mu.Unlock()
		return nil, &core.NotFoundError{Kind: "config entry", ID: entryID}
	}

	next := current.Clone()
	if u.Title != nil {
		next.Title = *u.Title
	}
	if u.Data != nil {
		next.Data = cloneMap(u.Data)
	}
	if u.Options != nil {
		next.Options = cloneMap(u.Options)
	}
	if u.UniqueID != nil {
		next.UniqueID = clonePtr(u.UniqueID)
	}
	if u.PrefDisableNewEntities != nil {
		next.PrefDisableNewEntities = *u.PrefDisableNewEntities
	}
	if u.PrefDisablePolling != nil {
		next.PrefDisablePolling = *u.PrefDisablePolling
	}
	if u.DisabledBy != nil {
		if *u.DisabledBy == "" {
			next.DisabledBy = nil
		} else {
			next.DisabledBy = clonePtr(u.DisabledBy)
		}
	}
	next.ModifiedAt = core.Now()

	if m.repo != nil {
		if err := m.repo.Save(ctx, next); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.entries[entryID] = next
	m.enqueueUpdated(ActionUpdate, entryID)
	out := next.Clone()
	m.mu.Unlock()

	m.bus.Flush()
	return out, nil
}

// Setup drives the entry from not_loaded (or a retryable error state)
// through setup_in_progress to a settled state. Handler failures are
// recorded in the entry's state and reason, not returned; the returned
// error covers lookups and illegal transitions.
func (m *Manager) Setup(ctx context.Context, entryID string) (*Entry, error) {
	lock := m.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	return m.setupLocked(ctx, entryID)
}

func (m *Manager) setupLocked(ctx context.Context, entryID string) (*Entry, error) {
	entry := m.Get(entryID)
	if entry == nil {
		return nil, &core.NotFoundError{Kind: "config entry", ID: entryID}
	}
	if entry.Disabled() {
		return entry, fmt.Errorf("%w: %s", ErrEntryDisabled, entryID)
	}

	if err := m.transition(entryID, StateSetupInProgress, nil); err != nil {
		return m.Get(entryID), err
	}

	err := m.runSetup(ctx, entry)
	next, reason := StateLoaded, (*string)(nil)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotReady):
		next = StateSetupRetry
	case errors.Is(err, ErrMigration):
		next = StateMigrationError
	default:
		next = StateSetupError
	}
	if err != nil {
		msg := err.Error()
		reason = &msg
		m.logger.Warn("config entry setup failed", "entry_id", entryID, "domain", entry.Domain, "state", next, "error", err)
	}

	if terr := m.transition(entryID, next, reason); terr != nil {
		return m.Get(entryID), terr
	}
	return m.Get(entryID), nil
}

func (m *Manager) runSetup(ctx context.Context, entry *Entry) error {
	if h := m.handler(entry.Domain); h != nil {
		return callSafely(func() error { return h.SetupEntry(ctx, entry) })
	}
	return m.callLifecycleService(ctx, entry, SetupService)
}

// Unload moves a loaded entry back to not_loaded, or to failed_unload when
// the handler fails. Entries in not_loaded are returned unchanged; entries
// in setup_error or setup_retry move to not_loaded without calling the
// handler.
func (m *Manager) Unload(ctx context.Context, entryID string) (*Entry, error) {
	lock := m.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	return m.unloadLocked(ctx, entryID)
}

func (m *Manager) unloadLocked(ctx context.Context, entryID string) (*Entry, error) {
	entry := m.Get(entryID)
	if entry == nil {
		return nil, &core.NotFoundError{Kind: "config entry", ID: entryID}
	}

	switch entry.State {
	case StateNotLoaded:
		return entry, nil
	case StateSetupError, StateSetupRetry:
		if err := m.transition(entryID, StateNotLoaded, nil); err != nil {
			return m.Get(entryID), err
		}
		return m.Get(entryID), nil
	case StateLoaded:
	default:
		return entry, &core.InvalidStateTransitionError{From: string(entry.State), To: string(StateNotLoaded)}
	}

	err := m.runUnload(ctx, entry)
	if err != nil {
		msg := err.Error()
		m.logger.Error("config entry unload failed", "entry_id", entryID, "domain", entry.Domain, "error", err)
		if terr := m.transition(entryID, StateFailedUnload, &msg); terr != nil {
			return m.Get(entryID), terr
		}
		return m.Get(entryID), nil
	}

	if terr := m.transition(entryID, StateNotLoaded, nil); terr != nil {
		return m.Get(entryID), terr
	}
	return m.Get(entryID), nil
}

func (m *Manager) runUnload(ctx context.Context, entry *Entry) error {
	if h := m.handler(entry.Domain); h != nil {
		return callSafely(func() error { return h.UnloadEntry(ctx, entry) })
	}
	return m.callLifecycleService(ctx, entry, UnloadService)
}

// Reload unloads a loaded entry and sets it up again. Entries in a
// retryable state are set up directly.
func (m *Manager) Reload(ctx context.Context, entryID string) (*Entry, error) {
	lock := m.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	entry := m.Get(entryID)
	if entry == nil {
		return nil, &core.NotFoundError{Kind: "config entry", ID: entryID}
	}

	if entry.State == StateLoaded {
		unloaded, err := m.unloadLocked(ctx, entryID)
		if err != nil {
			return unloaded, err
		}
		if unloaded.State != StateNotLoaded {
			return unloaded, nil
		}
	}
	if entry.Disabled() {
		return m.Get(entryID), nil
	}
	return m.setupLocked(ctx, entryID)
}

// Remove unloads the entry if loaded, deletes it and returns the removed entry.
func (m *Manager) Remove(ctx context.Context, entryID string) (*Entry, error) {
	lock := m.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	entry := m.Get(entryID)
	if entry == nil {
		return nil, &core.NotFoundError{Kind: "config entry", ID: entryID}
	}
	if entry.State == StateLoaded {
		if _, err := m.unloadLocked(ctx, entryID); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	removed, ok := m.entries[entryID]
	if !ok {
		m.mu.Unlock()
		return nil, &core.NotFoundError{Kind: "config entry", ID: entryID}
	}
	if m.repo != nil {
		if err := m.repo.Delete(ctx, entryID); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	delete(m.entries, entryID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == entryID })
	m.enqueueUpdated(ActionRemove, entryID)
	m.mu.Unlock()

	m.bus.Flush()

	m.locksMu.Lock()
	delete(m.locks, entryID)
	m.locksMu.Unlock()

	m.logger.Info("config entry removed", "entry_id", entryID, "domain", removed.Domain)
	return removed.Clone(), nil
}

// SetupAll sets up every enabled entry in not_loaded concurrently and waits
// for all of them to settle.
func (m *Manager) SetupAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range m.Entries("") {
		if e.Disabled() || e.State != StateNotLoaded {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := m.Setup(ctx, id); err != nil {
				m.logger.Warn("config entry setup skipped", "entry_id", id, "error", err)
			}
		}(e.EntryID)
	}
	wg.Wait()
}

// UnloadAll unloads every loaded entry, used at shutdown.
func (m *Manager) UnloadAll(ctx context.Context) {
	for _, e := range m.Entries("") {
		if e.State != StateLoaded {
			continue
		}
		if _, err := m.Unload(ctx, e.EntryID); err != nil {
			m.logger.Warn("config entry unload failed", "entry_id", e.EntryID, "error", err)
		}
	}
}

// transition validates and applies a state move, firing
// config_entry_state_changed. A rejected move leaves the state unchanged.
func (m *Manager) transition(entryID string, to State, reason *string) error {
	m.mu.Lock()
	e, ok := m.entries[entryID]
	if !ok {
		m.mu.Unlock()
		return &core.NotFoundError{Kind: "config entry", ID: entryID}
	}
	from := e.State
	if err := checkTransition(from, to); err != nil {
		m.mu.Unlock()
		return err
	}

	next := e.Clone()
	next.State = to
	next.Reason = clonePtr(reason)
	m.entries[entryID] = next

	var reasonValue any
	if reason != nil {
		reasonValue = *reason
	}
	m.bus.Enqueue(core.NewEvent(core.EventConfigEntryStateChanged, map[string]any{
		"entry_id": entryID,
		"domain":   next.Domain,
		"from":     string(from),
		"to":       string(to),
		"reason":   reasonValue,
	}, nil))
	m.mu.Unlock()

	m.bus.Flush()
	m.logger.Debug("config entry state changed", "entry_id", entryID, "from", from, "to", to)
	return nil
}

func (m *Manager) enqueueUpdated(action, entryID string) {
	m.bus.Enqueue(core.NewEvent(core.EventConfigEntriesUpdated, map[string]any{
		"action":   action,
		"entry_id": entryID,
	}, nil))
}

func (m *Manager) handler(domain string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[domain]
}

func (m *Manager) callLifecycleService(ctx context.Context, entry *Entry, svc string) error {
	if m.services == nil || !m.services.HasService(entry.Domain, svc) {
		return nil
	}
	call := core.NewServiceCall(entry.Domain, svc, map[string]any{"entry_id": entry.EntryID})
	_, err := m.services.Call(ctx, call)
	return err
}

func (m *Manager) entryLock(entryID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	l, ok := m.locks[entryID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[entryID] = l
	}
	return l
}

func callSafely(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("lifecycle handler panicked: %v", p)
		}
	}()
	return fn()
}
