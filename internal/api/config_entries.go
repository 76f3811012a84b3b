package api

import (
	"context"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/configentry"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

func init() {
	register("config_entries/get", handleConfigEntriesGet)
	register("config_entries/subscribe", handleConfigEntriesSubscribe)
	register("config_entries/subentries/list", handleConfigEntriesSubentriesList)
	register("config_entries/update", handleConfigEntriesUpdate)
	registerAsync("config_entries/delete", handleConfigEntriesDelete)
	registerAsync("config_entries/reload", handleConfigEntriesReload)
	registerAsync("config_entries/disable", handleConfigEntriesDisable)
}

// entryJSON is the wire form of a config entry. Field order is fixed so
// repeated reads of the same entry are byte-identical.
type entryJSON struct {
	CreatedAt                          float64           `json:"created_at"`
	EntryID                            string            `json:"entry_id"`
	Domain                             string            `json:"domain"`
	ModifiedAt                         float64           `json:"modified_at"`
	Title                              string            `json:"title"`
	Source                             string            `json:"source"`
	State                              configentry.State `json:"state"`
	SupportsOptions                    bool              `json:"supports_options"`
	SupportsRemoveDevice               bool              `json:"supports_remove_device"`
	SupportsUnload                     bool              `json:"supports_unload"`
	SupportsReconfigure                bool              `json:"supports_reconfigure"`
	SupportedSubentryTypes             map[string]any    `json:"supported_subentry_types"`
	PrefDisableNewEntities             bool              `json:"pref_disable_new_entities"`
	PrefDisablePolling                 bool              `json:"pref_disable_polling"`
	DisabledBy                         *string           `json:"disabled_by"`
	Reason                             *string           `json:"reason"`
	ErrorReasonTranslationKey          *string           `json:"error_reason_translation_key"`
	ErrorReasonTranslationPlaceholders map[string]any    `json:"error_reason_translation_placeholders"`
	NumSubentries                      int               `json:"num_subentries"`
}

func toEntryJSON(e *configentry.Entry) entryJSON {
	return entryJSON{
		CreatedAt:              unixSeconds(e.CreatedAt),
		EntryID:                e.EntryID,
		Domain:                 e.Domain,
		ModifiedAt:             unixSeconds(e.ModifiedAt),
		Title:                  e.Title,
		Source:                 e.Source,
		State:                  e.State,
		SupportsUnload:         true,
		SupportedSubentryTypes: map[string]any{},
		PrefDisableNewEntities: e.PrefDisableNewEntities,
		PrefDisablePolling:     e.PrefDisablePolling,
		DisabledBy:             e.DisabledBy,
		Reason:                 e.Reason,
	}
}

func entryNotFound(entryID string) error {
	return newCommandError(CodeNotFound, "Config entry %s not found", entryID)
}

func handleConfigEntriesGet(_ context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		Domain  string `json:"domain"`
		EntryID string `json:"entry_id"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}

	out := []entryJSON{}
	for _, e := range c.srv.hub.ConfigEntries.Entries(req.Domain) {
		if req.EntryID != "" && e.EntryID != req.EntryID {
			continue
		}
		out = append(out, toEntryJSON(e))
	}
	return out, nil
}

type entryChange struct {
	Type  *string   `json:"type"`
	Entry entryJSON `json:"entry"`
}

// entrySubscription tracks the entries a config_entries/subscribe client has
// seen so removals can still carry the full entry.
type entrySubscription struct {
	mu   sync.Mutex
	seen map[string]entryJSON
}

func handleConfigEntriesSubscribe(_ context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		TypeFilter []string `json:"type_filter"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	// Only integrations of type device, hub and service are known here.
	if len(req.TypeFilter) == 1 && req.TypeFilter[0] == "helper" {
		cmd.thenRun(func() { c.sendEvent(cmd.ID, []entryChange{}) })
		return nil, nil
	}

	id := cmd.ID
	manager := c.srv.hub.ConfigEntries
	sub := &entrySubscription{seen: make(map[string]entryJSON)}

	notify := func(entryID string, removed bool) {
		sub.mu.Lock()
		defer sub.mu.Unlock()

		var change entryChange
		if removed {
			last, ok := sub.seen[entryID]
			if !ok {
				return
			}
			delete(sub.seen, entryID)
			change = entryChange{Type: ptr("removed"), Entry: last}
		} else {
			e := manager.Get(entryID)
			if e == nil {
				return
			}
			kind := "updated"
			if _, ok := sub.seen[entryID]; !ok {
				kind = "added"
			}
			change = entryChange{Type: &kind, Entry: toEntryJSON(e)}
			sub.seen[entryID] = change.Entry
		}
		c.sendEvent(id, []entryChange{change})
	}

	cmd.thenRun(func() {
		// Hold the lock while listening and snapshotting so no change is
		// delivered ahead of the initial list.
		sub.mu.Lock()
		unsubUpdated := c.srv.hub.Bus.Listen(core.EventConfigEntriesUpdated, func(ev *core.Event) {
			entryID, _ := ev.Data["entry_id"].(string) //nolint:errcheck // missing id is skipped
			action, _ := ev.Data["action"].(string)    //nolint:errcheck // missing action means update
			notify(entryID, action == configentry.ActionRemove)
		})
		unsubState := c.srv.hub.Bus.Listen(core.EventConfigEntryStateChanged, func(ev *core.Event) {
			entryID, _ := ev.Data["entry_id"].(string) //nolint:errcheck // missing id is skipped
			notify(entryID, false)
		})
		c.subscribe(id, func() {
			unsubUpdated()
			unsubState()
		})

		initial := []entryChange{}
		for _, e := range manager.Entries("") {
			fragment := toEntryJSON(e)
			sub.seen[e.EntryID] = fragment
			initial = append(initial, entryChange{Entry: fragment})
		}
		c.sendEvent(id, initial)
		sub.mu.Unlock()
	})
	return nil, nil
}

type entryRequest struct {
	EntryID string `json:"entry_id"`
}

func decodeEntryID(cmd *command) (string, error) {
	var req entryRequest
	if err := cmd.decode(&req); err != nil {
		return "", err
	}
	if req.EntryID == "" {
		return "", requiredKey("entry_id")
	}
	return req.EntryID, nil
}

func handleConfigEntriesSubentriesList(_ context.Context, c *conn, cmd *command) (any, error) {
	entryID, err := decodeEntryID(cmd)
	if err != nil {
		return nil, err
	}
	if c.srv.hub.ConfigEntries.Get(entryID) == nil {
		return nil, entryNotFound(entryID)
	}
	return []any{}, nil
}

type restartResult struct {
	RequireRestart bool `json:"require_restart"`
}

func handleConfigEntriesDelete(ctx context.Context, c *conn, cmd *command) (any, error) {
	entryID, err := decodeEntryID(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := c.srv.hub.ConfigEntries.Remove(ctx, entryID); err != nil {
		if core.IsNotFound(err) {
			return nil, entryNotFound(entryID)
		}
		return nil, err
	}
	return restartResult{}, nil
}

func handleConfigEntriesReload(ctx context.Context, c *conn, cmd *command) (any, error) {
	entryID, err := decodeEntryID(cmd)
	if err != nil {
		return nil, err
	}
	entry, err := c.srv.hub.ConfigEntries.Reload(ctx, entryID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, entryNotFound(entryID)
		}
		return nil, err
	}
	return restartResult{RequireRestart: entry.State != configentry.StateLoaded && !entry.Disabled()}, nil
}

func handleConfigEntriesUpdate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		EntryID                string        `json:"entry_id"`
		Title                  field[string] `json:"title"`
		PrefDisableNewEntities field[bool]   `json:"pref_disable_new_entities"`
		PrefDisablePolling     field[bool]   `json:"pref_disable_polling"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.EntryID == "" {
		return nil, requiredKey("entry_id")
	}

	entry, err := c.srv.hub.ConfigEntries.Update(ctx, req.EntryID, configentry.Update{
		Title:                  optional(req.Title),
		PrefDisableNewEntities: optional(req.PrefDisableNewEntities),
		PrefDisablePolling:     optional(req.PrefDisablePolling),
	})
	if err != nil {
		if core.IsNotFound(err) {
			return nil, entryNotFound(req.EntryID)
		}
		return nil, err
	}
	return map[string]any{"config_entry": toEntryJSON(entry)}, nil
}

// handleConfigEntriesDisable sets or clears disabled_by, unloading a newly
// disabled entry and setting up a newly enabled one.
func handleConfigEntriesDisable(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		EntryID    string        `json:"entry_id"`
		DisabledBy field[string] `json:"disabled_by"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.EntryID == "" {
		return nil, requiredKey("entry_id")
	}
	if !req.DisabledBy.Set {
		return nil, requiredKey("disabled_by")
	}
	if !req.DisabledBy.Null && req.DisabledBy.Value != configentry.DisabledByUser {
		return nil, newCommandError(CodeInvalidFormat, "disabled_by must be null or %q", configentry.DisabledByUser)
	}

	manager := c.srv.hub.ConfigEntries
	entry, err := manager.Update(ctx, req.EntryID, configentry.Update{DisabledBy: clearable(req.DisabledBy)})
	if err != nil {
		if core.IsNotFound(err) {
			return nil, entryNotFound(req.EntryID)
		}
		return nil, err
	}

	switch {
	case entry.Disabled() && entry.State == configentry.StateLoaded:
		entry, err = manager.Unload(ctx, req.EntryID)
	case !entry.Disabled() && slices.Contains([]configentry.State{configentry.StateNotLoaded, configentry.StateSetupRetry}, entry.State):
		entry, err = manager.Setup(ctx, req.EntryID)
	}
	if err != nil && entry == nil {
		return nil, err
	}
	return restartResult{RequireRestart: !entry.Disabled() && entry.State != configentry.StateLoaded}, nil
}
