package api

import (
	"context"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

func init() {
	register("subscribe_entities", handleSubscribeEntities)
	register("auth/current_user", handleCurrentUser)
}

// Keys of the compressed state format sent by subscribe_entities.
const (
	entitiesAdded   = "a"
	entitiesChanged = "c"
	entitiesRemoved = "r"

	compressedState       = "s"
	compressedAttributes  = "a"
	compressedContext     = "c"
	compressedLastChanged = "lc"
	compressedLastUpdated = "lu"

	diffAdditions = "+"
	diffRemovals  = "-"
)

// handleSubscribeEntities streams states in compressed form: one event with
// every matching state after the result, then one event per change.
func handleSubscribeEntities(_ context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		EntityIDs stringList `json:"entity_ids"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	var wanted map[string]struct{}
	if req.EntityIDs != nil {
		wanted = make(map[string]struct{}, len(req.EntityIDs))
		for _, id := range req.EntityIDs {
			wanted[id] = struct{}{}
		}
	}
	match := func(entityID string) bool {
		if wanted == nil {
			return true
		}
		_, ok := wanted[entityID]
		return ok
	}

	// Changes delivered before the initial event are already part of the
	// snapshot and are dropped.
	var (
		mu    sync.Mutex
		ready bool
	)
	id := cmd.ID
	unsub := c.srv.hub.Bus.ListenFiltered(core.EventStateChanged, func(ev *core.Event) bool {
		entityID, _ := ev.Data["entity_id"].(string)
		return match(entityID)
	}, func(ev *core.Event) {
		mu.Lock()
		defer mu.Unlock()
		if !ready {
			return
		}
		if diff := stateDiff(ev); diff != nil {
			c.sendEvent(id, diff)
		}
	})
	c.subscribe(id, unsub)

	cmd.thenRun(func() {
		mu.Lock()
		defer mu.Unlock()
		added := make(map[string]any)
		for _, st := range c.srv.hub.States.All("") {
			if match(st.EntityID) {
				added[st.EntityID] = compressState(st)
			}
		}
		c.sendEvent(id, map[string]any{entitiesAdded: added})
		ready = true
	})
	return nil, nil
}

// stateDiff builds the compressed event for one state_changed event.
func stateDiff(ev *core.Event) map[string]any {
	entityID, _ := ev.Data["entity_id"].(string)
	oldState, _ := ev.Data["old_state"].(*core.State)
	newState, _ := ev.Data["new_state"].(*core.State)

	switch {
	case newState == nil:
		return map[string]any{entitiesRemoved: []string{entityID}}
	case oldState == nil:
		return map[string]any{entitiesAdded: map[string]any{entityID: compressState(newState)}}
	}

	additions := make(map[string]any)
	if oldState.State != newState.State {
		additions[compressedState] = newState.State
	}
	if !reflect.DeepEqual(oldState.Context, newState.Context) {
		additions[compressedContext] = compressContext(newState.Context)
	}
	if !oldState.LastChanged.Equal(newState.LastChanged.Time) {
		additions[compressedLastChanged] = unixSeconds(newState.LastChanged)
	} else if !oldState.LastUpdated.Equal(newState.LastUpdated.Time) {
		additions[compressedLastUpdated] = unixSeconds(newState.LastUpdated)
	}

	changedAttrs := make(map[string]any)
	for key, value := range newState.Attributes {
		if old, ok := oldState.Attributes[key]; !ok || !reflect.DeepEqual(old, value) {
			changedAttrs[key] = value
		}
	}
	if len(changedAttrs) > 0 {
		additions[compressedAttributes] = changedAttrs
	}

	var removedAttrs []string
	for key := range oldState.Attributes {
		if _, ok := newState.Attributes[key]; !ok {
			removedAttrs = append(removedAttrs, key)
		}
	}

	diff := make(map[string]any, 2)
	if len(additions) > 0 {
		diff[diffAdditions] = additions
	}
	if len(removedAttrs) > 0 {
		slices.Sort(removedAttrs)
		diff[diffRemovals] = map[string]any{compressedAttributes: removedAttrs}
	}
	if len(diff) == 0 {
		return nil
	}
	return map[string]any{entitiesChanged: map[string]any{entityID: diff}}
}

// compressState returns the short-key form of st. lu is only present when
// it differs from lc.
func compressState(st *core.State) map[string]any {
	out := map[string]any{
		compressedState:       st.State,
		compressedAttributes:  maps.Clone(st.Attributes),
		compressedContext:     compressContext(st.Context),
		compressedLastChanged: unixSeconds(st.LastChanged),
	}
	if !st.LastUpdated.Equal(st.LastChanged.Time) {
		out[compressedLastUpdated] = unixSeconds(st.LastUpdated)
	}
	return out
}

// compressContext is the bare id unless the context has a parent or user.
func compressContext(ctx *core.Context) any {
	if ctx == nil {
		return nil
	}
	if ctx.ParentID == nil && ctx.UserID == nil {
		return ctx.ID
	}
	return ctx
}

func unixSeconds(t core.Timestamp) float64 {
	return float64(t.UnixMicro()) / 1e6
}

type currentUser struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	IsOwner     bool     `json:"is_owner"`
	IsAdmin     bool     `json:"is_admin"`
	Credentials []string `json:"credentials"`
	MFAModules  []string `json:"mfa_modules"`
}

// handleCurrentUser describes the authenticated token holder. Every token
// grants full access, so every user is an owner and admin.
func handleCurrentUser(_ context.Context, c *conn, _ *command) (any, error) {
	if c.identity == nil {
		return nil, newCommandError(CodeUnknownError, "Not authenticated")
	}
	return currentUser{
		ID:          c.identity.UserID,
		Name:        c.identity.Name,
		IsOwner:     true,
		IsAdmin:     true,
		Credentials: []string{},
		MFAModules:  []string{},
	}, nil
}
