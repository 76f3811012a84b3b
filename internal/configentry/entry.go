package configentry

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// State is the lifecycle state of a config entry.
type State string

// Lifecycle states.
const (
	StateNotLoaded       State = "not_loaded"
	StateSetupInProgress State = "setup_in_progress"
	StateLoaded          State = "loaded"
	StateSetupError      State = "setup_error"
	StateSetupRetry      State = "setup_retry"
	StateMigrationError  State = "migration_error"
	StateFailedUnload    State = "failed_unload"
)

// AllStates lists every lifecycle state.
var AllStates = []State{
	StateNotLoaded, StateSetupInProgress, StateLoaded, StateSetupError,
	StateSetupRetry, StateMigrationError, StateFailedUnload,
}

// Sources of a config entry.
const (
	SourceUser      = "user"
	SourceImport    = "import"
	SourceDiscovery = "discovery"
	SourceSystem    = "system"
)

// DisabledByUser is the only disabler the hub assigns itself.
const DisabledByUser = "user"

// Entry is one configured instance of an integration.
type Entry struct {
	EntryID                string         `json:"entry_id"`
	Domain                 string         `json:"domain"`
	Title                  string         `json:"title"`
	Source                 string         `json:"source"`
	State                  State          `json:"state"`
	Version                int            `json:"version"`
	MinorVersion           int            `json:"minor_version"`
	UniqueID               *string        `json:"unique_id"`
	Data                   map[string]any `json:"data"`
	Options                map[string]any `json:"options"`
	DisabledBy             *string        `json:"disabled_by"`
	Reason                 *string        `json:"reason"`
	PrefDisableNewEntities bool           `json:"pref_disable_new_entities"`
	PrefDisablePolling     bool           `json:"pref_disable_polling"`
	DiscoveryKeys          map[string]any `json:"discovery_keys"`
	CreatedAt              core.Timestamp `json:"created_at"`
	ModifiedAt             core.Timestamp `json:"modified_at"`
}

// Clone returns an independent copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.UniqueID = clonePtr(e.UniqueID)
	c.DisabledBy = clonePtr(e.DisabledBy)
	c.Reason = clonePtr(e.Reason)
	c.Data = cloneMap(e.Data)
	c.Options = cloneMap(e.Options)
	c.DiscoveryKeys = cloneMap(e.DiscoveryKeys)
	return &c
}

// Disabled reports whether the entry has been disabled.
func (e *Entry) Disabled() bool {
	return e.DisabledBy != nil
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// cloneMap deep-copies JSON-shaped data.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}
