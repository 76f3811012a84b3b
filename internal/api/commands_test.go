package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"testing"

	"github.com/nerrad567/gray-logic-hub/internal/configentry"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

func TestCredentialsScenario(t *testing.T) {
	_, _, ts := testServer(t)
	c := dial(t, ts, testToken)

	list := c.call("application_credentials/list", nil)
	mustSucceed(t, list)
	if string(list.Result) != "[]" {
		t.Fatalf("initial list = %s, want []", list.Result)
	}

	create := c.call("application_credentials/create", map[string]any{
		"domain":        "fake_integration",
		"client_id":     "client-id",
		"client_secret": "client-secret",
	})
	mustSucceed(t, create)
	cred := decodeResult[map[string]any](t, create)
	if cred["id"] != "fake_integration_client_id" {
		t.Errorf("id = %v, want fake_integration_client_id", cred["id"])
	}

	dup := c.call("application_credentials/create", map[string]any{
		"domain":        "fake_integration",
		"client_id":     "client-id",
		"client_secret": "other",
	})
	mustFail(t, dup, CodeAlreadyExists)

	list = c.call("application_credentials/list", nil)
	if got := decodeResult[[]map[string]any](t, list); len(got) != 1 {
		t.Fatalf("list after create = %s", list.Result)
	}

	mustSucceed(t, c.call("application_credentials/delete", map[string]any{
		"application_credentials_id": "fake_integration_client_id",
	}))
	missing := c.call("application_credentials/delete", map[string]any{
		"application_credentials_id": "fake_integration_client_id",
	})
	mustFail(t, missing, CodeNotFound)
	if missing.Error.Message != "Unable to find application_credentials_id fake_integration_client_id" {
		t.Errorf("message = %q", missing.Error.Message)
	}

	mustFail(t, c.call("application_credentials/create", map[string]any{"domain": "x"}), CodeInvalidFormat)
}

func TestCredentialDomainsFromConfig(t *testing.T) {
	_, _, ts := testServer(t, func(cfg *config.Config) {
		cfg.Credentials = config.CredentialsConfig{
			RedirectURL: "https://hub.local/auth/external/callback",
			Domains: map[string]config.OAuth2EndpointConfig{
				"spotify": {
					AuthorizeURL: "https://accounts.spotify.com/authorize",
					TokenURL:     "https://accounts.spotify.com/api/token",
				},
			},
		}
	})
	c := dial(t, ts, testToken)

	cfgResult := c.call("application_credentials/config", nil)
	mustSucceed(t, cfgResult)
	got := decodeResult[struct {
		Domains []string `json:"domains"`
	}](t, cfgResult)
	if len(got.Domains) != 1 || got.Domains[0] != "spotify" {
		t.Fatalf("domains = %v, want [spotify]", got.Domains)
	}

	for _, domain := range []string{"spotify", "fake_integration"} {
		mustSucceed(t, c.call("application_credentials/create", map[string]any{
			"domain":        domain,
			"client_id":     "client-id",
			"client_secret": "client-secret",
		}))
	}

	authorize := c.call("application_credentials/authorize_url", map[string]any{
		"application_credentials_id": "spotify_client_id",
		"scopes":                     []string{"user-read-playback-state"},
	})
	mustSucceed(t, authorize)
	res := decodeResult[struct {
		AuthorizeURL string `json:"authorize_url"`
		State        string `json:"state"`
	}](t, authorize)
	u, err := url.Parse(res.AuthorizeURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if u.Host != "accounts.spotify.com" || u.Path != "/authorize" {
		t.Errorf("authorize_url = %s", res.AuthorizeURL)
	}
	if q.Get("client_id") != "client-id" || q.Get("redirect_uri") != "https://hub.local/auth/external/callback" ||
		q.Get("scope") != "user-read-playback-state" || q.Get("state") != res.State || res.State == "" {
		t.Errorf("query = %v, state = %q", q, res.State)
	}

	mustFail(t, c.call("application_credentials/authorize_url", map[string]any{
		"application_credentials_id": "fake_integration_client_id",
	}), CodeHomeAssistantError)
	mustFail(t, c.call("application_credentials/authorize_url", map[string]any{
		"application_credentials_id": "missing",
	}), CodeNotFound)
	mustFail(t, c.call("application_credentials/authorize_url", nil), CodeInvalidFormat)
}

func TestConfigEntriesGetIsStable(t *testing.T) {
	_, h, ts := testServer(t)
	ctx := context.Background()
	for _, domain := range []string{"demo", "other"} {
		if _, err := h.ConfigEntries.Add(ctx, &configentry.Entry{Domain: domain, Title: domain}); err != nil {
			t.Fatal(err)
		}
	}
	c := dial(t, ts, testToken)

	first := c.call("config_entries/get", nil)
	second := c.call("config_entries/get", nil)
	mustSucceed(t, first)
	if !bytes.Equal(first.Result, second.Result) {
		t.Errorf("results differ:\n%s\n%s", first.Result, second.Result)
	}
	if got := decodeResult[[]map[string]any](t, first); len(got) != 2 {
		t.Errorf("entries = %d, want 2", len(got))
	}

	filtered := c.call("config_entries/get", map[string]any{"domain": "demo"})
	got := decodeResult[[]map[string]any](t, filtered)
	if len(got) != 1 || got[0]["domain"] != "demo" {
		t.Errorf("filtered = %s", filtered.Result)
	}
}

func TestConfigEntriesSubscribe(t *testing.T) {
	_, h, ts := testServer(t)
	ctx := context.Background()
	existing, err := h.ConfigEntries.Add(ctx, &configentry.Entry{Domain: "demo", Title: "Existing"})
	if err != nil {
		t.Fatal(err)
	}
	c := dial(t, ts, testToken)

	id := c.send("config_entries/subscribe", nil)
	res := c.waitResult(id)
	mustSucceed(t, res)
	if string(res.Result) != "null" {
		t.Errorf("subscribe result = %s, want null", res.Result)
	}

	type change struct {
		Type  *string        `json:"type"`
		Entry map[string]any `json:"entry"`
	}
	next := func() []change {
		t.Helper()
		f := c.event(id)
		var out []change
		if err := json.Unmarshal(f.Event, &out); err != nil {
			t.Fatalf("decode event %s: %v", f.Event, err)
		}
		return out
	}

	initial := next()
	if len(initial) != 1 || initial[0].Type != nil || initial[0].Entry["entry_id"] != existing.EntryID {
		t.Fatalf("initial = %+v", initial)
	}

	added, err := h.ConfigEntries.Add(ctx, &configentry.Entry{Domain: "demo", Title: "New"})
	if err != nil {
		t.Fatal(err)
	}
	ev := next()
	if len(ev) != 1 || ev[0].Type == nil || *ev[0].Type != "added" || ev[0].Entry["entry_id"] != added.EntryID {
		t.Fatalf("added event = %+v", ev)
	}

	mustSucceed(t, c.call("config_entries/delete", map[string]any{"entry_id": added.EntryID}))
	ev = next()
	if len(ev) != 1 || ev[0].Type == nil || *ev[0].Type != "removed" || ev[0].Entry["title"] != "New" {
		t.Fatalf("removed event = %+v", ev)
	}

	mustFail(t, c.call("config_entries/delete", map[string]any{"entry_id": added.EntryID}), CodeNotFound)
}

func TestEvents(t *testing.T) {
	_, _, ts := testServer(t)
	c := dial(t, ts, testToken)

	subID := c.send("subscribe_events", map[string]any{"event_type": "test_event"})
	mustSucceed(t, c.waitResult(subID))

	fire := c.call("fire_event", map[string]any{
		"event_type": "test_event",
		"event_data": map[string]any{"hello": "world"},
	})
	mustSucceed(t, fire)

	var ev core.Event
	if err := json.Unmarshal(c.event(subID).Event, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.EventType != "test_event" || ev.Data["hello"] != "world" {
		t.Errorf("event = %+v", ev)
	}
	fired := decodeResult[contextResult](t, fire)
	if ev.Context == nil || fired.Context == nil || ev.Context.ID != fired.Context.ID {
		t.Errorf("event context %+v does not match fire_event context %+v", ev.Context, fired.Context)
	}

	mustSucceed(t, c.call("unsubscribe_events", map[string]any{"subscription": subID}))
	mustFail(t, c.call("unsubscribe_events", map[string]any{"subscription": subID}), CodeNotFound)
	mustFail(t, c.call("fire_event", nil), CodeInvalidFormat)
}

func TestCallService(t *testing.T) {
	_, h, ts := testServer(t)

	calls := make(chan core.ServiceCall, 1)
	echo := func(_ context.Context, call core.ServiceCall) (any, error) {
		calls <- call
		return map[string]any{"echo": call.Data["message"]}, nil
	}
	// entity_id is not in the schema; the target is merged after validation.
	schema := &service.Schema{Fields: map[string]service.Field{
		"message": {Type: service.TypeString, Required: true},
	}}
	if err := h.Services.Register("test", "echo", echo, schema, service.SupportsOptional); err != nil {
		t.Fatal(err)
	}
	fail := func(context.Context, core.ServiceCall) (any, error) {
		return nil, errors.New("device offline")
	}
	if err := h.Services.Register("test", "fail", fail, nil, service.SupportsNone); err != nil {
		t.Fatal(err)
	}

	c := dial(t, ts, testToken)

	ok := c.call("call_service", map[string]any{
		"domain":          "test",
		"service":         "echo",
		"service_data":    map[string]any{"message": "hi"},
		"target":          map[string]any{"entity_id": "light.kitchen"},
		"return_response": true,
	})
	mustSucceed(t, ok)
	res := decodeResult[struct {
		Context  *core.Context  `json:"context"`
		Response map[string]any `json:"response"`
	}](t, ok)
	if res.Context == nil || res.Response["echo"] != "hi" {
		t.Errorf("result = %s", ok.Result)
	}
	got := <-calls
	if ids, _ := got.Data["entity_id"].([]string); len(ids) != 1 || ids[0] != "light.kitchen" {
		t.Errorf("target not merged: %+v", got.Data)
	}

	tests := []struct {
		name   string
		fields map[string]any
		code   string
	}{
		{"unknown service", map[string]any{"domain": "test", "service": "nope"}, CodeNotFound},
		{"missing required", map[string]any{"domain": "test", "service": "echo"}, CodeServiceValidationError},
		{"response unsupported", map[string]any{"domain": "test", "service": "fail", "return_response": true}, CodeServiceValidationError},
		{"handler error", map[string]any{"domain": "test", "service": "fail"}, CodeHomeAssistantError},
		{"missing domain", map[string]any{"service": "echo"}, CodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustFail(t, c.call("call_service", tt.fields), tt.code)
		})
	}
}

func TestUnencodableValues(t *testing.T) {
	_, h, ts := testServer(t)

	if _, err := h.States.Set("sensor.bad", "1", map[string]any{"x": math.NaN()}, nil); err != nil {
		t.Fatal(err)
	}
	inf := func(context.Context, core.ServiceCall) (any, error) {
		return map[string]any{"v": math.Inf(1)}, nil
	}
	if err := h.Services.Register("test", "inf", inf, nil, service.SupportsOptional); err != nil {
		t.Fatal(err)
	}

	c := dial(t, ts, testToken)
	subID := c.send("subscribe_events", map[string]any{"event_type": "test_event"})
	mustSucceed(t, c.waitResult(subID))

	mustFail(t, c.call("get_states", nil), CodeUnknownError)
	mustFail(t, c.call("call_service", map[string]any{
		"domain":          "test",
		"service":         "inf",
		"return_response": true,
	}), CodeUnknownError)

	h.Bus.Fire("test_event", map[string]any{"x": math.NaN()})
	mustSucceed(t, c.call("fire_event", map[string]any{
		"event_type": "test_event",
		"event_data": map[string]any{"ok": true},
	}))
	var ev core.Event
	if err := json.Unmarshal(c.event(subID).Event, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Data["ok"] != true {
		t.Errorf("first delivered event = %+v, want the encodable one", ev)
	}

	mustSucceed(t, c.call("get_config", nil))
}

func TestAreaCRUD(t *testing.T) {
	_, _, ts := testServer(t)
	c := dial(t, ts, testToken)

	created := c.call("config/area_registry/create", map[string]any{"name": "Living Room"})
	mustSucceed(t, created)
	area := decodeResult[map[string]any](t, created)
	if area["area_id"] != "living_room" || area["name"] != "Living Room" {
		t.Fatalf("created = %s", created.Result)
	}

	mustFail(t, c.call("config/area_registry/create", map[string]any{"name": "Living Room"}), CodeInvalidFormat)
	mustFail(t, c.call("config/area_registry/create", nil), CodeInvalidFormat)

	updated := c.call("config/area_registry/update", map[string]any{
		"area_id": "living_room",
		"icon":    "mdi:sofa",
	})
	mustSucceed(t, updated)
	if got := decodeResult[map[string]any](t, updated); got["icon"] != "mdi:sofa" {
		t.Errorf("updated = %s", updated.Result)
	}

	cleared := c.call("config/area_registry/update", map[string]any{
		"area_id": "living_room",
		"icon":    nil,
	})
	if got := decodeResult[map[string]any](t, cleared); got["icon"] != nil {
		t.Errorf("icon not cleared: %s", cleared.Result)
	}

	list := c.call("config/area_registry/list", nil)
	if got := decodeResult[[]map[string]any](t, list); len(got) != 1 {
		t.Errorf("list = %s", list.Result)
	}

	del := c.call("config/area_registry/delete", map[string]any{"area_id": "living_room"})
	mustSucceed(t, del)
	if string(del.Result) != `"success"` {
		t.Errorf("delete result = %s", del.Result)
	}
	mustFail(t, c.call("config/area_registry/delete", map[string]any{"area_id": "living_room"}), CodeNotFound)
	mustFail(t, c.call("config/area_registry/update", map[string]any{"area_id": "nope", "name": "x"}), CodeNotFound)
}
