package credentials

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// ErrAlreadyExists is returned when a credential with the same id exists.
var ErrAlreadyExists = errors.New("application credential already exists")

// Logger defines the logging interface used by the Store.
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

// Store holds application credentials and the OAuth2 endpoints of the
// domains that accept them.
type Store struct {
	bus    *bus.Bus
	repo   Repository
	logger Logger

	mu          sync.RWMutex
	credentials map[string]*Credential
	order       []string
	endpoints   map[string]oauth2.Endpoint
}

// NewStore creates an empty Store. repo may be nil.
func NewStore(b *bus.Bus, repo Repository) *Store {
	return &Store{
		bus:         b,
		repo:        repo,
		logger:      noopLogger{},
		credentials: make(map[string]*Credential),
		endpoints:   make(map[string]oauth2.Endpoint),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Load replaces the in-memory credentials with the persisted ones.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	stored, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = make(map[string]*Credential, len(stored))
	s.order = s.order[:0]
	for _, c := range stored {
		s.credentials[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	return nil
}

// RegisterDomain declares that domain accepts application credentials and
// authorizes against endpoint.
func (s *Store) RegisterDomain(domain string, endpoint oauth2.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[domain] = endpoint
}

// Domains returns the domains that accept application credentials, sorted.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	domains := make([]string, 0, len(s.endpoints))
	for d := range s.endpoints {
		domains = append(domains, d)
	}
	slices.Sort(domains)
	return domains
}

// List returns every credential in creation order.
func (s *Store) List() []*Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Credential, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.credentials[id].clone())
	}
	return out
}

// Get returns the credential with id, or nil.
func (s *Store) Get(id string) *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials[id].clone()
}

// ForDomain returns the credentials registered for domain.
func (s *Store) ForDomain(domain string) []*Credential {
	var out []*Credential
	for _, c := range s.List() {
		if c.Domain == domain {
			out = append(out, c)
		}
	}
	return out
}

// Create stores a new credential. Client id and secret are trimmed.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Credential, error) {
	if !core.ValidDomain(p.Domain) {
		return nil, core.NewValidationError("domain", "invalid domain %q", p.Domain)
	}
	c := &Credential{
		Domain:       p.Domain,
		ClientID:     strings.TrimSpace(p.ClientID),
		ClientSecret: strings.TrimSpace(p.ClientSecret),
		Name:         p.Name,
		AuthDomain:   p.AuthDomain,
	}
	if c.ClientID == "" {
		return nil, core.NewValidationError("client_id", "client_id is required")
	}
	if c.ClientSecret == "" {
		return nil, core.NewValidationError("client_secret", "client_secret is required")
	}
	c.ID = CredentialID(c.Domain, c.ClientID)

	s.mu.Lock()
	if _, exists := s.credentials[c.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, c.ID)
	}
	if s.repo != nil {
		if err := s.repo.Create(ctx, c); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.credentials[c.ID] = c
	s.order = append(s.order, c.ID)
	s.enqueueUpdated("create", c.ID)
	out := c.clone()
	s.mu.Unlock()

	s.bus.Flush()
	s.logger.Info("application credential created", "id", out.ID, "domain", out.Domain)
	return out, nil
}

// Delete removes the credential with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.credentials[id]; !ok {
		s.mu.Unlock()
		return &core.NotFoundError{Kind: "application_credentials", ID: id}
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	delete(s.credentials, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.enqueueUpdated("remove", id)
	s.mu.Unlock()

	s.bus.Flush()
	s.logger.Info("application credential deleted", "id", id)
	return nil
}

// OAuth2Config builds the oauth2.Config for the credential with id using
// its domain's registered endpoint.
func (s *Store) OAuth2Config(id, redirectURL string, scopes ...string) (*oauth2.Config, error) {
	s.mu.RLock()
	c, ok := s.credentials[id]
	var endpoint oauth2.Endpoint
	var hasEndpoint bool
	if ok {
		endpoint, hasEndpoint = s.endpoints[c.Domain]
	}
	s.mu.RUnlock()

	if !ok {
		return nil, &core.NotFoundError{Kind: "application_credentials", ID: id}
	}
	if !hasEndpoint {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, c.Domain)
	}
	return c.OAuth2Config(endpoint, redirectURL, scopes...), nil
}

func (s *Store) enqueueUpdated(action, id string) {
	s.bus.Enqueue(core.NewEvent(core.EventApplicationCredentialsUpdated, map[string]any{
		"action":                     action,
		"application_credentials_id": id,
	}, nil))
}
