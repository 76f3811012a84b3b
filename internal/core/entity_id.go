package core

import "strings"

// EntityID identifies a controllable or observable thing as "domain.object_id".
type EntityID struct {
	Domain   string
	ObjectID string
}

// ParseEntityID validates s and splits it into its domain and object id.
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 { //nolint:mnd // domain + object_id
		return EntityID{}, NewValidationError("entity_id", "%q must contain exactly one '.'", s)
	}
	domain, objectID := parts[0], parts[1]

	if domain == "" {
		return EntityID{}, NewValidationError("entity_id", "%q has an empty domain", s)
	}
	if objectID == "" {
		return EntityID{}, NewValidationError("entity_id", "%q has an empty object id", s)
	}
	if !validDomain(domain) {
		return EntityID{}, NewValidationError("entity_id", "%q has an invalid domain", s)
	}
	if !validSlug(objectID) {
		return EntityID{}, NewValidationError("entity_id", "%q has an invalid object id", s)
	}

	return EntityID{Domain: domain, ObjectID: objectID}, nil
}

// ValidEntityID reports whether s parses as an entity id.
func ValidEntityID(s string) bool {
	_, err := ParseEntityID(s)
	return err == nil
}

// String returns the canonical "domain.object_id" form.
func (e EntityID) String() string {
	return e.Domain + "." + e.ObjectID
}

// IsZero reports whether e is the zero value.
func (e EntityID) IsZero() bool {
	return e.Domain == "" && e.ObjectID == ""
}

// ValidDomain reports whether s is usable as a domain or service name.
func ValidDomain(s string) bool {
	return s != "" && validDomain(s)
}

func validDomain(s string) bool {
	return validSlug(s) && !strings.Contains(s, "__")
}

// validSlug accepts lowercase letters, digits and underscores, not at either end.
func validSlug(s string) bool {
	if s == "" || s[0] == '_' || s[len(s)-1] == '_' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}
