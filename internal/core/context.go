package core

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Context links an action to the state changes and events it produced.
type Context struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
	UserID   *string `json:"user_id"`
}

// NewID returns a fresh ULID string. Ids sort by creation time.
func NewID() string {
	return ulid.Make().String()
}

// NewContext returns a context with a fresh id and no parent or user.
func NewContext() *Context {
	return &Context{ID: NewID()}
}

// NewUserContext returns a fresh context attributed to userID.
func NewUserContext(userID string) *Context {
	c := NewContext()
	if userID != "" {
		c.UserID = &userID
	}
	return c
}

// Child returns a fresh context whose parent is c. The user id is inherited.
func (c *Context) Child() *Context {
	child := NewContext()
	if c == nil {
		return child
	}
	parent := c.ID
	child.ParentID = &parent
	if c.UserID != nil {
		u := *c.UserID
		child.UserID = &u
	}
	return child
}

// Time returns the creation time encoded in the context id.
func (c *Context) Time() time.Time {
	id, err := ulid.ParseStrict(c.ID)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(id.Time())
}

// OrNew returns c, or a fresh context when c is nil.
func (c *Context) OrNew() *Context {
	if c == nil {
		return NewContext()
	}
	return c
}
