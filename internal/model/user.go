package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User owns holdings and their history.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUser assigns a fresh id to a named user.
func NewUser(name string, now time.Time) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, invalidf("user name is required")
	}
	return User{ID: uuid.NewString(), Name: name, CreatedAt: now}, nil
}
