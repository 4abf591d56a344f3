package stores

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string

	// BusyTimeout is how long a writer waits for the database lock.
	BusyTimeout time.Duration
}

// ProjectFilter narrows ListProjects.
type ProjectFilter struct {
	// UserID limits results to one owner when set.
	UserID string

	// IncludeArchived also returns archived projects.
	IncludeArchived bool
}

// ActivityFilter narrows ListActivities.
type ActivityFilter struct {
	UserID    string
	ProjectID string
	Limit     int
}

// NewID returns a new lexically sortable identifier.
func NewID() string {
	return ulid.Make().String()
}
