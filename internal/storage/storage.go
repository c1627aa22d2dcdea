// Package storage defines the persistence interface and its implementations.
//
// Records live in a single key/value table. Keys carry a one-character
// namespace prefix so user and channel records can be enumerated separately.
// Backends guarantee single-key atomicity only; callers that write several
// keys for one logical change (subscribe, purge) are not atomic.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pressly/goose/v3"

	"whistleblower/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Key namespaces.
const (
	userPrefix    = "u"
	channelPrefix = "c"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	GetUser(ctx context.Context, userID string) (*model.UserRecord, error)
	PutUser(ctx context.Context, userID string, rec *model.UserRecord) error
	DeleteUser(ctx context.Context, userID string) error
	// SetDMChannel updates only the cached direct message channel of an
	// existing user record. It returns ErrNotFound when the user is absent.
	SetDMChannel(ctx context.Context, userID, channelID string) error
	ListUserIDs(ctx context.Context) ([]string, error)

	GetChannel(ctx context.Context, channelID string) (*model.ChannelRecord, error)
	PutChannel(ctx context.Context, channelID string, rec *model.ChannelRecord) error
	ListChannelIDs(ctx context.Context) ([]string, error)

	Close() error
}

// Backend identifies the database behind a DSN.
type Backend struct {
	Driver  string
	Source  string
	Dialect goose.Dialect
}

// ParseDSN maps dsn to a backend. postgres:// and postgresql:// URLs select
// Postgres; anything else is a SQLite path, optionally prefixed sqlite: or
// sqlite://.
func ParseDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Backend{}, fmt.Errorf("empty database dsn")
	}
	if u, err := url.Parse(dsn); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "postgres", "postgresql":
			return Backend{Driver: "postgres", Source: dsn, Dialect: goose.DialectPostgres}, nil
		case "sqlite":
			dsn = dsn[len(u.Scheme)+1:]
			dsn = strings.TrimPrefix(dsn, "//")
		}
	}
	return Backend{Driver: "sqlite", Source: dsn, Dialect: goose.DialectSQLite3}, nil
}

// Open returns a Storage for dsn.
func Open(dsn string) (Storage, error) {
	b, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if b.Driver == "postgres" {
		return NewPostgres(b.Source)
	}
	return NewSQLite(b.Source)
}

func userKey(id string) string    { return userPrefix + id }
func channelKey(id string) string { return channelPrefix + id }
