package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/mukut03/agents/config"
	"github.com/mukut03/agents/framework"
)

// SnapshotStore persists memory snapshots per conversation. Load returns
// (nil, nil) when the conversation has never been saved.
type SnapshotStore interface {
	Save(ctx context.Context, conversationID string, snap *framework.Snapshot) error
	Load(ctx context.Context, conversationID string) (*framework.Snapshot, error)
	Delete(ctx context.Context, conversationID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ErrInvalidID is returned for conversation ids that are empty or unsafe to
// use as a file name.
var ErrInvalidID = errors.New("invalid conversation id")

// NewConversationID returns a fresh random id.
func NewConversationID() string {
	return uuid.NewString()
}

func checkID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Open builds the store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (SnapshotStore, error) {
	switch cfg.Driver {
	case "", config.DriverFile:
		return NewFileSnapshotStore(cfg.Path)
	case config.DriverSQLite:
		return NewSQLiteSnapshotStore(cfg.Path)
	default:
		return nil, &framework.ConfigError{Field: "storage.driver", Message: fmt.Sprintf("unknown driver %q", cfg.Driver)}
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
