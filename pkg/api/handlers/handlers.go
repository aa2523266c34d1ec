// Package handlers implements the status API request handlers
package handlers

import (
	"context"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/pushstate"
	"github.com/sirupsen/logrus"
)

// StateReader reads push state
type StateReader interface {
	List(ctx context.Context, remote string) ([]*pushstate.State, error)
}

// KeymapReader reads keymap statistics
type KeymapReader interface {
	Check() error
	Count(ctx context.Context, model string) (int, error)
	MaxModified(ctx context.Context, model string) (time.Time, bool, error)
	SyncCursor(ctx context.Context, model string) (int64, error)
}

// Server serves the status API of one remote
type Server struct {
	remote   string
	manifest *manifest.Manifest
	state    StateReader
	keymap   KeymapReader
	log      logrus.FieldLogger
}

// NewServer creates a new API server instance. State may be nil when no
// push state is kept.
func NewServer(remote string, m *manifest.Manifest, state StateReader, km KeymapReader, log logrus.FieldLogger) *Server {
	return &Server{
		remote:   remote,
		manifest: m,
		state:    state,
		keymap:   km,
		log:      log.WithField("component", "api.handlers"),
	}
}
