package handlers

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
)

// ModelState is the push state of one model
type ModelState struct {
	Model        string     `json:"model"`
	State        string     `json:"state"`
	After        []any      `json:"after,omitempty"`
	LastRevision string     `json:"last_revision,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// KeymapStats are the keymap statistics of one model
type KeymapStats struct {
	Model      string     `json:"model"`
	Entries    int        `json:"entries"`
	Watermark  *time.Time `json:"watermark,omitempty"`
	SyncCursor int64      `json:"sync_cursor"`
}

// Health handles GET /healthz
func (s *Server) Health(c fiber.Ctx) error {
	if err := s.keymap.Check(); err != nil {
		s.log.WithError(err).Warn("Health check failed")

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// ListPushState handles GET /api/v1/push-state
func (s *Server) ListPushState(c fiber.Ctx) error {
	if s.state == nil {
		return ErrNoPushState
	}

	states, err := s.state.List(c.Context(), s.remote)
	if err != nil {
		s.log.WithError(err).Error("Failed to list push state")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list push state")
	}

	out := make([]ModelState, 0, len(states))

	for _, st := range states {
		ms := ModelState{
			Model:        st.Model,
			State:        "fresh",
			LastRevision: st.LastRevision,
		}

		if st.Cursor != nil {
			ms.State = strings.ToLower(st.Cursor.State().String())
			ms.After = st.Cursor.After()
		}

		if !st.UpdatedAt.IsZero() {
			updated := st.UpdatedAt
			ms.UpdatedAt = &updated
		}

		out = append(out, ms)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Model < out[j].Model
	})

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"remote": s.remote,
		"models": out,
		"total":  len(out),
	})
}

// GetKeymap handles GET /api/v1/keymap/<model>
func (s *Server) GetKeymap(c fiber.Ctx) error {
	name, err := url.PathUnescape(c.Params("*"))
	if err != nil || name == "" {
		return ErrModelRequired
	}

	if s.manifest != nil {
		if _, ok := s.manifest.Model(name); !ok {
			return ErrModelNotFound
		}
	}

	ctx := c.Context()
	log := s.log.WithField("model", name)

	count, err := s.keymap.Count(ctx, name)
	if err != nil {
		log.WithError(err).Error("Failed to count keymap entries")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read keymap")
	}

	stats := KeymapStats{Model: name, Entries: count}

	watermark, ok, err := s.keymap.MaxModified(ctx, name)
	if err != nil {
		log.WithError(err).Error("Failed to read keymap watermark")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read keymap")
	}

	if ok {
		stats.Watermark = &watermark
	}

	if stats.SyncCursor, err = s.keymap.SyncCursor(ctx, name); err != nil {
		log.WithError(err).Error("Failed to read keymap sync cursor")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read keymap")
	}

	return c.Status(fiber.StatusOK).JSON(stats)
}
