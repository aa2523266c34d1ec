package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v3"
)

// ModelSummary describes one manifest model
type ModelSummary struct {
	Name       string   `json:"name"`
	Dataset    string   `json:"dataset"`
	PrimaryKey []string `json:"primary_key"`
	Level      int      `json:"level,omitempty"`
	Sourced    bool     `json:"sourced"`
}

// ListModels handles GET /api/v1/models
func (s *Server) ListModels(c fiber.Ctx) error {
	summaries := make([]ModelSummary, 0)

	if s.manifest == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"models": summaries, "total": 0})
	}

	dataset := c.Query("dataset")

	for _, m := range s.manifest.Models() {
		if dataset != "" && !strings.HasPrefix(m.Namespace(), dataset) {
			continue
		}

		summaries = append(summaries, ModelSummary{
			Name:       m.Name,
			Dataset:    m.Namespace(),
			PrimaryKey: m.KeyProperties(),
			Level:      m.Level,
			Sourced:    m.Sourced(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"models": summaries,
		"total":  len(summaries),
	})
}
