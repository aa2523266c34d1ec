package handlers

import "github.com/gofiber/fiber/v3"

// ErrModelNotFound is returned when a model is not in the manifest
var ErrModelNotFound = fiber.NewError(fiber.StatusNotFound, "model not found")

// ErrModelRequired is returned when no model name is given
var ErrModelRequired = fiber.NewError(fiber.StatusBadRequest, "model name is required")

// ErrNoPushState is returned when the server keeps no push state
var ErrNoPushState = fiber.NewError(fiber.StatusNotFound, "push state is not available")
