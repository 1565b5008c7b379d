package collector

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-pathsync/pkg/path"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// PathView is a stored path plus the segment still open on the tracker.
type PathView struct {
	*Path
	OpenSegment *path.PathSegment `json:"openSegment,omitempty"`
}

// RegisterAPIRoutes registers the read-only path API.
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	paths := api.Group("/paths")

	// Most recent paths
	paths.Get("/", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultListLimit)
		if limit <= 0 || limit > maxListLimit {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be between 1 and 500"})
		}
		records, err := h.store.Paths(c.UserContext(), limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{
			"paths": records,
			"count": len(records),
		})
	})

	// One path with its segments
	paths.Get("/:id", func(c *fiber.Ctx) error {
		p, err := h.store.Path(c.UserContext(), c.Params("id"))
		if errors.Is(err, ErrPathNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "path not found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		view := PathView{Path: p}
		if seg, ok := h.OpenSegment(p.ID); ok && !p.Ended() {
			view.OpenSegment = &seg
		}
		return c.JSON(view)
	})

	api.Get("/sessions", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sessions": h.Sessions(),
			"count":    h.SessionCount(),
		})
	})

	api.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}
