// Package apiserver exposes the worker's operational surface over HTTP:
// the slot table's report and result-partition status, for a
// resource-manager client or operator to poll. It is purely additive -
// no shuffle-core component depends on it.
package apiserver

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/streamcore/shuffle/internal/partitionmanager"
	"github.com/streamcore/shuffle/internal/slottable"
)

// Config configures the API server's mount point.
type Config struct {
	Prefix string
}

// DefaultConfig returns the default API server configuration.
func DefaultConfig() *Config {
	return &Config{Prefix: "/v1"}
}

// Server hosts the worker's read-only operational endpoints.
type Server struct {
	config     *Config
	slotTable  *slottable.Table
	partitions *partitionmanager.Manager
	logger     *slog.Logger
}

// NewServer creates a Server backed by the given slot table and
// partition manager.
func NewServer(config *Config, slotTable *slottable.Table, partitions *partitionmanager.Manager, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     config,
		slotTable:  slotTable,
		partitions: partitions,
		logger:     logger.With("component", "apiserver"),
	}
}

// SetupRoutes registers the server's routes on app.
func (s *Server) SetupRoutes(app *fiber.App) {
	v1 := app.Group(s.config.Prefix)
	v1.Use(cors.New())
	v1.Use(recover.New())

	v1.Get("/slots", s.handleListSlots)
	v1.Get("/partitions/:id", s.handleGetPartition)
}
