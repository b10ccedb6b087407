package server

import (
	"fmt"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/config"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/idstate/badger"
	"github.com/marmos91/rfidgate/pkg/idstate/jsonfile"
	"github.com/marmos91/rfidgate/pkg/idstate/memory"
)

// OpenStateStore opens the identifier state backend named by cfg.Backend.
func OpenStateStore(cfg config.StateConfig) (idstate.Store, error) {
	switch cfg.Backend {
	case "json", "":
		logger.Info("Identifier state backend", "backend", "json", logger.KeyPath, cfg.Path)
		return jsonfile.New(cfg.Path), nil
	case "badger":
		st, err := badger.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger state store: %w", err)
		}
		logger.Info("Identifier state backend", "backend", "badger", logger.KeyPath, cfg.Path)
		return st, nil
	case "memory":
		logger.Warn("Identifier state backend is in-memory; identifiers will repeat after restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
