package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-section rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.State.Watch && cfg.State.Backend != "json" {
		return fmt.Errorf("state.watch is only supported with the json backend, got %q", cfg.State.Backend)
	}

	if cfg.OpLog.Database.Enabled {
		if err := cfg.OpLog.Database.Validate(); err != nil {
			return fmt.Errorf("oplog.database: %w", err)
		}
	}

	if cfg.Metrics.Enabled && cfg.API.Enabled && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("metrics.port and api.port must differ (both %d)", cfg.API.Port)
	}
	return nil
}
