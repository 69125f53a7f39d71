package commands

import (
	"github.com/mosaicnetworks/peernet/src/config"
)

//CLIConfig contains configuration for the peernet commands
type CLIConfig struct {
	Peernet config.Config `mapstructure:",squash"`

	// Seed of the coordinator's random source. Experiments carry their own.
	Seed int64 `mapstructure:"seed"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Peernet: *config.NewDefaultConfig(),
		Seed:    1,
	}
}
