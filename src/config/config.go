package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/peernet/src/common"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultExperimentFile is the default name of the experiment description,
	// looked up in the data directory with any extension viper supports.
	DefaultExperimentFile = "experiment"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database of the coordinator.
	DefaultBadgerFile = "badger_db"

	// DefaultLogFile is the name of the log file written when file logging is
	// enabled.
	DefaultLogFile = "peernet.log"
)

// Default configuration values.
const (
	DefaultLogLevel        = "info"
	DefaultMode            = "sim"
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultCoordinatorAddr = "0.0.0.0:9999"
	DefaultResendInterval  = 10 * time.Second
	DefaultStore           = false
	DefaultNoService       = true
	DefaultLogToFile       = false
)

// Config contains the process-level settings of a peernet binary. The
// experiment itself is described separately, through a Source.
type Config struct {
	// DataDir is the top-level directory containing the experiment file, the
	// log file, and the coordinator database.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogToFile adds a file hook writing every log level to DataDir/peernet.log.
	LogToFile bool `mapstructure:"log-file"`

	// Experiment is the path of the experiment description. Defaults to
	// DataDir/experiment.*.
	Experiment string `mapstructure:"experiment"`

	// Mode selects the scheduling engine when the experiment file does not:
	// sim, emu, or net.
	Mode string `mapstructure:"mode"`

	// NoService disables the HTTP service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service exposing stats and
	// Prometheus metrics.
	ServiceAddr string `mapstructure:"service-listen"`

	// CoordinatorAddr is the UDP address:port the bootstrap coordinator
	// listens on.
	CoordinatorAddr string `mapstructure:"listen"`

	// ResendInterval is the period at which the coordinator retransmits
	// responses to registrants that have not acknowledged them.
	ResendInterval time.Duration `mapstructure:"resend"`

	// Store makes the coordinator persist assigned node IDs in Badger.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		LogToFile:       DefaultLogToFile,
		Mode:            DefaultMode,
		NoService:       DefaultNoService,
		ServiceAddr:     DefaultServiceAddr,
		CoordinatorAddr: DefaultCoordinatorAddr,
		ResendInterval:  DefaultResendInterval,
		Store:           DefaultStore,
		DatabaseDir:     DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// LogFile returns the full path of the log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, DefaultLogFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "peernet".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "peernet")
}

// BaseLogger exposes the underlying logger so that hooks can be attached.
func (c *Config) BaseLogger() *logrus.Logger {
	c.Logger()
	return c.logger
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level peernet
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Peernet")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Peernet")
		} else {
			return filepath.Join(home, ".peernet")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level. Unknown names give the
// debug level.
func LogLevel(l string) logrus.Level {
	level, err := logrus.ParseLevel(l)
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}
