package config

import (
	"crypto/ed25519"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/commonsnetwork/commonsync/src/net"
	"github.com/commonsnetwork/commonsync/src/zk"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the
	// encrypted private key
	DefaultKeyfile = "priv_key.enc"

	// DefaultSecretFile is the default name of the file containing the
	// keyfile envelope secret
	DefaultSecretFile = "secret.key"

	// DefaultMetaFile is the default name of the append-only key metadata
	// file
	DefaultMetaFile = "key_meta.json"

	// DefaultTrustFile is the default name of the trust anchor seed file
	DefaultTrustFile = "trust.json"

	// DefaultAuditFile is the default name of the audit log file
	DefaultAuditFile = "audit.log"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger databases
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultBindAddr        = "127.0.0.1:1337"
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultSyncInterval    = 1000 * time.Millisecond
	DefaultSyncLimit       = 1000
	DefaultStore           = false
	DefaultMaintenanceMode = false
	DefaultMinTrust        = 1
	DefaultMRequired       = 1
)

// Config contains all the configuration properties of a commonsync node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the address this node is reachable at on the transport.
	BindAddr string `mapstructure:"listen"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are
	// registered with the DefaultServerMux of the http package. It is
	// possible that another server in the same process is simultaneously
	// using the DefaultServerMux. In which case, the handlers will be
	// accessible from both servers.
	ServiceAddr string `mapstructure:"service-listen"`

	// SyncInterval is the frequency of the anti-entropy sync timer.
	SyncInterval time.Duration `mapstructure:"sync-interval"`

	// SyncLimit defines the max number of events to include in a sync
	// response.
	SyncLimit int `mapstructure:"sync-limit"`

	// Peers lists the transport addresses of the other nodes.
	Peers []string `mapstructure:"peers"`

	// Store activates persistent storage for history and trust anchors.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Bootstrap forces Store and verifies the audit chain from genesis
	// before the node starts serving.
	Bootstrap bool `mapstructure:"bootstrap"`

	// MaintenanceMode when set to true causes the node to initialise in a
	// suspended state, answering peers but not initiating sync.
	MaintenanceMode bool `mapstructure:"maintenance-mode"`

	// Moniker defines the friendly name of this node, stamped into the
	// Origin of events it creates.
	Moniker string `mapstructure:"moniker"`

	// MinTrust is the number of endorsements a signer's anchor needs to
	// count as trusted.
	MinTrust int `mapstructure:"min-trust"`

	// MRequired is the number of trusted, verified signatures an event
	// needs to be accepted.
	MRequired int `mapstructure:"m-required"`

	// Key is the private key of the local identity. When nil, it is read
	// from the encrypted keyfile in DataDir.
	Key ed25519.PrivateKey

	// Transport carries messages between nodes. When nil, an in-memory
	// transport is created on BindAddr.
	Transport net.SecureTransport

	// Verifier checks zero-knowledge proofs attached to events. When nil,
	// proof-carrying events are rejected.
	Verifier zk.Verifier

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		BindAddr:        DefaultBindAddr,
		ServiceAddr:     DefaultServiceAddr,
		SyncInterval:    DefaultSyncInterval,
		SyncLimit:       DefaultSyncLimit,
		Store:           DefaultStore,
		MaintenanceMode: DefaultMaintenanceMode,
		DatabaseDir:     DefaultDatabaseDir(),
		MinTrust:        DefaultMinTrust,
		MRequired:       DefaultMRequired,
	}

	return config
}

// NewTestConfig returns a config object with default values, a fast sync
// timer, no HTTP service, and a special logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	config.SyncInterval = 10 * time.Millisecond
	config.NoService = true
	return config
}

// SetDataDir sets the top-level commonsync directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitly set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the encrypted private
// key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// SecretFile returns the full path of the file containing the keyfile
// envelope secret.
func (c *Config) SecretFile() string {
	return filepath.Join(c.DataDir, DefaultSecretFile)
}

// MetaFile returns the full path of the key metadata file.
func (c *Config) MetaFile() string {
	return filepath.Join(c.DataDir, DefaultMetaFile)
}

// TrustFile returns the full path of the trust anchor seed file.
func (c *Config) TrustFile() string {
	return filepath.Join(c.DataDir, DefaultTrustFile)
}

// AuditFile returns the full path of the audit log file.
func (c *Config) AuditFile() string {
	return filepath.Join(c.DataDir, DefaultAuditFile)
}

// EventsDatabaseDir returns the directory of the badger event store.
func (c *Config) EventsDatabaseDir() string {
	return filepath.Join(c.DatabaseDir, "events")
}

// TrustDatabaseDir returns the directory of the badger trust registry.
func (c *Config) TrustDatabaseDir() string {
	return filepath.Join(c.DatabaseDir, "trust")
}

// Logger returns a formatted logrus Entry, with prefix set to "commonsync".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "commonsync")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level commonsync
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".CommonSync")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "CommonSync")
		} else {
			return filepath.Join(home, ".commonsync")
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

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
