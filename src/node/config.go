package node

import (
	"testing"
	"time"

	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/sirupsen/logrus"
)

type Config struct {
	SyncInterval time.Duration `mapstructure:"sync-interval"`
	SyncLimit    int           `mapstructure:"sync-limit"`
	Logger       *logrus.Logger
}

func NewConfig(syncInterval time.Duration,
	syncLimit int,
	logger *logrus.Logger) *Config {

	return &Config{
		SyncInterval: syncInterval,
		SyncLimit:    syncLimit,
		Logger:       logger,
	}
}

func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		SyncInterval: 10 * time.Millisecond,
		SyncLimit:    1000,
		Logger:       logger,
	}
}

func TestConfig(t *testing.T) *Config {
	config := DefaultConfig()
	config.Logger = common.NewTestLogger(t)
	return config
}
