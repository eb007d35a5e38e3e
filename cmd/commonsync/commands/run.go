package commands

import (
	"os"
	"path/filepath"

	"github.com/commonsnetwork/commonsync/src/commons"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a commonsync node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runCommonsync,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runCommonsync(cmd *cobra.Command, args []string) error {
	engine := commons.NewCommons(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	defer engine.Shutdown()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name stamped into the origin of events")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for commonsync node")
	cmd.Flags().StringSlice("peers", _config.Peers, "Transport addresses of the other nodes")
	cmd.Flags().Duration("sync-interval", _config.SyncInterval, "Time between anti-entropy sync rounds")
	cmd.Flags().Int("sync-limit", _config.SyncLimit, "Max number of events per sync response")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Verify the audit chain from genesis before serving")
	cmd.Flags().Bool("maintenance-mode", _config.MaintenanceMode, "Start the node in a suspended state")

	// Acceptance policy
	cmd.Flags().Int("min-trust", _config.MinTrust, "Endorsements a signer's anchor needs to count as trusted")
	cmd.Flags().Int("m-required", _config.MRequired, "Trusted verified signatures an event needs")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	addLogHooks(_config.Logger().Logger, _config.DataDir)

	logFields := logrus.Fields{
		"DataDir":         _config.DataDir,
		"BindAddr":        _config.BindAddr,
		"ServiceAddr":     _config.ServiceAddr,
		"NoService":       _config.NoService,
		"Peers":           _config.Peers,
		"SyncInterval":    _config.SyncInterval,
		"SyncLimit":       _config.SyncLimit,
		"Store":           _config.Store,
		"LogLevel":        _config.LogLevel,
		"Moniker":         _config.Moniker,
		"MaintenanceMode": _config.MaintenanceMode,
		"MinTrust":        _config.MinTrust,
		"MRequired":       _config.MRequired,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
		logFields["Bootstrap"] = _config.Bootstrap
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/commonsync.toml (.json, .yaml also work)
	viper.SetConfigName("commonsync")   // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addLogHooks routes info and debug output to files under datadir, keeping
// stderr for the console.
func addLogHooks(logger *logrus.Logger, datadir string) {
	pathMap := lfshook.PathMap{}

	infoPath := filepath.Join(datadir, "commonsync_info.log")
	if _, err := os.OpenFile(infoPath, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open commonsync_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = infoPath
	}

	debugPath := filepath.Join(datadir, "commonsync_debug.log")
	if _, err := os.OpenFile(debugPath, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open commonsync_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = debugPath
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
