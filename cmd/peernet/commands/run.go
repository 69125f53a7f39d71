package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/peernet/src/config"
	"github.com/mosaicnetworks/peernet/src/peernet"
	"github.com/mosaicnetworks/peernet/src/service"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that runs an experiment
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run an experiment",
		PreRunE: loadConfig,
		RunE:    runExperiment,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runExperiment(cmd *cobra.Command, args []string) error {
	logger := _config.Peernet.Logger()

	src, err := experimentSource()
	if err != nil {
		logger.Error("Cannot read experiment:", err)
		return err
	}

	mode, err := peernet.ParseMode(_config.Peernet.Mode)
	if err != nil {
		return err
	}

	exp, err := peernet.NewExperiment(src, peernet.Options{
		Mode:   mode,
		Logger: logger,
	})
	if err != nil {
		logger.Error("Cannot build experiment:", err)
		return err
	}

	logger.WithFields(logrus.Fields{
		"id":    exp.ID,
		"mode":  exp.Mode,
		"seed":  exp.Seed,
		"nodes": exp.Ctx.Network.Size(),
	}).Info("Experiment ready")

	if !_config.Peernet.NoService {
		s := service.NewService(_config.Peernet.ServiceAddr, exp, exp.GetGatherer(), logger)
		go s.Serve()
		defer s.Close()
	}

	// real-time engines can be interrupted, the sequential one runs to the end
	if stopper, ok := exp.Engine.(interface{ Stop() }); ok {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		go func() {
			if _, ok := <-sigCh; ok {
				logger.Info("Interrupted, stopping experiment")
				stopper.Stop()
			}
		}()
	}

	if err := exp.Run(); err != nil {
		logger.Error("Experiment failed:", err)
		return err
	}

	logger.WithFields(statsFields(exp.GetStats())).Info("Experiment finished")

	return nil
}

func experimentSource() (config.Source, error) {
	if _config.Peernet.Experiment != "" {
		return config.LoadSource(_config.Peernet.Experiment)
	}
	return config.FindSource(_config.Peernet.DataDir, config.DefaultExperimentFile)
}

func statsFields(stats map[string]string) logrus.Fields {
	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}
	return fields
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	addCommonFlags(cmd)

	cmd.Flags().StringP("experiment", "e", _config.Peernet.Experiment, "Experiment file (default [datadir]/experiment.*)")
	cmd.Flags().StringP("mode", "m", _config.Peernet.Mode, "sim, emu or net, when the experiment does not say")

	// Service
	cmd.Flags().Bool("no-service", _config.Peernet.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Peernet.ServiceAddr, "Listen IP:Port for HTTP service")
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.Peernet.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Peernet.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-file", _config.Peernet.LogToFile, "Also write logs to [datadir]/peernet.log")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitly set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Peernet.SetDataDir(_config.Peernet.DataDir)

	if _config.Peernet.LogToFile {
		addFileHook(_config.Peernet.BaseLogger(), _config.Peernet.LogFile())
	}

	logFields := logrus.Fields{
		"peernet.DataDir":    _config.Peernet.DataDir,
		"peernet.LogLevel":   _config.Peernet.LogLevel,
		"peernet.LogToFile":  _config.Peernet.LogToFile,
		"peernet.Experiment": _config.Peernet.Experiment,
		"peernet.Mode":       _config.Peernet.Mode,
		"peernet.NoService":  _config.Peernet.NoService,
	}

	if !_config.Peernet.NoService {
		logFields["peernet.ServiceAddr"] = _config.Peernet.ServiceAddr
	}

	_config.Peernet.Logger().WithFields(logFields).Debug(cmd.Name())

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

	// look for config file in [datadir]/peernet.toml (.json, .yaml also work)
	viper.SetConfigName("peernet")               // name of config file (without extension)
	viper.AddConfigPath(_config.Peernet.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Peernet.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Peernet.Logger().Debugf("No config file found in: %s", _config.Peernet.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addFileHook copies every log entry, whatever its level, to path.
func addFileHook(logger *logrus.Logger, path string) {
	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = path
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
