package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/peernet/src/bootstrap"
	"github.com/mosaicnetworks/peernet/src/service"
	"github.com/mosaicnetworks/peernet/src/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//NewCoordinatorCmd returns the command that starts a bootstrap coordinator
func NewCoordinatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "coordinator",
		Short:   "Run a bootstrap coordinator",
		PreRunE: loadConfig,
		RunE:    runCoordinator,
	}
	AddCoordinatorFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

// runCoordinator serves bootstrap requests until a SIGINT or SIGTERM
func runCoordinator(cmd *cobra.Command, args []string) error {
	logger := _config.Peernet.Logger()

	src, err := experimentSource()
	if err != nil {
		logger.Error("Cannot read coordinator runs:", err)
		return err
	}

	var store bootstrap.IDStore
	if _config.Peernet.Store {
		store, err = bootstrap.NewBadgerIDStore(_config.Peernet.DatabaseDir, logger)
		if err != nil {
			logger.Error("Cannot open ID store:", err)
			return err
		}
	} else {
		store = bootstrap.NewInmemIDStore()
	}
	defer store.Close()

	trans, err := transport.NewUDP(_config.Peernet.CoordinatorAddr, "", logger)
	if err != nil {
		logger.Error("Cannot listen:", err)
		return err
	}

	server := bootstrap.NewServer(trans,
		src,
		store,
		_config.Peernet.ResendInterval,
		_config.Seed,
		logger)

	go server.Serve()

	logger.WithFields(logrus.Fields{
		"address": server.Addr().String(),
		"known":   store.Len(),
	}).Info("Coordinator ready")

	if !_config.Peernet.NoService {
		s := service.NewService(_config.Peernet.ServiceAddr, server, prometheus.DefaultGatherer, logger)
		go s.Serve()
		defer s.Close()
	}

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	logger.Info("Stopping coordinator")

	return server.Close()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddCoordinatorFlags adds flags to the Coordinator command
func AddCoordinatorFlags(cmd *cobra.Command) {
	addCommonFlags(cmd)

	cmd.Flags().StringP("experiment", "e", _config.Peernet.Experiment, "File describing the runs (default [datadir]/experiment.*)")
	cmd.Flags().StringP("listen", "l", _config.Peernet.CoordinatorAddr, "Listen IP:Port for bootstrap requests")
	cmd.Flags().Duration("resend", _config.Peernet.ResendInterval, "Time between two retransmissions of unacknowledged responses")
	cmd.Flags().Int64("seed", _config.Seed, "Seed of the random source used to wire overlays")

	// Store
	cmd.Flags().Bool("store", _config.Peernet.Store, "Persist node IDs in badgerDB")
	cmd.Flags().String("db", _config.Peernet.DatabaseDir, "Database directory")

	// Service
	cmd.Flags().Bool("no-service", _config.Peernet.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Peernet.ServiceAddr, "Listen IP:Port for HTTP service")
}
