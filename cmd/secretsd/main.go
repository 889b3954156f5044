package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/helixcare/secrets-core/cmd/flags"
	"github.com/helixcare/secrets-core/core"
	"github.com/helixcare/secrets-core/httpserver"
	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/storage"
)

var serviceLogFlag = flags.LogServiceFlagFn("secretsd")

func main() {
	app := &cli.App{
		Name:  "secretsd",
		Usage: "Serve the secrets management API",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.StorageURIFlag,
			flags.MetadataDSNFlag,
			serviceLogFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(flags.ListenAddrFlag.Name)
			storageURI := cCtx.String(flags.StorageURIFlag.Name)
			metadataDSN := cCtx.String(flags.MetadataDSNFlag.Name)

			logger := flags.SetupLogger(cCtx)

			factory := storage.NewFactory(logger)
			physical, err := factory.BackendFor(storageURI)
			if err != nil {
				logger.Error("Failed to create storage backend", "err", err)
				return err
			}

			var metadata interfaces.MetadataStore
			if metadataDSN != "" {
				logger.Info("Connecting to metadata store")
				sqlStore, err := storage.NewSQLMetadataStore(metadataDSN, logger)
				if err != nil {
					logger.Error("Failed to connect metadata store", "err", err)
					return err
				}
				defer sqlStore.Close()
				metadata = sqlStore
			} else {
				logger.Warn("No metadata DSN configured, using in-memory metadata store")
				metadata = storage.NewInmemMetadataStore()
			}

			c, err := core.New(core.Config{
				Physical: physical,
				Metadata: metadata,
				Log:      logger,
			})
			if err != nil {
				logger.Error("Failed to assemble core", "err", err)
				return err
			}

			logger.Info("Core assembled, barrier sealed until unseal quorum")

			srv, err := httpserver.New(
				flags.ConfigureServer(cCtx, logger, listenAddr),
				httpserver.NewHandler(c, logger),
			)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			c.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
