package cmd

import (
	"github.com/spf13/cobra"

	"cfdi-reconciler/internal/reconciler"
	"cfdi-reconciler/internal/server"
	"cfdi-reconciler/internal/storage"
	"cfdi-reconciler/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Inicia el servicio HTTP de conciliacion",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Global()

		store, err := storage.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		service, err := reconciler.NewService(store, cfg.ServiceConfig(), log)
		if err != nil {
			return err
		}

		srv := server.New(service, log)
		return srv.Run(cfg.Server.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
