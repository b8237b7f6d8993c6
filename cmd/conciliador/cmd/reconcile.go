package cmd

import (
	"encoding/json"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cfdi-reconciler/internal/reconciler"
	"cfdi-reconciler/internal/storage"
	"cfdi-reconciler/pkg/logger"
)

var reconcileFlags struct {
	company         string
	month           int
	year            int
	profile         string
	toleranceAmount float64
	toleranceDays   int
	force           bool
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Ejecuta una conciliacion para una empresa y periodo",
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

		req := reconciler.ReconcileRequest{
			CompanyID: reconcileFlags.company,
			Month:     reconcileFlags.month,
			Year:      reconcileFlags.year,
			Profile:   reconcileFlags.profile,
			Force:     reconcileFlags.force,
		}
		if cmd.Flags().Changed("tolerancia-monto") {
			amount := decimal.NewFromFloat(reconcileFlags.toleranceAmount)
			req.ToleranceAmount = &amount
		}
		if cmd.Flags().Changed("dias-tolerancia") {
			days := reconcileFlags.toleranceDays
			req.ToleranceDays = &days
		}

		summary, err := service.Reconcile(cmd.Context(), req)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileFlags.company, "rfc", "", "RFC de la empresa")
	reconcileCmd.Flags().IntVar(&reconcileFlags.month, "mes", 0, "mes a conciliar (1-12)")
	reconcileCmd.Flags().IntVar(&reconcileFlags.year, "anio", 0, "anio a conciliar")
	reconcileCmd.Flags().StringVar(&reconcileFlags.profile, "perfil", "", "perfil de tolerancias (estandar, estricto, relajado)")
	reconcileCmd.Flags().Float64Var(&reconcileFlags.toleranceAmount, "tolerancia-monto", 0, "tolerancia de monto")
	reconcileCmd.Flags().IntVar(&reconcileFlags.toleranceDays, "dias-tolerancia", 0, "tolerancia de dias")
	reconcileCmd.Flags().BoolVar(&reconcileFlags.force, "forzar", false, "supersede una conciliacion previa")

	reconcileCmd.MarkFlagRequired("rfc")
	reconcileCmd.MarkFlagRequired("mes")
	reconcileCmd.MarkFlagRequired("anio")

	rootCmd.AddCommand(reconcileCmd)
}
