package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"complyhub/internal/config"
	"complyhub/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var flagScanTenant string

// scanCmd runs one sweep outside the scheduler, e.g. from an external cron.
var scanCmd = &cobra.Command{
	Use:       "scan [certificates|overdue|all]",
	Short:     "Run the periodic scanners once",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"certificates", "overdue", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		which := "all"
		if len(args) == 1 {
			which = args[0]
		}

		cfg := config.Load()
		if err := config.InitLogger(cfg); err != nil {
			logrus.Warnf("init logger: %v", err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		var selected []*services.PeriodicScanner
		switch which {
		case "certificates":
			selected = append(selected, a.certificates)
		case "overdue":
			selected = append(selected, a.overdue)
		case "all":
			selected = a.scanners()
		default:
			return fmt.Errorf("unknown scan %q", which)
		}

		var all []services.ScanResult
		var errs []error
		for _, s := range selected {
			if flagScanTenant != "" {
				res, err := s.Scan(ctx, flagScanTenant)
				all = append(all, res)
				if err != nil {
					errs = append(errs, err)
				}
				continue
			}
			res, err := s.ScanAll(ctx)
			all = append(all, res...)
			if err != nil {
				errs = append(errs, err)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(all); err != nil {
			return err
		}
		if len(errs) > 0 {
			return fmt.Errorf("scan finished with %d error(s): %v", len(errs), errs)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&flagScanTenant, "tenant", "", "sweep only this tenant")
}
