package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"complyhub/internal/config"
	"complyhub/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagTemplateTenant string
	flagTemplateActor  string
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect and install automation rule templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in rule templates",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tTRIGGER\tACTIONS\tNAME")
		for _, t := range services.ListTemplates() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.Key, t.Trigger, len(t.Actions), t.Name)
		}
		_ = w.Flush()
	},
}

var templatesInstallCmd = &cobra.Command{
	Use:   "install [key...]",
	Short: "Install templates as rules for a tenant (all when no key is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagTemplateTenant == "" {
			return fmt.Errorf("--tenant is required")
		}
		cfg := config.Load()
		if err := config.InitLogger(cfg); err != nil {
			logrus.Warnf("init logger: %v", err)
		}
		ctx := context.Background()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		rules, err := a.automation.InstallTemplates(ctx, flagTemplateTenant, flagTemplateActor, args...)
		for _, r := range rules {
			fmt.Printf("installed %s (%s) as rule %s\n", r.TemplateKey, r.Trigger, r.ID)
		}
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("nothing to install")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesInstallCmd)
	templatesInstallCmd.Flags().StringVar(&flagTemplateTenant, "tenant", "", "tenant id to install into")
	templatesInstallCmd.Flags().StringVar(&flagTemplateActor, "actor", "cli", "recorded as rule creator")
}
