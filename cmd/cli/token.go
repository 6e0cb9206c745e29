package cli

import (
	"fmt"
	"strings"
	"time"

	"complyhub/internal/config"
	"complyhub/internal/middleware"

	"github.com/spf13/cobra"
)

var (
	flagSubject string
	flagTenant  string
	flagEmail   string
	flagRoles   string
	flagTTL     time.Duration
)

// tokenCmd generates an HS256 JWT for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a JWT (HS256) for API authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is empty; set it in config")
		}
		if flagTenant == "" {
			return fmt.Errorf("--tenant is required")
		}
		jc := cfg.JWT
		if flagTTL > 0 {
			jc.ExpiresIn = flagTTL
		}
		tm, err := middleware.NewTokenManager(jc)
		if err != nil {
			return err
		}
		tok, err := tm.Issue(time.Now(), flagSubject, flagTenant, flagEmail, splitList(flagRoles)...)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&flagSubject, "sub", "dev-user", "subject (user id) claim")
	tokenCmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant id claim")
	tokenCmd.Flags().StringVar(&flagEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&flagRoles, "roles", "admin", "comma-separated roles (owner,admin,member)")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 0, "token lifetime (default jwt.expires_in)")
}
