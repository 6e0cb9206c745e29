package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// 构建时通过 -ldflags "-X complyhub/cmd/cli.Version=..." 注入
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of complyhub",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\nCommit: %s\nBuildTime: %s\nGo: %s\n", Version, Commit, BuildTime, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
