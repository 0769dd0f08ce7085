package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current version of " + conf.APP_NAME,
	Run: func(cmd *cobra.Command, args []string) {
		goVersion := fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Printf("Built At: %s \nGo Version: %s \nCommit ID: %s \nVersion: %s \nOllama API: %s \n",
			conf.BuildTime, goVersion, conf.Commit, conf.Version, conf.OllamaVersion)
		os.Exit(0)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
