// Command devnetctl starts supervised devnets outside of go test and prints
// the port layout they use.
package main

import (
	"fmt"
	"os"

	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	settingsPath string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "devnetctl",
	Short:         "Run local devnets under the pystarport supervisor",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "TOML file with harness settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(portsCmd)
}

// loadSettings reads --settings when given, otherwise the defaults, and applies
// environment overrides either way.
func loadSettings() (config.Settings, error) {
	if settingsPath == "" {
		s := config.DefaultSettings().WithEnv()
		return s, s.Validate()
	}
	return config.LoadSettings(settingsPath)
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
