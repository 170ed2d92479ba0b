package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/anatech/leadscout/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd is the base command called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "leadscout",
	Short: "Reddit lead discovery backend",
	Long:  "Discovers communities, scores posts for sales relevance and stores the leads users keep.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	v := viper.GetViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/leadscout")
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	}
}

// loadConfig builds the typed configuration and applies logging settings.
func loadConfig() (*config.Config, error) {
	cfg := config.LoadConfig(viper.GetViper())
	if err := cfg.Unified.Logging.ConfigureLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}
