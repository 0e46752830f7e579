package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	serverURL    string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "packsched",
	Short: "Bin-packing job scheduler for heterogeneous node pools",
	Long: `packsched places jobs with multi-dimensional resource requests onto a
pool of worker nodes. Run "packsched serve" to start the scheduler server,
then use the jobs and nodes subcommands against it.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.packsched/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "scheduler server URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads the config file and PACKSCHED_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".packsched"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PACKSCHED")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logrus.WithField("file", viper.ConfigFileUsed()).Debug("loaded config")
	}
}

// resolveServerURL returns the server URL from the flag, config, or default.
func resolveServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if url := viper.GetString("server"); url != "" {
		return url
	}
	return "http://localhost:8080"
}
