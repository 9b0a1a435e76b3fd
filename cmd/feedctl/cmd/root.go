package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "feedctl",
	Short: "feedctl operates the feedplane product feed service",
	Long: `feedctl is the command-line interface for the feedplane admin API.

feedplane regenerates product feed files in the background, keeps at most one
active job per feed type and reports upload status of generated files.

Common workflows:

  Queue a full catalog feed:
    feedctl run catalog

  Queue a product sync batch:
    feedctl run product_sync --product-ids A,B,C

  Force the scheduler to run a feed now:
    feedctl tick catalog

  Inspect jobs:
    feedctl jobs list --status queued,processing
    feedctl jobs get <job-id>

  Check the queue and an upload:
    feedctl queue
    feedctl upload-status <reference>

Configuration:
  FEEDPLANE_URL      Admin API endpoint (default: http://localhost:6161)
  FEEDPLANE_TOKEN    Admin bearer token`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".feedctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FEEDPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds an API client from flags, env and config. Admin commands
// fail early without a token.
func newClient(cmd *cobra.Command) (*FeedClient, bool) {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the FEEDPLANE_TOKEN environment variable")
		return nil, false
	}
	return NewFeedClient(viper.GetString("url"), token), true
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.feedctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "feedplane API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Admin token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
