package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/streamregex/streamregex/cmd/compile"
	"github.com/streamregex/streamregex/cmd/scan"
	"github.com/streamregex/streamregex/cmd/tap"
	"github.com/streamregex/streamregex/internal/pkg/logger"
	"github.com/streamregex/streamregex/internal/pkg/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "streamregex",
	Short: "streamregex matches pattern sets against byte streams",
	Long: `streamregex compiles sets of patterns into a single deterministic
automaton and runs them over streaming input in one pass, with constant
memory per stream no matter how much data flows through.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetFullVersion())
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func addSubCommandPalattes() {
	rootCmd.AddCommand(scan.ScanCmd)
	rootCmd.AddCommand(compile.CompileCmd)
	rootCmd.AddCommand(tap.TapCmd)
	rootCmd.AddCommand(versionCmd)
}

func init() {
	cobra.OnInitialize(initConfig)

	addSubCommandPalattes()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.streamregex.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".streamregex")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	logger.Initialize()
	if lvl, err := rootCmd.PersistentFlags().GetString("log-level"); err == nil {
		logger.SetLevel(lvl)
	}
}
