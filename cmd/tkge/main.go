package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cnclabs/tkge/internal/config"
	"github.com/cnclabs/tkge/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	v       = config.NewViper()

	rootCmd = &cobra.Command{
		Use:   "tkge",
		Short: "Temporal knowledge graph embeddings",
		Long: `tkge trains entity, relation and time-token embeddings for link prediction
on temporal knowledge graphs.

Models: TATransE, TADistMult (time-aware), TransE, DistMult, ComplEx,
RotatE, pRotatE.

Input format (temporal facts):
	head relation tail YYYY-MM-DD
	Example: Barack_Obama visit Japan 2014-04-23`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(v, cfgFile); err != nil {
				return err
			}
			return logger.Init(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	bindFlag(v, "log.level", rootCmd, "log-level")
	bindFlag(v, "log.format", rootCmd, "log-format")

	rootCmd.AddCommand(newTrainCmd(), newTokenizeCmd())
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	flag := cmd.PersistentFlags().Lookup(name)
	if flag == nil {
		flag = cmd.Flags().Lookup(name)
	}
	cobra.CheckErr(v.BindPFlag(key, flag))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("tkge failed", "error", err)
	}
}
