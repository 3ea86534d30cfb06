// Command onboardbot runs the Telegram onboarding bot.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/m3rciful/onboardbot/core/bootstrap"
	"github.com/m3rciful/onboardbot/core/buildinfo"
	corecmd "github.com/m3rciful/onboardbot/core/cmd"
	coreconfig "github.com/m3rciful/onboardbot/core/config"
)

const defaultConfigPath = "config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "onboardbot",
		Short:        "Telegram bot that collects new-hire details",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := godotenv.Load(envFile)
			switch {
			case err == nil:
			case cmd.Flags().Changed("env-file"):
				return fmt.Errorf("load %s: %w", envFile, err)
			default:
				log.Printf("no %s loaded, using process environment", envFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the config")

	serve := newServeCmd()
	root.AddCommand(serve, newScriptCmd(), newVersionCmd())
	// Running without a subcommand serves the bot.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
					return err
				}
			}
			return corecmd.Run(corecmd.Options{
				Context:           cmd.Context(),
				ConfigEnvVar:      "CONFIG_PATH",
				DefaultConfigPath: defaultConfigPath,
				LoadConfig:        coreconfig.Load,
				Bootstrap: func(ctx context.Context, cfg *coreconfig.Config) (corecmd.TelegramApp, error) {
					return buildApp(ctx, cfg, bootstrap.Options{})
				},
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (overrides $CONFIG_PATH)")
	return cmd
}

func newScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "script [path]",
		Short: "Validate a question script and print its fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("SCRIPT_PATH")
			if len(args) == 1 {
				path = args[0]
			}
			sc, err := bootstrap.LoadScript(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, f := range sc.Fields() {
				fmt.Fprintf(out, "%2d  %-20s %-10s %s\n", i+1, f.Key, f.Rule, f.ColumnName())
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "onboardbot", buildinfo.String())
		},
	}
}
