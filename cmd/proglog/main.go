package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proglog/internal/config"
	"proglog/internal/session"
)

var exitCode int

var rootCmd = &cobra.Command{
	Use:   "proglog [flags] <PROG> [<ARG>...]",
	Short: "Run a program and record its terminal session",
	Long: `proglog runs PROG with its standard streams attached to pipes and relays
everything between the terminal and the program. Every line typed in and
every line the program writes is also appended to a transcript file, each
prefixed with a TAI64N timestamp.

The exit code of proglog is the exit code of PROG.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return session.ErrUsage
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.New(), cmd.Flags())
		if err != nil {
			return err
		}
		setupLogging(cfg.Debug)

		code, err := session.New(cfg).Run(args)
		exitCode = code
		return err
	},
}

func setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func init() {
	// Flags after PROG belong to PROG.
	rootCmd.Flags().SetInterspersed(false)
	config.RegisterFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "proglog: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
