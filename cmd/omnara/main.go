package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/omnara-ai/omnara/internal/config"
	"github.com/omnara-ai/omnara/internal/logger"
	"github.com/omnara-ai/omnara/internal/wrapper"
)

const defaultAgent = "claude"

func main() {
	var logLevel string

	root := &cobra.Command{
		Use:   "omnara [command] [args...]",
		Short: "run a CLI agent with its terminal mirrored to omnara",
		Long: `omnara runs a CLI agent under a pseudo-terminal and mirrors the
session to the omnara relay, where it can be watched and driven from other
devices. The local terminal keeps working even when the relay is down.`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.LoadWrapper()
			if err != nil {
				return err
			}

			// Logs go to a file only; stdout belongs to the mirrored terminal.
			logFile := ""
			if home, err := os.UserHomeDir(); err == nil {
				logFile = filepath.Join(home, ".omnara", "omnara.log")
			}
			logger.InitWriter(io.Discard, logLevel, logFile)

			command := defaultAgent
			if len(args) > 0 {
				command, args = args[0], args[1:]
			}

			code, err := wrapper.Run(context.Background(), cfg, command, args)
			if err != nil {
				fmt.Fprintln(os.Stderr, "omnara:", err)
				os.Exit(1)
			}
			os.Exit(code)
			return nil
		},
	}

	root.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	// Flags after the agent command belong to the agent.
	root.Flags().SetInterspersed(false)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
