package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmshield/llm-shield/internal/process"
	"github.com/llmshield/llm-shield/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shield proxy",
	Long:  `Start the buffering proxy in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	if err := ensureConfigUsable(); err != nil {
		return err
	}

	cfg := cfgMgr.Get()

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting proxy",
		"host", cfg.Host,
		"port", cfg.Port,
		"endpoint", cfg.Upstream.Endpoint,
		"forced_model", cfg.ForcedModel,
		"max_attempts", cfg.Retry.MaxAttempts,
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger)

	return srv.Start()
}
