package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmshield/llm-shield/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the shield proxy",
	Long:  `Stop the running proxy daemon.`,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	color.Yellow("Stopping %s...", AppName)

	procMgr := process.NewManager(baseDir)

	if !procMgr.IsRunning() {
		color.Yellow("Proxy is not running")
		return nil
	}

	if err := procMgr.Stop(); err != nil {
		return err
	}

	color.Green("Proxy stopped successfully")

	return nil
}
