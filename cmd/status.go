package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmshield/llm-shield/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	Long:  `Display the current status of the shield proxy.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	running := procMgr.IsRunning()
	pid := procMgr.ReadPID()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", pid)

	if cfg != nil {
		fmt.Printf("  %-15s: %s\n", "Listen", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port))
		fmt.Printf("  %-15s: %s\n", "Endpoint", truncate(cfg.Upstream.Endpoint, 60))
		fmt.Printf("  %-15s: %s\n", "Forced Model", orNone(cfg.ForcedModel))
		fmt.Printf("  %-15s: %d\n", "Max Attempts", cfg.Retry.MaxAttempts)
	}

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}

	return s
}
