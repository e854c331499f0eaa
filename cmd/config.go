package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmshield/llm-shield/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the shield proxy configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for the upstream endpoint details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("LLM Shield Configuration Setup")
	color.Yellow("Follow the prompts to configure the upstream endpoint.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nUpstream endpoint URL (full chat/completions URL): ")
	endpoint, _ := reader.ReadString('\n')
	endpoint = strings.TrimSpace(endpoint)

	fmt.Print("API key: ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	fmt.Printf("Credential header [%s]: ", config.DefaultAuthHeader)
	authHeader, _ := reader.ReadString('\n')
	authHeader = strings.TrimSpace(authHeader)

	fmt.Print("Forced model (optional, leave empty to pass through): ")
	forcedModel, _ := reader.ReadString('\n')
	forcedModel = strings.TrimSpace(forcedModel)

	fmt.Printf("Retry attempts [%d]: ", config.DefaultMaxAttempts)
	attemptsRaw, _ := reader.ReadString('\n')
	attempts := 0

	if v := strings.TrimSpace(attemptsRaw); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("retry attempts must be a number: %w", err)
		}

		attempts = parsed
	}

	cfg := &config.Config{
		Host: config.DefaultHost,
		Port: config.DefaultPort,
		Upstream: config.Upstream{
			Endpoint:   endpoint,
			APIKey:     apiKey,
			AuthHeader: authHeader,
		},
		ForcedModel: forcedModel,
		Retry: config.Retry{
			MaxAttempts: attempts,
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the proxy with: llm-shield start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'llm-shield config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-20s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-20s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-20s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nUpstream:")
	fmt.Printf("  %-20s: %s\n", "Endpoint", cfg.Upstream.Endpoint)
	fmt.Printf("  %-20s: %s\n", "API Key", maskString(cfg.Upstream.APIKey))
	fmt.Printf("  %-20s: %s\n", "Auth Header", cfg.Upstream.AuthHeader)
	fmt.Printf("  %-20s: %s\n", "Forced Model", orNone(cfg.ForcedModel))

	fmt.Println("\nRetry:")
	fmt.Printf("  %-20s: %d\n", "Max Attempts", cfg.Retry.MaxAttempts)
	fmt.Printf("  %-20s: %ds\n", "Backoff Base", cfg.Retry.BackoffBaseSeconds)
	fmt.Printf("  %-20s: %ds\n", "Backoff Increment", cfg.Retry.BackoffIncrementSeconds)
	fmt.Printf("  %-20s: %ds\n", "Backoff Ceiling", cfg.Retry.BackoffCeilingSeconds)

	fmt.Println("\nError Markers:")

	for _, marker := range cfg.ErrorMarkers {
		fmt.Printf("  - %s\n", marker)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		color.Red("Configuration validation failed:")

		for _, problem := range strings.Split(err.Error(), "; ") {
			fmt.Printf("  - %s\n", problem)
		}

		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
