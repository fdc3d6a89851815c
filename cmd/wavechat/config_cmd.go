package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		fmt.Printf("  Channel:  %s\n", valueOrDefault(cfg.Default.Channel, "(default)"))
		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:   %s\n", maskToken(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:   (not set)")
		}
		fmt.Printf("  User ID: %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (dot notation, e.g. auth.token)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Set %s\n", args[0])
		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
