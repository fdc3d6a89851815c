package main

import (
	"fmt"
	"os"

	wavechat "github.com/wavechat-io/wavechat-go"
)

// getClient creates a WaveChat client from the stored configuration.
func getClient() (*wavechat.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'wavechat config set auth.token <token>' or set WAVECHAT_TOKEN.")
		os.Exit(1)
	}

	var opts []wavechat.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, wavechat.WithBaseURL(cfg.Default.BaseURL))
	}
	return wavechat.NewClient(cfg.Auth.Token, opts...), cfg
}

// truncate shortens s to at most n runes, appending an ellipsis when it cuts.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
