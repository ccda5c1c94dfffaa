// Package main はCLIツールのエントリポイント。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

const defaultAPIURL = "http://localhost:8080"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// APIクライアント
var client *apiClient

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "breakglassctl",
		Short:        "Break-glass recovery service CLI",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("BREAKGLASS_API_URL")
			}
			if apiURL == "" {
				apiURL = defaultAPIURL
			}
			client = newAPIClient(apiURL, &http.Client{Timeout: timeout})
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set BREAKGLASS_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(holderCmd())
	rootCmd.AddCommand(activationCmd())
	rootCmd.AddCommand(rtoCmd())
	rootCmd.AddCommand(drillCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(decryptShareCmd())
	rootCmd.AddCommand(ceremonyCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "breakglassctl version %s\n", version)
		},
	}
}

// emit は --output に応じて生のJSONかテキスト表示を出力する。
func emit(cmd *cobra.Command, raw []byte, text func()) {
	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return
	}
	text()
}
