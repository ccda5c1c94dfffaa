package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"breakglass-service/internal/handler"
)

// configCmd は閾値構成（世代）のコマンド群。
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage threshold configuration generations",
	}
	cmd.AddCommand(ceremonyRunCmd("init", "Initialize the first generation", "/v1/config/initialize"))
	cmd.AddCommand(ceremonyRunCmd("rotate", "Rotate to a new generation", "/v1/config/rotate"))
	cmd.AddCommand(configCurrentCmd())
	cmd.AddCommand(configGenerationsCmd())
	return cmd
}

// ceremonyRunCmd はサーバー側セレモニーを実行する。
// --enrollments を省略した場合は世代のみを作成し、分割片は ceremony コマンドで用意する。
func ceremonyRunCmd(use, short, path string) *cobra.Command {
	var (
		threshold       int
		totalShares     int
		enrollmentsFile string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := handler.CeremonyRequest{Threshold: threshold, TotalShares: totalShares}
			if enrollmentsFile != "" {
				b, err := os.ReadFile(enrollmentsFile)
				if err != nil {
					return fmt.Errorf("reading enrollments: %w", err)
				}
				if err := json.Unmarshal(b, &req.Enrollments); err != nil {
					return fmt.Errorf("parsing enrollments: %w", err)
				}
			}

			var resp handler.CeremonyResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, path, req, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created generation %d (%d-of-%d, next drill due %s)\n",
					resp.Config.Generation, resp.Config.Threshold, resp.Config.TotalShares, resp.Config.NextTestDueAt)
				for _, s := range resp.Shares {
					fmt.Fprintf(out, "  share %d -> %s (holder %s)\n", s.Ordinal, s.Identity, s.HolderID)
				}
			})
			return nil
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 0, "Signatures required for recovery (required)")
	cmd.Flags().IntVar(&totalShares, "total", 0, "Total number of shares (required)")
	cmd.Flags().StringVar(&enrollmentsFile, "enrollments", "", "JSON file with holder enrollments")
	cmd.MarkFlagRequired("threshold")
	cmd.MarkFlagRequired("total")
	return cmd
}

func configCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the current generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.ConfigResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, "/v1/config/current", nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printConfigs(cmd, []handler.ConfigResponse{resp})
			})
			return nil
		},
	}
}

func configGenerationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generations",
		Short: "List all generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.ConfigListResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, "/v1/config/generations", nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printConfigs(cmd, resp.Generations)
			})
			return nil
		},
	}
}

func printConfigs(cmd *cobra.Command, configs []handler.ConfigResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "GENERATION\tTHRESHOLD\tSTATUS\tLAST TESTED\tNEXT TEST DUE")
	for _, c := range configs {
		status := "current"
		if c.Superseded {
			status = "superseded"
		}
		fmt.Fprintf(w, "%d\t%d-of-%d\t%s\t%s\t%s\n", c.Generation, c.Threshold, c.TotalShares, status, orDash(c.LastTestedAt), c.NextTestDueAt)
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
