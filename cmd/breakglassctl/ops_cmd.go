package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/handler"
)

// rtoCmd は復旧時間目標のコマンド群。
func rtoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rto",
		Short: "Manage recovery time objectives",
	}

	var req handler.CreateRTORequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a recovery time objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.RTOResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, "/v1/rtos", req, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Created RTO %s for %s (%.1fh, tier %s)\n", resp.ID, resp.Component, resp.TargetRecoveryHours, resp.Tier)
			})
			return nil
		},
	}
	create.Flags().StringVar(&req.Component, "component", "", "Component name (required)")
	create.Flags().StringVar(&req.Description, "description", "", "Description")
	create.Flags().Float64Var(&req.TargetRecoveryHours, "recovery-hours", 0, "Recovery time target in hours (required)")
	create.Flags().Float64Var(&req.TargetPointHours, "point-hours", 0, "Recovery point target in hours")
	create.Flags().StringVar(&req.Tier, "tier", "", "Tier: critical, high, medium, low (required)")
	create.Flags().StringSliceVar(&req.DependsOn, "depends-on", nil, "Components this one depends on")
	create.MarkFlagRequired("component")
	create.MarkFlagRequired("recovery-hours")
	create.MarkFlagRequired("tier")

	list := &cobra.Command{
		Use:   "list",
		Short: "List recovery time objectives",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.RTOListResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, "/v1/rtos", nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printRTOs(cmd, resp.Objectives)
			})
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get RTO_ID",
		Short: "Show a recovery time objective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.RTOResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, "/v1/rtos/"+url.PathEscape(args[0]), nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printRTOs(cmd, []handler.RTOResponse{resp})
			})
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete RTO_ID",
		Short: "Delete a recovery time objective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.do(cmd.Context(), http.MethodDelete, "/v1/rtos/"+url.PathEscape(args[0]), nil, http.StatusNoContent, nil); err != nil {
				return err
			}
			emit(cmd, []byte("{}"), func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted RTO %s\n", args[0])
			})
			return nil
		},
	}

	cmd.AddCommand(create, list, get, del)
	return cmd
}

func printRTOs(cmd *cobra.Command, rtos []handler.RTOResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMPONENT\tTIER\tRTO\tRPO\tDEPENDS ON")
	for _, r := range rtos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fh\t%.1fh\t%s\n", r.ID, r.Component, r.Tier, r.TargetRecoveryHours, r.TargetPointHours, strings.Join(r.DependsOn, ","))
	}
	w.Flush()
}

// drillCmd は復旧訓練のコマンド群。
func drillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Schedule and record recovery drills",
	}

	var (
		sreq        handler.ScheduleDrillRequest
		scheduledAt string
	)
	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a drill",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, scheduledAt)
			if err != nil {
				return fmt.Errorf("--at must be RFC3339: %w", err)
			}
			sreq.ScheduledAt = t
			var resp handler.DrillResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, "/v1/drills", sreq, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled drill %s (%s) at %s\n", resp.ID, resp.Type, resp.ScheduledAt)
			})
			return nil
		},
	}
	schedule.Flags().StringVar(&sreq.Name, "name", "", "Drill name (required)")
	schedule.Flags().StringVar(&sreq.Type, "type", "", "Drill type: tabletop, simulation, full_test, surprise (required)")
	schedule.Flags().StringVar(&sreq.Scenario, "scenario", "", "Scenario")
	schedule.Flags().StringVar(&scheduledAt, "at", "", "Scheduled time (RFC3339, required)")
	schedule.Flags().StringSliceVar(&sreq.Participants, "participant", nil, "Participant")
	schedule.Flags().StringSliceVar(&sreq.Objectives, "objective", nil, "Objective")
	schedule.Flags().Float64Var(&sreq.TargetRecoveryHours, "target-hours", 0, "Target recovery hours")
	schedule.MarkFlagRequired("name")
	schedule.MarkFlagRequired("type")
	schedule.MarkFlagRequired("at")

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List drills",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/drills"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			var resp handler.DrillListResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, path, nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printDrills(cmd, resp.Drills)
			})
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status: scheduled, completed, missed")

	get := &cobra.Command{
		Use:   "get DRILL_ID",
		Short: "Show a drill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.DrillResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, "/v1/drills/"+url.PathEscape(args[0]), nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printDrills(cmd, []handler.DrillResponse{resp})
			})
			return nil
		},
	}

	var (
		creq       handler.CompleteDrillRequest
		start, end string
	)
	complete := &cobra.Command{
		Use:   "complete DRILL_ID",
		Short: "Record drill results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if creq.ActualStart, err = time.Parse(time.RFC3339, start); err != nil {
				return fmt.Errorf("--start must be RFC3339: %w", err)
			}
			if creq.ActualEnd, err = time.Parse(time.RFC3339, end); err != nil {
				return fmt.Errorf("--end must be RFC3339: %w", err)
			}
			return postDrill(cmd, args[0], "complete", creq)
		},
	}
	complete.Flags().StringVar(&start, "start", "", "Actual start (RFC3339, required)")
	complete.Flags().StringVar(&end, "end", "", "Actual end (RFC3339, required)")
	complete.Flags().IntVar(&creq.Score, "score", 0, "Score 0-100")
	complete.Flags().StringSliceVar(&creq.ObjectivesMet, "objective-met", nil, "Objective met")
	complete.Flags().StringSliceVar(&creq.Issues, "issue", nil, "Issue found")
	complete.Flags().StringSliceVar(&creq.Remediation, "remediation", nil, "Remediation item")
	complete.MarkFlagRequired("start")
	complete.MarkFlagRequired("end")

	missed := &cobra.Command{
		Use:   "missed DRILL_ID",
		Short: "Mark a drill as missed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postDrill(cmd, args[0], "missed", nil)
		},
	}

	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "List generations whose drill is overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.OverdueResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, "/v1/drills/overdue", nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printConfigs(cmd, resp.Configs)
			})
			return nil
		},
	}

	cmd.AddCommand(schedule, list, get, complete, missed, overdue)
	return cmd
}

func postDrill(cmd *cobra.Command, id, action string, body any) error {
	var resp handler.DrillResponse
	raw, err := client.do(cmd.Context(), http.MethodPost, "/v1/drills/"+url.PathEscape(id)+"/"+action, body, http.StatusOK, &resp)
	if err != nil {
		return err
	}
	emit(cmd, raw, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Drill %s is %s\n", resp.ID, resp.Status)
	})
	return nil
}

func printDrills(cmd *cobra.Command, drills []handler.DrillResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tGEN\tNAME\tTYPE\tSCHEDULED\tSTATUS\tSCORE")
	for _, d := range drills {
		score := "-"
		if d.Status == string(domain.DrillStatusCompleted) {
			score = strconv.Itoa(d.Score)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.Generation, d.Name, d.Type, d.ScheduledAt, d.Status, score)
	}
	w.Flush()
}

// reportCmd はコンプライアンスレポートを表示する。
func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the compliance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.ComplianceResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, "/v1/compliance", nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Compliance report generated %s\n", resp.GeneratedAt)
				fmt.Fprintf(out, "  overdue generations:          %d\n", len(resp.OverdueConfigs))
				fmt.Fprintf(out, "  holders due for rotation:     %d\n", len(resp.HoldersDueForRotation))
				fmt.Fprintf(out, "  holders due for training:     %d\n", len(resp.HoldersDueForTraining))
				fmt.Fprintf(out, "  holders due for verification: %d\n", len(resp.HoldersDueForVerification))
				fmt.Fprintf(out, "  drills: %d scheduled, %d completed, %d missed (average score %.1f)\n",
					resp.Drills.Scheduled, resp.Drills.Completed, resp.Drills.Missed, resp.Drills.AverageScore)
				for _, a := range resp.OpenActivations {
					fmt.Fprintf(out, "  open activation %s: %s, %.1fh remaining\n", a.ID, a.Status, a.Progress.HoursRemaining)
				}
				if len(resp.Alerts) == 0 {
					fmt.Fprintln(out, "No alerts.")
					return
				}
				fmt.Fprintln(out, "Alerts:")
				for _, alert := range resp.Alerts {
					fmt.Fprintf(out, "  - %s\n", alert)
				}
			})
			return nil
		},
	}
}

// backupCmd は保管庫バックアップのコマンド群。
func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Store and list vault backups",
	}

	var (
		generation uint
		name       string
	)
	put := &cobra.Command{
		Use:   "put FILE",
		Short: "Encrypt and store a backup for a generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading backup: %w", err)
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			req := handler.PutBackupRequest{Generation: generation, Name: name, Data: data}
			var resp handler.BackupEntryResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, "/v1/backups", req, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%d bytes, sha256 %s)\n", resp.Name, resp.Size, resp.SHA256)
			})
			return nil
		},
	}
	put.Flags().UintVar(&generation, "generation", 0, "Generation (optional, defaults to current)")
	put.Flags().StringVar(&name, "name", "", "Backup name (default: file name)")

	var listGeneration uint
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the backup manifest of a generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/backups"
			if listGeneration > 0 {
				path += "?generation=" + strconv.FormatUint(uint64(listGeneration), 10)
			}
			var resp handler.ManifestResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, path, nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintf(w, "Generation %d\n", resp.Generation)
				fmt.Fprintln(w, "NAME\tSIZE\tSHA256\tSTORED AT")
				for _, e := range resp.Entries {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Name, e.Size, e.SHA256, e.StoredAt)
				}
				w.Flush()
			})
			return nil
		},
	}
	list.Flags().UintVar(&listGeneration, "generation", 0, "Generation (optional, defaults to current)")

	cmd.AddCommand(put, list)
	return cmd
}
