package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"breakglass-service/internal/handler"
	"breakglass-service/internal/threshold"
)

// activationCmd は緊急発動のコマンド群。
func activationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "activation",
		Aliases: []string{"act"},
		Short:   "Manage emergency activations",
	}
	cmd.AddCommand(activationCreateCmd())
	cmd.AddCommand(activationListCmd())
	cmd.AddCommand(activationGetCmd())
	cmd.AddCommand(activationSignCmd())
	cmd.AddCommand(activationRejectCmd())
	cmd.AddCommand(activationCancelCmd())
	cmd.AddCommand(activationExtendCmd())
	cmd.AddCommand(activationResolveCmd())
	cmd.AddCommand(activationRetryCmd())
	cmd.AddCommand(activationProgressCmd())
	cmd.AddCommand(activationComponentsCmd())
	return cmd
}

func activationPath(id, action string) string {
	p := "/v1/activations/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func activationCreateCmd() *cobra.Command {
	var req handler.ActivateRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Declare an emergency",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.ActivationResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, "/v1/activations", req, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Activation %s created (generation %d, %d-of-%d signatures required)\n",
					resp.ID, resp.Generation, resp.Threshold, resp.TotalShares)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&req.TriggerRef, "trigger", "", "Incident reference (required)")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Reason (required)")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "Severity: critical, high, medium, low (required)")
	cmd.Flags().StringVar(&req.ActivatedBy, "by", "", "Declaring operator (required)")
	for _, f := range []string{"trigger", "reason", "severity", "by"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func activationListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/activations"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			var resp handler.ActivationListResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, path, nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tSEVERITY\tSTATUS\tSIGNATURES\tACTIVATED AT")
				for _, a := range resp.Activations {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", a.ID, a.Severity, a.Status, a.SignaturesReceived, a.Threshold, a.ActivatedAt)
				}
				w.Flush()
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

func activationGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ACTIVATION_ID",
		Short: "Show an activation with its action log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.ActivationResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, activationPath(args[0], ""), nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printActivation(cmd, resp)
			})
			return nil
		},
	}
}

// activationSignCmd は保有者の分割片を手元で復号して署名として提出する。
// 平文の分割片を直接渡す場合は --share、暗号化分割片を復号する場合は --identity を使う。
func activationSignCmd() *cobra.Command {
	var (
		holderID       string
		shareFile      string
		identityFile   string
		encryptedShare string
	)
	cmd := &cobra.Command{
		Use:   "sign ACTIVATION_ID",
		Short: "Submit a holder signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			share, err := loadShare(cmd, holderID, shareFile, identityFile, encryptedShare)
			if err != nil {
				return err
			}
			defer threshold.Wipe(share)

			req := handler.SubmitSignatureRequest{HolderID: holderID, Share: share}
			var resp handler.SignatureResultResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, activationPath(args[0], "signatures"), req, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Signature accepted in slot %d (%d received, status %s)\n", resp.Slot, resp.SignaturesReceived, resp.Status)
				if resp.QuorumReached {
					fmt.Fprintln(out, "Quorum reached; recovery started")
				}
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&holderID, "holder", "", "Holder ID (required)")
	cmd.Flags().StringVar(&shareFile, "share", "", "File with the plaintext share")
	cmd.Flags().StringVar(&identityFile, "identity", "", "age identity file to decrypt the share")
	cmd.Flags().StringVar(&encryptedShare, "encrypted-share", "", "File with the encrypted share (default: fetched from the server)")
	cmd.MarkFlagRequired("holder")
	cmd.MarkFlagsMutuallyExclusive("share", "identity")
	cmd.MarkFlagsOneRequired("share", "identity")
	return cmd
}

// loadShare は署名に使う平文の分割片を用意する。
func loadShare(cmd *cobra.Command, holderID, shareFile, identityFile, encryptedFile string) ([]byte, error) {
	if shareFile != "" {
		b, err := os.ReadFile(shareFile)
		if err != nil {
			return nil, fmt.Errorf("reading share: %w", err)
		}
		return b, nil
	}

	var ciphertext []byte
	if encryptedFile != "" {
		b, err := os.ReadFile(encryptedFile)
		if err != nil {
			return nil, fmt.Errorf("reading encrypted share: %w", err)
		}
		ciphertext = b
	} else {
		var resp handler.EncryptedShareResponse
		if _, err := client.do(cmd.Context(), http.MethodGet, "/v1/holders/"+url.PathEscape(holderID)+"/share", nil, http.StatusOK, &resp); err != nil {
			return nil, err
		}
		ciphertext = resp.EncryptedShare
	}
	return decryptWithIdentityFile(ciphertext, identityFile)
}

func activationRejectCmd() *cobra.Command {
	var req handler.RejectRequest
	cmd := &cobra.Command{
		Use:   "reject ACTIVATION_ID",
		Short: "Record a holder rejection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.RejectionResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, activationPath(args[0], "rejections"), req, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Rejection by holder %s recorded at %s\n", resp.HolderID, resp.RejectedAt)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&req.HolderID, "holder", "", "Holder ID (required)")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Reason")
	cmd.MarkFlagRequired("holder")
	return cmd
}

func activationCancelCmd() *cobra.Command {
	var req handler.CancelRequest
	cmd := &cobra.Command{
		Use:   "cancel ACTIVATION_ID",
		Short: "Cancel an activation that is collecting signatures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postActivation(cmd, args[0], "cancel", req)
		},
	}
	cmd.Flags().StringVar(&req.By, "by", "", "Cancelling operator (required)")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Reason (required)")
	cmd.MarkFlagRequired("by")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func activationExtendCmd() *cobra.Command {
	var req handler.ExtendRequest
	cmd := &cobra.Command{
		Use:   "extend ACTIVATION_ID",
		Short: "Record an extension beyond the recovery target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postActivation(cmd, args[0], "extend", req)
		},
	}
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Reason (required)")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func activationResolveCmd() *cobra.Command {
	var req handler.ResolveRequest
	cmd := &cobra.Command{
		Use:   "resolve ACTIVATION_ID",
		Short: "Mark a completed recovery as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postActivation(cmd, args[0], "resolve", req)
		},
	}
	cmd.Flags().StringVar(&req.By, "by", "", "Resolving operator (required)")
	cmd.MarkFlagRequired("by")
	return cmd
}

func postActivation(cmd *cobra.Command, id, action string, body any) error {
	var resp handler.ActivationResponse
	raw, err := client.do(cmd.Context(), http.MethodPost, activationPath(id, action), body, http.StatusOK, &resp)
	if err != nil {
		return err
	}
	emit(cmd, raw, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Activation %s is %s\n", resp.ID, resp.Status)
	})
	return nil
}

func activationRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry ACTIVATION_ID",
		Short: "Retry a stalled recovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.do(cmd.Context(), http.MethodPost, activationPath(args[0], "retry"), nil, http.StatusAccepted, nil); err != nil {
				return err
			}
			emit(cmd, []byte("{}"), func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Recovery of activation %s restarted; follow it with 'activation get'\n", args[0])
			})
			return nil
		},
	}
}

func activationProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress ACTIVATION_ID",
		Short: "Show recovery progress against the targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.ProgressResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, activationPath(args[0], "progress"), nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printProgress(cmd, resp)
			})
			return nil
		},
	}
}

func activationComponentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "components ACTIVATION_ID",
		Short: "Show per-component recovery deadlines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.ComponentStatusListResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, activationPath(args[0], "components"), nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "COMPONENT\tTIER\tDEADLINE\tHOURS LEFT\tBREACHED")
				for _, c := range resp.Components {
					fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%t\n", c.Component, c.Tier, c.RecoveryDeadline, c.HoursRemaining, c.Breached)
				}
				w.Flush()
			})
			return nil
		},
	}
}

func printActivation(cmd *cobra.Command, a handler.ActivationResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Activation %s\n", a.ID)
	fmt.Fprintf(out, "  trigger:    %s (%s)\n", a.TriggerRef, a.Severity)
	fmt.Fprintf(out, "  reason:     %s\n", a.Reason)
	fmt.Fprintf(out, "  declared:   %s by %s\n", a.ActivatedAt, a.ActivatedBy)
	fmt.Fprintf(out, "  status:     %s (%d/%d signatures, generation %d)\n", a.Status, a.SignaturesReceived, a.Threshold, a.Generation)
	if a.LastRecoveryError != "" {
		fmt.Fprintf(out, "  last error: %s\n", a.LastRecoveryError)
	}
	for _, act := range a.Actions {
		fmt.Fprintf(out, "  #%d %s %s %s\n", act.Sequence, act.RecordedAt, act.Action, act.Detail)
	}
}

func printProgress(cmd *cobra.Command, p handler.ProgressResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Activation %s: %.1fh elapsed, %.1fh remaining (%d%%, on track: %t)\n",
		p.ActivationID, p.HoursElapsed, p.HoursRemaining, p.PercentComplete, p.OnTrack)
	fmt.Fprintf(out, "Breach notification due %s (%.1fh left)\n", p.BreachNotificationDeadline, p.BreachNotificationRemaining)
	for _, m := range p.Milestones {
		fmt.Fprintf(out, "  %-28s %5.1fh  %s\n", m.Name, m.TargetHours, m.Status)
	}
}
