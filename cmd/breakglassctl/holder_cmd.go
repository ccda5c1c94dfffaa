package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"breakglass-service/internal/handler"
	"breakglass-service/internal/threshold"
)

// holderCmd は鍵保有者レジストリのコマンド群。
func holderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holder",
		Short: "Manage key holders",
	}
	cmd.AddCommand(holderRegisterCmd())
	cmd.AddCommand(holderListCmd())
	cmd.AddCommand(holderGetCmd())
	cmd.AddCommand(holderShareCmd())
	cmd.AddCommand(holderTransitionCmd("revoke", "Revoke a holder", "revoke"))
	cmd.AddCommand(holderTransitionCmd("suspend", "Suspend a holder", "suspend"))
	cmd.AddCommand(holderTransitionCmd("reinstate", "Reinstate a suspended holder", "reinstate"))
	cmd.AddCommand(holderTransitionCmd("verify", "Record a share possession check", "verification"))
	cmd.AddCommand(holderTrainingCmd())
	cmd.AddCommand(holderDueCmd())
	return cmd
}

// holderRegisterCmd はオフラインセレモニーで用意した分割片の保有者を登録する。
func holderRegisterCmd() *cobra.Command {
	var (
		req       handler.RegisterHolderRequest
		shareFile string
		training  string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a holder for the current generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if shareFile != "" {
				b, err := os.ReadFile(shareFile)
				if err != nil {
					return fmt.Errorf("reading encrypted share: %w", err)
				}
				req.EncryptedShare = b
			}
			if training != "" {
				t, err := time.Parse(time.RFC3339, training)
				if err != nil {
					return fmt.Errorf("--training-expires must be RFC3339: %w", err)
				}
				req.TrainingExpiresAt = t
			}

			var resp handler.HolderResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, "/v1/holders", req, http.StatusCreated, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Registered holder %s (%s, ordinal %d, generation %d)\n",
					resp.ID, resp.Identity, resp.Ordinal, resp.Generation)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Identity, "identity", "", "Holder identity (required)")
	cmd.Flags().StringVar(&req.RoleLabel, "role", "", "Role label")
	cmd.Flags().IntVar(&req.Ordinal, "ordinal", 0, "Share ordinal (required)")
	cmd.Flags().StringVar(&req.ShareFingerprint, "fingerprint", "", "Share fingerprint (required)")
	cmd.Flags().StringVar(&req.RecipientKey, "recipient", "", "Holder age public key")
	cmd.Flags().StringVar(&shareFile, "encrypted-share", "", "File with the age-encrypted share")
	cmd.Flags().StringSliceVar(&req.ContactChannels, "contact", nil, "Contact channel (email:addr, webhook:url, log:name)")
	cmd.Flags().StringVar(&training, "training-expires", "", "Training expiry (RFC3339)")
	cmd.MarkFlagRequired("identity")
	cmd.MarkFlagRequired("ordinal")
	cmd.MarkFlagRequired("fingerprint")
	return cmd
}

func holderListCmd() *cobra.Command {
	var generation uint
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List holders of a generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/holders"
			if generation > 0 {
				path += "?generation=" + strconv.FormatUint(uint64(generation), 10)
			}
			var resp handler.HolderListResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, path, nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printHolders(cmd, resp.Holders)
			})
			return nil
		},
	}
	cmd.Flags().UintVar(&generation, "generation", 0, "Generation (optional, defaults to current)")
	return cmd
}

func holderGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get HOLDER_ID",
		Short: "Show a holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.HolderResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, "/v1/holders/"+url.PathEscape(args[0]), nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printHolders(cmd, []handler.HolderResponse{resp})
			})
			return nil
		},
	}
}

// holderShareCmd は暗号化分割片を取得し、--identity 指定時は手元で復号する。
func holderShareCmd() *cobra.Command {
	var (
		outFile      string
		identityFile string
	)
	cmd := &cobra.Command{
		Use:   "share HOLDER_ID",
		Short: "Fetch a holder's encrypted share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.EncryptedShareResponse
			if _, err := client.do(cmd.Context(), http.MethodGet, "/v1/holders/"+url.PathEscape(args[0])+"/share", nil, http.StatusOK, &resp); err != nil {
				return err
			}

			data := resp.EncryptedShare
			if identityFile != "" {
				share, err := decryptWithIdentityFile(data, identityFile)
				if err != nil {
					return err
				}
				defer threshold.Wipe(share)
				data = share
			}
			if outFile == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outFile, data, 0o600); err != nil {
				return fmt.Errorf("writing share: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote share of holder %s to %s\n", resp.HolderID, outFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&identityFile, "identity", "", "age identity file to decrypt the share locally")
	return cmd
}

func holderTransitionCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " HOLDER_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp handler.HolderResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, "/v1/holders/"+url.PathEscape(args[0])+"/"+action, nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Holder %s is %s\n", resp.ID, resp.Status)
			})
			return nil
		},
	}
}

func holderTrainingCmd() *cobra.Command {
	var expires string
	cmd := &cobra.Command{
		Use:   "training HOLDER_ID",
		Short: "Record completed training",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if expires != "" {
				t, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("--expires must be RFC3339: %w", err)
				}
				body = handler.RecordTrainingRequest{ExpiresAt: t}
			}
			var resp handler.HolderResponse
			raw, err := client.do(cmd.Context(), http.MethodPost, "/v1/holders/"+url.PathEscape(args[0])+"/training", body, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Training of holder %s valid until %s\n", resp.ID, resp.TrainingExpiresAt)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&expires, "expires", "", "Training expiry (RFC3339, default one year)")
	return cmd
}

func holderDueCmd() *cobra.Command {
	var withinDays int
	cmd := &cobra.Command{
		Use:       "due rotation|training|verification",
		Short:     "List holders due for a reminder",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"rotation", "training", "verification"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/holders/due/%s?within_days=%d", args[0], withinDays)
			var resp handler.HolderListResponse
			raw, err := client.do(cmd.Context(), http.MethodGet, path, nil, http.StatusOK, &resp)
			if err != nil {
				return err
			}
			emit(cmd, raw, func() {
				printHolders(cmd, resp.Holders)
			})
			return nil
		},
	}
	cmd.Flags().IntVar(&withinDays, "within-days", 30, "Look-ahead window in days")
	return cmd
}

func printHolders(cmd *cobra.Command, holders []handler.HolderResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tGEN\tORDINAL\tIDENTITY\tSTATUS\tROTATION DUE\tVERIFICATION DUE\tTRAINING EXPIRES")
	for _, h := range holders {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			h.ID, h.Generation, h.Ordinal, h.Identity, h.Status, h.RotationDueAt, h.VerificationDueAt, h.TrainingExpiresAt)
	}
	w.Flush()
}
