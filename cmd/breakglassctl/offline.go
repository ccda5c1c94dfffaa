package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"breakglass-service/internal/handler"
	"breakglass-service/internal/threshold"
	"breakglass-service/internal/usecase"
	"breakglass-service/internal/vault"
)

// keygenCmd は保有者用のage鍵ペアを生成する。秘密鍵はファイルにのみ書き出す。
func keygenCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a holder key pair (offline)",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := threshold.GenerateHolderKey()
			if err != nil {
				return err
			}
			content := fmt.Sprintf("# public key: %s\n%s\n", key.Recipient, key.Identity)
			if err := os.WriteFile(outFile, []byte(content), 0o600); err != nil {
				return fmt.Errorf("writing identity: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.Recipient)
			return nil
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "Identity file to create (required)")
	cmd.MarkFlagRequired("out")
	return cmd
}

// decryptShareCmd は暗号化分割片を保有者の秘密鍵で復号する。
func decryptShareCmd() *cobra.Command {
	var identityFile, outFile string
	cmd := &cobra.Command{
		Use:   "decrypt-share FILE",
		Short: "Decrypt an encrypted share with a holder identity (offline)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ciphertext, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading encrypted share: %w", err)
			}
			share, err := decryptWithIdentityFile(ciphertext, identityFile)
			if err != nil {
				return err
			}
			defer threshold.Wipe(share)

			fingerprint := threshold.Fingerprint(share)
			if outFile == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "fingerprint: %s\n", fingerprint)
				return nil
			}
			if err := os.WriteFile(outFile, share, 0o600); err != nil {
				return fmt.Errorf("writing share: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote share to %s (fingerprint %s)\n", outFile, fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&identityFile, "identity", "", "age identity file (required)")
	cmd.Flags().StringVar(&outFile, "out", "", "Write the plaintext share to this file")
	cmd.MarkFlagRequired("identity")
	return cmd
}

// decryptWithIdentityFile はファイルから秘密鍵を読み、分割片を復号する。
// "#" で始まる行は無視する。
func decryptWithIdentityFile(ciphertext []byte, identityFile string) ([]byte, error) {
	b, err := os.ReadFile(identityFile)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	var identity string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			identity = line
			break
		}
	}
	if identity == "" {
		return nil, fmt.Errorf("no identity found in %s", identityFile)
	}
	return threshold.DecryptShare(ciphertext, identity)
}

// ceremonyShare はオフラインセレモニーで発行した分割片。
type ceremonyShare struct {
	Ordinal        int    `json:"ordinal"`
	Identity       string `json:"identity"`
	RecipientKey   string `json:"recipient_key"`
	EncryptedShare []byte `json:"encrypted_share"`
	Fingerprint    string `json:"fingerprint"`
}

// runOfflineCeremony はマスターシークレットを生成して世代の保管庫を封印し、
// 参加者ごとの暗号化分割片を返す。シークレットは返す前に消去する。
func runOfflineCeremony(ctx context.Context, v *vault.Vault, generation uint, t int, enrollments []usecase.Enrollment) ([]ceremonyShare, error) {
	if err := usecase.ValidateEnrollments(t, len(enrollments), enrollments); err != nil {
		return nil, err
	}
	secret, err := threshold.NewMasterSecret()
	if err != nil {
		return nil, err
	}
	defer threshold.Wipe(secret)

	prepared, err := usecase.PrepareShares(secret, t, enrollments)
	if err != nil {
		return nil, err
	}
	if err := v.Seal(ctx, generation, secret); err != nil {
		return nil, fmt.Errorf("sealing vault: %w", err)
	}

	shares := make([]ceremonyShare, len(prepared))
	for i, p := range prepared {
		shares[i] = ceremonyShare{
			Ordinal:        p.Ordinal,
			Identity:       p.Identity,
			RecipientKey:   p.RecipientKey,
			EncryptedShare: p.EncryptedShare,
			Fingerprint:    p.Fingerprint,
		}
	}
	return shares, nil
}

// ceremonyCmd はサーバーにシークレットを渡さずに世代を封印する。
// 世代は事前に enrollments なしの config init/rotate で作成しておく。
func ceremonyCmd() *cobra.Command {
	var (
		generation      uint
		thresholdN      int
		enrollmentsFile string
		outFile         string
		register        bool
		store           storeFlags
	)
	cmd := &cobra.Command{
		Use:   "ceremony",
		Short: "Run an offline key ceremony for a generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(enrollmentsFile)
			if err != nil {
				return fmt.Errorf("reading enrollments: %w", err)
			}
			var reqs []handler.EnrollmentRequest
			if err := json.Unmarshal(b, &reqs); err != nil {
				return fmt.Errorf("parsing enrollments: %w", err)
			}
			enrollments := make([]usecase.Enrollment, len(reqs))
			for i, e := range reqs {
				enrollments[i] = usecase.Enrollment{
					Identity:          e.Identity,
					RoleLabel:         e.RoleLabel,
					RecipientKey:      e.RecipientKey,
					ContactChannels:   e.ContactChannels,
					TrainingExpiresAt: e.TrainingExpiresAt,
				}
			}

			objects, err := store.open()
			if err != nil {
				return err
			}
			shares, err := runOfflineCeremony(cmd.Context(), vault.New(objects, ""), generation, thresholdN, enrollments)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(shares, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding shares: %w", err)
			}
			if err := os.WriteFile(outFile, out, 0o600); err != nil {
				return fmt.Errorf("writing shares: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sealed generation %d; wrote %d encrypted shares to %s\n", generation, len(shares), outFile)

			if !register {
				return nil
			}
			for i, s := range shares {
				req := handler.RegisterHolderRequest{
					Identity:          s.Identity,
					RoleLabel:         reqs[i].RoleLabel,
					Ordinal:           s.Ordinal,
					EncryptedShare:    s.EncryptedShare,
					ShareFingerprint:  s.Fingerprint,
					RecipientKey:      s.RecipientKey,
					ContactChannels:   reqs[i].ContactChannels,
					TrainingExpiresAt: reqs[i].TrainingExpiresAt,
				}
				var resp handler.HolderResponse
				if _, err := client.do(cmd.Context(), http.MethodPost, "/v1/holders", req, http.StatusCreated, &resp); err != nil {
					return fmt.Errorf("registering %s: %w", s.Identity, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered holder %s (%s, ordinal %d)\n", resp.ID, resp.Identity, resp.Ordinal)
			}
			return nil
		},
	}
	cmd.Flags().UintVar(&generation, "generation", 0, "Generation to seal (required)")
	cmd.Flags().IntVar(&thresholdN, "threshold", 0, "Signatures required for recovery (required)")
	cmd.Flags().StringVar(&enrollmentsFile, "enrollments", "", "JSON file with holder enrollments (required)")
	cmd.Flags().StringVar(&outFile, "out", "shares.json", "Output file for the encrypted shares")
	cmd.Flags().BoolVar(&register, "register", false, "Register the holders with the server after sealing")
	store.register(cmd)
	cmd.MarkFlagRequired("generation")
	cmd.MarkFlagRequired("threshold")
	cmd.MarkFlagRequired("enrollments")
	return cmd
}

// storeFlags は保管庫の格納先を指定するフラグ。既定値は環境変数から取る。
type storeFlags struct {
	dir      string
	bucket   string
	prefix   string
	region   string
	endpoint string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "vault-dir", envOr("VAULT_DIR", "./vault"), "Local vault directory")
	cmd.Flags().StringVar(&f.bucket, "s3-bucket", os.Getenv("S3_BUCKET"), "S3 bucket (uses S3 instead of --vault-dir)")
	cmd.Flags().StringVar(&f.prefix, "s3-prefix", os.Getenv("S3_PREFIX"), "S3 key prefix")
	cmd.Flags().StringVar(&f.region, "s3-region", envOr("S3_REGION", "us-east-1"), "S3 region")
	cmd.Flags().StringVar(&f.endpoint, "s3-endpoint", os.Getenv("S3_ENDPOINT"), "S3-compatible endpoint")
}

func (f *storeFlags) open() (vault.ObjectStore, error) {
	if f.bucket != "" {
		return vault.NewS3Store(vault.S3Config{
			Bucket:    f.bucket,
			Prefix:    f.prefix,
			Region:    f.region,
			Endpoint:  f.endpoint,
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
		})
	}
	return vault.NewFileStore(f.dir)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
