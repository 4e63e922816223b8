package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/layer-3/keychain/adapters/tokenizer"
	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/internal/config"
	"github.com/layer-3/keychain/service"
)

const (
	defaultSurface  = "approval-ui"
	surfaceTokenTTL = 24 * time.Hour
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect and build registration, approval and surface tokens",
}

var tokenDecodeCmd = &cobra.Command{
	Use:   "decode <token>",
	Short: "Print the registration carried by a redirect token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := service.DecodeRegistration(args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(struct {
			*core.SessionRegistration
			Expired bool `json:"expired"`
		}{reg, !reg.Valid(time.Now())}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

var (
	tokenAddress  string
	tokenUsername string
	tokenTTL      time.Duration
)

var tokenEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build a redirect token for an address",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenAddress == "" {
			return fmt.Errorf("--address is required: %w", core.ErrInvalidParams)
		}
		token, err := service.EncodeRegistration(&core.SessionRegistration{
			Username:  tokenUsername,
			Address:   tokenAddress,
			ExpiresAt: time.Now().Add(tokenTTL).Unix(),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

var surfaceTTL time.Duration

var tokenSurfaceCmd = &cobra.Command{
	Use:   "surface [name]",
	Short: "Issue a bearer token for an approval surface",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tk, err := configuredTokenizer()
		if err != nil {
			return err
		}
		name := defaultSurface
		if len(args) == 1 {
			name = args[0]
		}
		token, err := tk.SurfaceToken(name, surfaceTTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

var (
	approveRequestID  string
	approveOrigin     string
	approveSessionKey string
	approveSessionTTL time.Duration
	approveTTL        time.Duration
)

var tokenApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Sign an approval record for a detached connect",
	RunE: func(cmd *cobra.Command, args []string) error {
		if approveRequestID == "" || approveOrigin == "" || tokenAddress == "" {
			return fmt.Errorf("--request-id, --origin and --address are required: %w", core.ErrInvalidParams)
		}
		tk, err := configuredTokenizer()
		if err != nil {
			return err
		}
		now := time.Now()
		token, err := tk.ApprovalToToken(&core.Approval{
			RequestID:        approveRequestID,
			Origin:           approveOrigin,
			Address:          tokenAddress,
			SessionExpiresAt: now.Add(approveSessionTTL).Unix(),
			SessionKeyPublic: approveSessionKey,
			IssuedAt:         now,
			ExpiresAt:        now.Add(approveTTL),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

// configuredTokenizer signs with the key the server is configured with.
func configuredTokenizer() (*tokenizer.JWTTokenizer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("signing_key_file is not configured: %w", core.ErrInvalidParams)
	}
	data, err := os.ReadFile(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := parseSigningKey(data)
	if err != nil {
		return nil, err
	}
	return tokenizer.NewJWTTokenizer(key), nil
}

func init() {
	tokenSurfaceCmd.Flags().DurationVar(&surfaceTTL, "ttl", surfaceTokenTTL, "time until the surface token expires")

	tokenApproveCmd.Flags().StringVar(&approveRequestID, "request-id", "", "request id shown by the approval surface")
	tokenApproveCmd.Flags().StringVar(&approveOrigin, "origin", "", "application origin being approved")
	tokenApproveCmd.Flags().StringVar(&tokenAddress, "address", "", "controller address")
	tokenApproveCmd.Flags().StringVar(&approveSessionKey, "session-key", "", "session public key, the keychain signer when empty")
	tokenApproveCmd.Flags().DurationVar(&approveSessionTTL, "session-ttl", service.DefaultSessionTTL, "lifetime of the granted session")
	tokenApproveCmd.Flags().DurationVar(&approveTTL, "ttl", service.DefaultApprovalTimeout, "time until the approval record expires")

	tokenEncodeCmd.Flags().StringVar(&tokenAddress, "address", "", "controller address")
	tokenEncodeCmd.Flags().StringVar(&tokenUsername, "username", "", "controller username")
	tokenEncodeCmd.Flags().DurationVar(&tokenTTL, "ttl", service.DefaultSessionTTL, "time until the registration expires")

	tokenCmd.AddCommand(tokenDecodeCmd, tokenEncodeCmd, tokenSurfaceCmd, tokenApproveCmd)
	rootCmd.AddCommand(tokenCmd)
}
