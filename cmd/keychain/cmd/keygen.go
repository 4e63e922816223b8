package cmd

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a P-256 key for signing approval records",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		der, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return fmt.Errorf("failed to encode key: %w", err)
		}
		block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}

		if keygenOut == "" {
			return pem.Encode(cmd.OutOrStdout(), block)
		}
		f, err := os.OpenFile(keygenOut, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", keygenOut, err)
		}
		defer f.Close()
		return pem.Encode(f, block)
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "write the key to this file instead of stdout")
	rootCmd.AddCommand(keygenCmd)
}
