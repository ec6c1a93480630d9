package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/pairbot/internal/crypto"
)

func newKeygenCmd() *cobra.Command {
	var (
		out      string
		password string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a vault encryption key",
		Long: `Generate a random AES-256 vault key.

Without --out the key is printed base64-encoded, ready for vault.key or
PAIRBOT_VAULT_KEY. With --out it is sealed with a password (--password or
PAIRBOT_VAULT_KEY_PASSWORD) and written to the file for vault.key_file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), crypto.EncodeKey(key))
				return nil
			}

			if password == "" {
				password = os.Getenv("PAIRBOT_VAULT_KEY_PASSWORD")
			}
			if password == "" {
				return errors.New("keygen: --password or PAIRBOT_VAULT_KEY_PASSWORD is required with --out")
			}
			sealed, err := crypto.SealKeyFile(key, password)
			if err != nil {
				return err
			}
			// O_EXCL: never overwrite a key that may already protect credentials.
			f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return fmt.Errorf("keygen: %w", err)
			}
			if _, err := f.Write(sealed); err != nil {
				_ = f.Close()
				return fmt.Errorf("keygen: write %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("keygen: close %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed vault key written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write a password-sealed key file instead of printing the key")
	cmd.Flags().StringVar(&password, "password", "", "password sealing the key file")
	return cmd
}
