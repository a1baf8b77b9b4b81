package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BKyryl/iesi/pkg/schema"
)

func newEncryptCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value into an ENC(...) token for scripts and connectivity files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.crypto == nil {
				return schema.NewError(schema.ErrCodeCrypto, "crypto_key is not configured")
			}
			token, err := a.crypto.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
