package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbcrypt/pkg"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt stdin to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession(sess)
		return sess.EncryptStream(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt stdin to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession(sess)
		return sess.DecryptStream(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign stdin and print the signature in hex",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession(sess)

		sig, err := sess.SignStream(cmd.Context(), cmd.InOrStdin())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sig))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <hex-signature>",
	Short: "Verify a signature over stdin; exits 1 when it does not match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := decodeHex("signature", args[0])
		if err != nil {
			return err
		}
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession(sess)

		ok, err := sess.VerifyStream(cmd.Context(), sig, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "invalid")
			return &exitError{code: 1}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "valid")
		return nil
	},
}

func decodeHex(what, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not hex: %v", pkg.ErrInvalidParameter, what, err)
	}
	return b, nil
}

func init() {
	rootCmd.AddCommand(encryptCmd, decryptCmd, signCmd, verifyCmd)
}
