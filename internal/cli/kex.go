package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbcrypt/protocol"
)

// keyMessage is the printable form of an ECDH answer.
type keyMessage struct {
	KeyID     string `json:"key_id" yaml:"key_id"`
	PublicKey string `json:"public_key" yaml:"public_key"`
}

// sessionKey names the key an exchange produced.
type sessionKey struct {
	KeyID string `json:"key_id" yaml:"key_id"`
}

func newKeyMessage(m protocol.KeyMessage) keyMessage {
	return keyMessage{
		KeyID:     hex.EncodeToString(m.KeyID[:]),
		PublicKey: hex.EncodeToString(m.PublicKey[:]),
	}
}

var kexCmd = &cobra.Command{
	Use:   "kex",
	Short: "Run an ECDH key exchange between two tokens",
	Long: `Run the three-message key exchange. The initiator runs "start" and
sends its public key to the peer, the peer runs "respond" and sends back
its public key, and the initiator finishes with "end". Both sides then
hold a session key with the same key id.`,
}

var kexStartCmd = &cobra.Command{
	Use:   "start <peer-name>",
	Short: "Begin an exchange and print the prekey id and public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession(sess)

		m, err := sess.ECDHStart(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(newKeyMessage(m)))
		return nil
	},
}

var kexRespondCmd = &cobra.Command{
	Use:   "respond <peer-name> <hex-public-key>",
	Short: "Answer a peer's start message and print the key id and public key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := decodeHex("public key", args[1])
		if err != nil {
			return err
		}
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession(sess)

		m, err := sess.ECDHRespond(cmd.Context(), pub, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(newKeyMessage(m)))
		return nil
	},
}

var kexEndCmd = &cobra.Command{
	Use:   "end <hex-public-key> <hex-prekey-id>",
	Short: "Complete an exchange and print the session key id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := decodeHex("public key", args[0])
		if err != nil {
			return err
		}
		prekey, err := decodeHex("prekey id", args[1])
		if err != nil {
			return err
		}
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession(sess)

		id, err := sess.ECDHEnd(cmd.Context(), pub, prekey)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(sessionKey{KeyID: hex.EncodeToString(id)}))
		return nil
	},
}

func init() {
	kexCmd.AddCommand(kexStartCmd, kexRespondCmd, kexEndCmd)
	rootCmd.AddCommand(kexCmd)
}
