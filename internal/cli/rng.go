package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbcrypt/pkg"
)

var rngCmd = &cobra.Command{
	Use:   "rng [size]",
	Short: "Write random bytes from the token to stdout",
	Long: `Write size random bytes from the token's generator to stdout.
Without a size the output streams until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := int64(-1)
		if len(args) == 1 {
			v, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || v < 0 {
				return fmt.Errorf("%w: size %q", pkg.ErrInvalidParameter, args[0])
			}
			n = v
		}

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession(sess)

		err = sess.RNGTo(cmd.Context(), cmd.OutOrStdout(), n)
		if n < 0 && errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(rngCmd)
}
