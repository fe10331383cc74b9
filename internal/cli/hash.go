package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	authmemory "github.com/cod31nvictus/eterny/server/auth/memory"
	"github.com/spf13/cobra"
)

// NewHashPasswordCommand prints a bcrypt hash for the password read from
// stdin, ready for a password_hash entry in the config file.
func NewHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				if err == nil {
					err = errors.New("password is empty")
				}
				return WrapExitError(ExitCommandError, "failed to read password", err)
			}
			hash, err := authmemory.HashPassword(password)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to hash password", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
