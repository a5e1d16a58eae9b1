package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrygo/shepherd/internal/version"
)

func newVersionCmd() *cobra.Command {
	var require string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// Skip .env loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.StringFull())
			if require == "" {
				return nil
			}
			ok, err := version.AtLeast(require)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("version %s is older than required %s", version.Canonical(), require)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&require, "require", "", "fail unless the binary is at least this semver")
	return cmd
}
