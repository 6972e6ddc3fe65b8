package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/oxd/internal/storage"
)

func newPurgeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove all registered sites from storage",
		Long: `Remove every relying party stored in the configured storage backend.

Registered clients stay registered at their OpenID Providers; only the local
records are deleted. Run this while the daemon is stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("refusing to purge without --force")
			}
			logger := newLogger(cmd.ErrOrStderr())

			conf, err := loadConfiguration(settings)
			if err != nil {
				return err
			}

			store, err := storage.New(cmd.Context(), conf, logger)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			count, err := store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read storage: %w", err)
			}
			if err := store.RemoveAll(cmd.Context()); err != nil {
				return fmt.Errorf("failed to purge storage: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d site(s) from %s storage\n", count, conf.Storage)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm removal of all stored sites")
	return cmd
}
