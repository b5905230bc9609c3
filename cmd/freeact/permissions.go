package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freeact-go/freeact/internal/permissions"
)

func newPermissionsCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Inspect and edit the always-allowed tool list",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", ".freeact", "permissions directory")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the always-allowed tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(dir)
			if err != nil {
				return err
			}
			allowed := m.AllowedAlways()
			if len(allowed) == 0 {
				fmt.Println("no tools allowed")
				return nil
			}
			for _, name := range allowed {
				fmt.Println(name)
			}
			return nil
		},
	}

	allow := &cobra.Command{
		Use:   "allow <tool>",
		Short: "Permanently allow a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(dir)
			if err != nil {
				return err
			}
			return m.AllowAlways(args[0])
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <tool>",
		Short: "Remove a tool from the allow-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(dir)
			if err != nil {
				return err
			}
			return m.Revoke(args[0])
		},
	}

	cmd.AddCommand(show, allow, revoke)
	return cmd
}

func loadManager(dir string) (*permissions.Manager, error) {
	m, err := permissions.New(dir)
	if err != nil {
		return nil, err
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}
