package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepaffex/dfx/internal/config"
)

func configCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the credential cache",
	}
	cmd.PersistentFlags().StringVar(&path, "config", "", "Credential cache file (default: user config dir)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the credential cache location",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := cachePath(path)
				if err != nil {
					return err
				}
				fmt.Println(p)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop all cached device and user tokens",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := cachePath(path)
				if err != nil {
					return err
				}
				cache, err := config.Load(p)
				if err != nil {
					return err
				}
				cache.Clear()
				if err := cache.Save(); err != nil {
					return err
				}
				fmt.Printf("cleared %s\n", p)
				return nil
			},
		},
	)

	return cmd
}

func cachePath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	return config.DefaultPath()
}
