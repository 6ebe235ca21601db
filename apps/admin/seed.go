package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trezcool/wastewise/storage/database"
)

func (cli *commandLine) newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [FILE]",
		Short: "Upsert the certification types of a yaml file (the bundled catalogue by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			return cli.seed(cmd.Context(), path)
		},
	}
}

func (cli *commandLine) seed(ctx context.Context, path string) error {
	types, err := database.LoadCertificationTypes(path)
	if err != nil {
		return err
	}
	n, err := database.Seed(ctx, cli.certRepo, cli.validate, types)
	if err != nil {
		return err
	}
	cli.logger.Info("certification types seeded", map[string]interface{}{"count": n})
	fmt.Fprintf(cli.out, "%d certification types seeded\n", n)
	return nil
}
