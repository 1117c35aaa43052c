package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"allies-service/internal/config"
	"allies-service/internal/db"
	"allies-service/internal/marketplace"
	"allies-service/internal/repositories"
)

type seedOptions struct {
	File string
}

func NewSeedCommand() *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load marketplace listings from a YAML catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			f, err := os.Open(opts.File)
			if err != nil {
				return err
			}
			defer f.Close()

			database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer database.Close()

			repo := repositories.NewListingRepository(database, nil, nil)
			n, err := seedCatalog(cmd.Context(), repo, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d listings from %s\n", n, opts.File)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "seed/listings.yaml", "catalog YAML file")

	return cmd
}

// seedCatalog validates the whole catalog before writing any of it.
func seedCatalog(ctx context.Context, repo repositories.ListingRepository, r io.Reader) (int, error) {
	listings, err := marketplace.LoadCatalogYAML(r)
	if err != nil {
		return 0, err
	}
	for i, l := range listings {
		if _, err := repo.Create(ctx, l); err != nil {
			return i, fmt.Errorf("listing %d (%q): %w", i, l.Title, err)
		}
	}
	return len(listings), nil
}
