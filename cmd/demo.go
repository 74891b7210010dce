package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	ch "github.com/tranz-r/quote-engine/cache/cache"
	"github.com/tranz-r/quote-engine/cache/file"
	"github.com/tranz-r/quote-engine/config"
	"github.com/tranz-r/quote-engine/events/goch"
	"github.com/tranz-r/quote-engine/quote"
	"github.com/tranz-r/quote-engine/remote"
	"github.com/tranz-r/quote-engine/store"
)

// demoCommand drives one full engine pass against a live backend:
// hydrate, activate, patch locally, checkpoint, report the reference.
func demoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "demo",
		Short:   "run the quote engine against a backend",
		Long:    `This command exercises the full engine flow against a running backend: hydration, activation, local edits and the save checkpoint.`,
		Example: `quote-engine demo --server http://localhost:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL, _ := cmd.Flags().GetString("server")
			cacheDir, _ := cmd.Flags().GetString("cache-dir")
			if cacheDir == "" {
				cacheDir = config.DefaultCacheDir()
			}

			backend, err := file.NewFileBackend(cacheDir)
			if err != nil {
				return err
			}
			client := remote.NewHTTPClient(serverURL, nil)
			engine := store.New(client, ch.NewAdapter(backend), goch.NewGoChanQuoteEventBus(16))

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			engine.Hydrate(ctx)
			if err := engine.WaitReady(ctx); err != nil {
				return err
			}
			log.Printf("hydration finished in phase %s", engine.Phase())

			if err := engine.SetActiveQuoteType(ctx, quote.TypeRemovals); err != nil {
				return fmt.Errorf("activation failed: %w", err)
			}

			items := []quote.InventoryItem{
				{Name: "sofa", LengthCm: 220, WidthCm: 95, HeightCm: 80, Quantity: 1},
				{Name: "boxes", LengthCm: 45, WidthCm: 45, HeightCm: 45, Quantity: 12},
			}
			drivers := 2
			engine.UpdateQuote(quote.TypeRemovals, quote.RecordPatch{
				Items:       &items,
				DriverCount: &drivers,
			})

			if ok := engine.SaveQuoteToBackend(ctx, quote.TypeRemovals); !ok {
				return fmt.Errorf("checkpoint save failed, see log for details")
			}
			engine.WaitPersist()

			fmt.Printf("quote reference: %s\n", engine.QuoteReference(quote.TypeRemovals))
			fmt.Printf("collection token: %s\n", engine.CurrentEtag())
			fmt.Printf("cache directory: %s\n", cacheDir)
			return nil
		},
	}

	cmd.Flags().String("server", "http://localhost:8080", "Backend base URL")
	cmd.Flags().String("cache-dir", "", "Local cache directory (defaults to the user cache dir)")

	return cmd
}
