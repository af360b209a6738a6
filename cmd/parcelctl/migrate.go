package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jmerrifield20/ParcelLedger/internal/chain"
	"github.com/jmerrifield20/ParcelLedger/internal/config"
	"github.com/jmerrifield20/ParcelLedger/internal/shipment"
	"github.com/jmerrifield20/ParcelLedger/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateTarget string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy the ledger to the store described by another config file",
	Long: `migrate copies the configured ledger slot, unchanged, into the store and
key named by --target (for example from the file driver to postgres).

The source must verify before anything is written, and the copy is read
back and compared byte for byte afterwards.

  parcelctl migrate --config parceld.yaml --target postgres.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		target, err := config.Load(config.New(), migrateTarget)
		if err != nil {
			return fmt.Errorf("target config: %w", err)
		}

		src, err := store.Open(ctx, cfg.Store, logger)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		ledger, err := chain.NewAdapter(src, cfg.Ledger.Key, logger).Load(ctx)
		if errors.Is(err, chain.ErrEmpty) {
			return fmt.Errorf("source slot %q holds no ledger", cfg.Ledger.Key)
		}
		if err != nil {
			return err
		}
		if err := shipment.NewService(ledger, logger).Verify(ctx); err != nil {
			return fmt.Errorf("source ledger: %w", err)
		}

		dst, err := store.Open(ctx, target.Store, logger)
		if err != nil {
			return err
		}
		defer dst.Close() //nolint:errcheck

		dstAdapter := chain.NewAdapter(dst, target.Ledger.Key, logger)
		if err := dstAdapter.Save(ctx, ledger); err != nil {
			return err
		}

		want, err := chain.Encode(ledger)
		if err != nil {
			return err
		}
		copied, err := dstAdapter.Load(ctx)
		if err != nil {
			return fmt.Errorf("read back copy: %w", err)
		}
		got, err := chain.Encode(copied)
		if err != nil {
			return err
		}
		if !bytes.Equal(want, got) {
			return errors.New("copy differs from source after read-back")
		}

		logger.Info("ledger migrated",
			zap.String("from", cfg.Store.Driver),
			zap.String("to", target.Store.Driver),
			zap.Int("entries", ledger.Len()),
		)
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "copied %d records from %s:%s to %s:%s\n",
			ledger.Len(), cfg.Store.Driver, cfg.Ledger.Key, target.Store.Driver, target.Ledger.Key)
		return err
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateTarget, "target", "", "config file describing the destination store (required)")
	_ = migrateCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(migrateCmd)
}
