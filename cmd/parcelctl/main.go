// Command parcelctl operates on a shipment ledger directly through its
// configured store. It must not run alongside a parceld using the same slot.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/ParcelLedger/internal/chain"
	"github.com/jmerrifield20/ParcelLedger/internal/config"
	"github.com/jmerrifield20/ParcelLedger/internal/identity"
	"github.com/jmerrifield20/ParcelLedger/internal/shipment"
	"github.com/jmerrifield20/ParcelLedger/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile      string
	outputFormat string
	debug        bool

	cfg    *config.Config
	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "parcelctl",
	Short: "Shipment ledger CLI",
	Long: `parcelctl registers and tracks shipments on a hash-linked ledger.

It reads and writes the ledger slot configured for parceld (see
configs/parceld.yaml and PARCEL_* environment variables), so stop the
server before running write commands against the same store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
		}
		switch outputFormat {
		case formatText, formatJSON, formatYAML:
		default:
			return fmt.Errorf("unknown --format %q (want text, json or yaml)", outputFormat)
		}

		var err error
		cfg, err = config.Load(config.New(), cfgFile)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/parceld.yaml or ./parceld.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatText, "Output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log ledger and store activity to stderr")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deliverCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// openService loads the configured ledger. The returned close func releases
// the store.
func openService(ctx context.Context) (*shipment.Service, func(), error) {
	backend, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	l, err := chain.NewAdapter(backend, cfg.Ledger.Key, logger).
		LoadOrNew(ctx, shipment.Genesis{Message: cfg.Ledger.GenesisMessage})
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return shipment.NewService(l, logger), func() { _ = backend.Close() }, nil
}

// ── register ─────────────────────────────────────────────────────────────────

var regDetails shipment.Details

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new shipment and print its tracking code",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, done, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		sh, err := svc.Register(cmd.Context(), regDetails)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), sh, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Tracking code:\t%s\n", sh.TrackingCode)
			fmt.Fprintf(w, "Sequence:\t%d\n", sh.Sequence)
		})
	},
}

func init() {
	f := registerCmd.Flags()
	f.StringVar(&regDetails.Recipient, "recipient", "", "Recipient name (required)")
	f.StringVar(&regDetails.Origin, "origin", "", "Origin city (required)")
	f.StringVar(&regDetails.Destination, "destination", "", "Destination city (required)")
	f.Float64Var(&regDetails.Value, "value", 0, "Declared value, charged on delivery")
	f.StringVar(&regDetails.Description, "description", "", "Contents description")
	f.StringVar(&regDetails.Dimensions, "dimensions", "", "Package dimensions, e.g. 30x20x10")
	f.Float64Var(&regDetails.Weight, "weight", 0, "Weight in kg")
	_ = registerCmd.MarkFlagRequired("recipient")
	_ = registerCmd.MarkFlagRequired("origin")
	_ = registerCmd.MarkFlagRequired("destination")
}

// ── status ───────────────────────────────────────────────────────────────────

var (
	statusState string
	statusCity  string
)

var statusCmd = &cobra.Command{
	Use:   "status <tracking-code>",
	Short: "Append a status update to a shipment's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, done, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		rec, err := svc.UpdateStatus(cmd.Context(), args[0], shipment.Status{State: statusState, CurrentCity: statusCity})
		if err != nil {
			return err
		}
		return renderRecord(cmd, rec)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusState, "state", "", "New state, e.g. \"In transit\" (required)")
	statusCmd.Flags().StringVar(&statusCity, "city", "", "Current city")
	_ = statusCmd.MarkFlagRequired("state")
}

// ── deliver ──────────────────────────────────────────────────────────────────

var deliverCondition string

var deliverCmd = &cobra.Command{
	Use:   "deliver <tracking-code>",
	Short: "Confirm delivery of a shipment at its destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, done, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		rec, err := svc.ConfirmDelivery(cmd.Context(), args[0], deliverCondition)
		if err != nil {
			return err
		}
		return renderRecord(cmd, rec)
	},
}

func init() {
	deliverCmd.Flags().StringVar(&deliverCondition, "condition", "", "Package condition on arrival (required)")
	_ = deliverCmd.MarkFlagRequired("condition")
}

// ── track ────────────────────────────────────────────────────────────────────

var trackCmd = &cobra.Command{
	Use:   "track <tracking-code>",
	Short: "Show a shipment and its status history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, done, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		sh, err := svc.Track(cmd.Context(), args[0])
		if errors.Is(err, chain.ErrNotFound) {
			return fmt.Errorf("no shipment with tracking code %q", args[0])
		}
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), sh, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Tracking code:\t%s\n", sh.TrackingCode)
			fmt.Fprintf(w, "Registered:\t%s\n", sh.RegisteredAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Recipient:\t%s\n", sh.Details.Recipient)
			fmt.Fprintf(w, "Route:\t%s -> %s\n", sh.Details.Origin, sh.Details.Destination)
			fmt.Fprintf(w, "State:\t%s\n", sh.Latest.State)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "SEQ\tTIME\tSTATE\tCITY\tHASH")
			for _, rec := range sh.History {
				var st shipment.Status
				_ = rec.Decode(&st)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					rec.Sequence, rec.CreatedAt.Time().Format(time.RFC3339), st.State, st.CurrentCity, short(rec.Hash))
			}
		})
	},
}

// ── list ─────────────────────────────────────────────────────────────────────

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered shipments",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, done, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		list, err := svc.List(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), list, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "CODE\tRECIPIENT\tDESTINATION\tSTATE\tCITY\tUPDATES")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					short(s.TrackingCode), s.Recipient, s.Destination, s.State, s.CurrentCity, s.Updates)
			}
		})
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check hash linkage of the ledger and every status history",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, done, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		entries, root := svc.Stats()
		result := struct {
			Valid   bool   `json:"valid"`
			Entries int    `json:"entries"`
			Root    string `json:"root"`
			Error   string `json:"error,omitempty"`
		}{Valid: true, Entries: entries, Root: root}
		verr := svc.Verify(cmd.Context())
		if verr != nil {
			result.Valid = false
			result.Error = verr.Error()
		}

		if err := render(cmd.OutOrStdout(), result, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Entries:\t%d\n", result.Entries)
			fmt.Fprintf(w, "Root:\t%s\n", result.Root)
			if result.Valid {
				fmt.Fprintln(w, "Valid:\tyes")
			} else {
				fmt.Fprintf(w, "Valid:\tno (%s)\n", result.Error)
			}
		}); err != nil {
			return err
		}
		return verr
	},
}

// ── dump ─────────────────────────────────────────────────────────────────────

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the stored ledger exactly as persisted",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, done, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		data, err := svc.Snapshot()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator token for parceld write routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Server.JWTSecret == "" {
			return errors.New("server.jwt_secret is not configured")
		}
		tokens, err := identity.NewTokenIssuer([]byte(cfg.Server.JWTSecret), "parceld", cfg.Server.TokenTTL)
		if err != nil {
			return err
		}
		token, err := tokens.Issue(tokenSubject)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Operator name recorded in the token")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the parcelctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "parcelctl %s\n", version)
	},
}

func renderRecord(cmd *cobra.Command, rec *chain.Record) error {
	return render(cmd.OutOrStdout(), rec, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Sequence:\t%d\n", rec.Sequence)
		fmt.Fprintf(w, "Hash:\t%s\n", rec.Hash)
		fmt.Fprintf(w, "Previous:\t%s\n", rec.PreviousHash)
	})
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
