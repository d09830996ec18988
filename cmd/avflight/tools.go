package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/CharlesOkeke1/AirValora/internal/auth"
	"github.com/CharlesOkeke1/AirValora/internal/ingestion"
	"github.com/CharlesOkeke1/AirValora/internal/status"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

func newSeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file|url>",
		Short: "Import a flight schedule (JSON, JSONC or YAML) into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			st, err := openStore(ctx, c.cfg.Store)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, st.Close()) }()

			var opts []ingestion.ClientOption
			if c.cfg.Ingestion.Token != "" {
				opts = append(opts, ingestion.WithBearerToken(c.cfg.Ingestion.Token))
			}
			im := ingestion.NewImporter(st, ingestion.NewClient(opts...), ingestion.DefaultImporterConfig())
			stats, err := im.ImportSource(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d flights (%d new, %d updated, %d failed)\n",
				stats.Total(), stats.Created, stats.Updated, stats.Failed)
			if stats.Failed > 0 {
				return codeError(1, "%d flights failed to import", stats.Failed)
			}
			return nil
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "status <flight-reference>",
		Short: "Print the resolved status and timeline of a flight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			now := time.Now()
			if at != "" {
				t, ok := models.ParseTimestamp(at)
				if !ok {
					return codeError(2, "invalid --at %q", at)
				}
				now = t
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, c.cfg.Store)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, st.Close()) }()

			doc, err := st.Get(ctx, models.FlightsCollection, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return codeError(1, "flight %s not found", args[0])
			}
			if err != nil {
				return err
			}
			var f models.FlightRecord
			if err := doc.Decode(&f); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), args[0], f, now)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "resolve at this RFC 3339 instant instead of now")
	return cmd
}

func printStatus(w io.Writer, ref string, f models.FlightRecord, now time.Time) {
	s := f.Schedule()
	res := status.Resolve(s, now)
	fmt.Fprintf(w, "%s  %s -> %s  %s (%s)\n", ref, f.From, f.To, res.Status, res.Color)

	tl, ok := status.TimelineOf(s)
	if !ok {
		fmt.Fprintln(w, "  departure unknown")
		return
	}
	row := func(name string, t time.Time) {
		fmt.Fprintf(w, "  %-13s %s\n", name, t.Format(time.RFC3339))
	}
	row("scheduled", tl.Scheduled)
	if f.DelayMins > 0 {
		row("departure", tl.Departure)
	}
	row("boarding", tl.Boarding)
	row("takeoff", tl.TakeoffStart)
	row("arrival", tl.Arrival)
	row("landing", tl.Landing)

	p, _ := status.Progress(s, now)
	if f.Progress > p {
		p = f.Progress
	}
	fmt.Fprintf(w, "  %-13s %.0f%%\n", "progress", p*100)
	if f.Landed {
		fmt.Fprintf(w, "  %-13s %s\n", "landed at", f.LandedAt)
	}
}

func newTokenCmd(c *cli) *cobra.Command {
	var (
		name  string
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <uid>",
		Short: "Sign a bearer token with the configured JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := auth.NewVerifier(c.cfg.Auth.JWTSecret, c.cfg.Auth.Issuer)
			if v == nil {
				return codeError(2, "no JWT secret configured (set AVF_JWT_SECRET)")
			}
			tok, err := v.Issue(auth.Principal{UID: args[0], Name: name, Roles: roles}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claims (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
