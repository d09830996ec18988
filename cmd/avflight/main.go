// Command avflight runs the AirValora flight lifecycle service and its
// operator tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CharlesOkeke1/AirValora/internal/config"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// cli holds state shared by every subcommand once flags are parsed.
type cli struct {
	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "avflight",
		Short:         "AirValora flight lifecycle service",
		Long:          "avflight simulates flight progress, settles landed bookings into loyalty miles and serves the booking API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromFlags(cmd.Flags())
			if err != nil {
				return codeError(2, "config: %s", err)
			}
			c.cfg = cfg
			c.log = cfg.Log.Logger(os.Stderr)
			slog.SetDefault(c.log)
			return nil
		},
	}
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(c),
		newSeedCmd(c),
		newStatusCmd(c),
		newTokenCmd(c),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ee *exitErr
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}
