package booking

import (
	"context"
	"log/slog"

	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// Confirmation is sent once a reservation is written.
type Confirmation struct {
	UID         string
	Reservation models.Reservation
}

// Notifier delivers booking confirmations. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, c Confirmation) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, c Confirmation) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, c Confirmation) error { return f(ctx, c) }

// LogNotifier writes confirmations to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, c Confirmation) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	r := c.Reservation
	l.InfoContext(ctx, "booking confirmation",
		"to", r.Email,
		"passenger", r.PassengerName,
		"booking", r.ID,
		"flight", r.FlightReference,
		"route", r.From+"-"+r.To,
		"seat", r.Seat,
	)
	return nil
}
