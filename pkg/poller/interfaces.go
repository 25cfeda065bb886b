package poller

//go:generate mockgen -destination=mock_poller.go -package=poller github.com/carverauto/guestmem/pkg/poller Clock,Ticker,Fetcher,Discoverer,EventPublisher

import (
	"context"
	"time"

	"github.com/carverauto/guestmem/pkg/fetch"
	"github.com/carverauto/guestmem/pkg/models"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Fetcher measures one VM. It reports failures in the result, never by panicking.
type Fetcher interface {
	Fetch(ctx context.Context, entry models.VMEntry) fetch.Result
}

// Discoverer returns the auto-discovered entries for a tick.
type Discoverer interface {
	Discover(ctx context.Context, tick uint64) ([]models.VMEntry, error)
}

// EventPublisher receives VM health transitions.
type EventPublisher interface {
	PublishVMHealthEvent(ctx context.Context, data *models.VMHealthEventData) error
}
