package collector

import (
	"context"
	"errors"

	"FundTracker/internal/model"
)

// ErrNoEstimate is wrapped by every fetch failure: bad status, missing JSONP
// wrapper or an unparseable payload all mean "no estimate this cycle".
var ErrNoEstimate = errors.New("no estimate available")

// Fetcher defines the interface for fetching fund valuation estimates.
type Fetcher interface {
	Fetch(ctx context.Context, code string) (*model.ValuationEstimate, error)
	Name() string
}

// Throttled is implemented by fetchers that pace their requests. Wait blocks
// until the next request may be sent; it is called before the request's own
// deadline starts so that queueing does not eat into it.
type Throttled interface {
	Wait(ctx context.Context) error
}
