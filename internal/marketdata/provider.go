// Package marketdata supplies daily price bars to the backtest core. The
// core treats every lookup as an opaque, possibly empty result: a symbol
// with no data in a window is a normal outcome, not an error.
package marketdata

import (
	"context"
	"time"

	"github.com/quantdesk/rebalance-backend/pkg/types"
)

// Provider supplies daily OHLC bars for a symbol over a date range. An
// empty slice with a nil error means no data is available for the window;
// errors are reserved for actual lookup failures (I/O, corrupt files).
type Provider interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]types.PriceBar, error)
}
