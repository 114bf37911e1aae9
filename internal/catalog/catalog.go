// Package catalog holds the static index-rebalance event table and its
// loading and validation rules. The catalog is read once at process start
// and is immutable for the lifetime of a run; an empty or invalid catalog
// is the one fatal condition in the system, since no backtest can run
// without events.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrEmpty is returned when a catalog contains no events.
var ErrEmpty = errors.New("catalog: no rebalance events")

// Catalog is an ordered, validated sequence of rebalance events. Events are
// kept in announcement order; consumers iterate them as-is.
type Catalog struct {
	events []types.RebalanceEvent
}

// Default returns the built-in Nifty 50 semi-annual rebalance history,
// 2016 through 2025.
func Default() (*Catalog, error) {
	return New(nifty50Events())
}

// New validates the given events and wraps them in a Catalog.
func New(events []types.RebalanceEvent) (*Catalog, error) {
	if len(events) == 0 {
		return nil, ErrEmpty
	}
	if err := validate(events); err != nil {
		return nil, err
	}
	return &Catalog{events: events}, nil
}

// LoadFile reads a JSON event table from disk. The file is an array of
// RebalanceEvent objects with RFC 3339 dates.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var events []types.RebalanceEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	return New(events)
}

// Events returns the catalog's events in announcement order. The returned
// slice is a copy; the catalog itself is never mutated.
func (c *Catalog) Events() []types.RebalanceEvent {
	out := make([]types.RebalanceEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Len returns the number of events.
func (c *Catalog) Len() int { return len(c.events) }

// Span returns the earliest announcement date and the latest effective
// date across the catalog.
func (c *Catalog) Span() (start, end time.Time) {
	start = c.events[0].AnnouncementDate
	end = c.events[0].EffectiveDate
	for _, ev := range c.events[1:] {
		if ev.AnnouncementDate.Before(start) {
			start = ev.AnnouncementDate
		}
		if ev.EffectiveDate.After(end) {
			end = ev.EffectiveDate
		}
	}
	return start, end
}

func validate(events []types.RebalanceEvent) error {
	var prev time.Time
	for i, ev := range events {
		if !ev.EffectiveDate.After(ev.AnnouncementDate) {
			return fmt.Errorf("catalog: event %d: effective date %s not after announcement %s",
				i, ev.EffectiveDate.Format("2006-01-02"), ev.AnnouncementDate.Format("2006-01-02"))
		}
		if len(ev.AddedSymbols) == 0 {
			return fmt.Errorf("catalog: event %d: no added symbols", i)
		}
		if !ev.EstimatedFlow.IsPositive() {
			return fmt.Errorf("catalog: event %d: estimated flow must be positive", i)
		}
		added := make(map[string]bool, len(ev.AddedSymbols))
		for _, s := range ev.AddedSymbols {
			added[s] = true
		}
		for _, s := range ev.RemovedSymbols {
			if added[s] {
				return fmt.Errorf("catalog: event %d: symbol %s both added and removed", i, s)
			}
		}
		if ev.AnnouncementDate.Before(prev) {
			return fmt.Errorf("catalog: event %d: announcement dates out of order", i)
		}
		prev = ev.AnnouncementDate
	}
	return nil
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func event(announced, effective string, added, removed []string, flowCrores int64) types.RebalanceEvent {
	return types.RebalanceEvent{
		AnnouncementDate: date(announced),
		EffectiveDate:    date(effective),
		AddedSymbols:     added,
		RemovedSymbols:   removed,
		EstimatedFlow:    decimal.NewFromInt(flowCrores),
	}
}

// nifty50Events is the semi-annual rebalance history sourced from NSE
// archives. Announcements land in late January/July with effective dates
// at the following quarter end.
func nifty50Events() []types.RebalanceEvent {
	return []types.RebalanceEvent{
		event("2016-01-29", "2016-03-31",
			[]string{"BRITANNIA.NS", "BOSCHLTD.NS"}, []string{"IDFC.NS", "LUPIN.NS"}, 500),
		event("2016-07-29", "2016-09-30",
			[]string{"EICHERMOT.NS", "INFRATEL.NS"}, []string{"CAIRN.NS", "GAIL.NS"}, 600),
		event("2017-01-27", "2017-03-31",
			[]string{"BAJAJFINSV.NS", "HDFCLIFE.NS"}, []string{"BOSCHLTD.NS", "ACC.NS"}, 700),
		event("2017-07-28", "2017-09-29",
			[]string{"VEDL.NS", "HINDZINC.NS"}, []string{"LUPIN.NS", "IDEA.NS"}, 750),
		event("2018-01-26", "2018-03-30",
			[]string{"BAJAJ-AUTO.NS", "UPL.NS"}, []string{"BOSCHLTD.NS", "LUPIN.NS"}, 800),
		event("2018-07-27", "2018-09-28",
			[]string{"INDUSINDBK.NS", "ZEEL.NS"}, []string{"LUPIN.NS", "YESBANK.NS"}, 850),
		event("2019-01-25", "2019-03-29",
			[]string{"BAJAJFINSV.NS", "HDFCLIFE.NS"}, []string{"VEDL.NS", "INFRATEL.NS"}, 900),
		event("2019-07-26", "2019-09-27",
			[]string{"BHARTIARTL.NS", "ICICIPRULI.NS"}, []string{"INFRATEL.NS", "ZEEL.NS"}, 950),
		event("2020-01-24", "2020-03-31",
			[]string{"NESTLEIND.NS", "SHREECEM.NS"}, []string{"VEDL.NS", "YESBANK.NS"}, 1000),
		event("2020-07-31", "2020-09-30",
			[]string{"DIVISLAB.NS", "ADANIPORTS.NS"}, []string{"GRASIM.NS", "VEDL.NS"}, 1100),
		event("2021-01-29", "2021-03-31",
			[]string{"SBILIFE.NS", "BAJAJFINSV.NS"}, []string{"GAIL.NS", "INFRATEL.NS"}, 1200),
		event("2021-07-30", "2021-09-30",
			[]string{"ADANIENT.NS", "TATACONSUM.NS"}, []string{"UPL.NS", "SHREECEM.NS"}, 1300),
		event("2022-01-28", "2022-03-31",
			[]string{"APOLLOHOSP.NS", "HDFCLIFE.NS"}, []string{"ONGC.NS", "INDUSINDBK.NS"}, 1400),
		event("2022-07-29", "2022-09-30",
			[]string{"ADANIPORTS.NS", "TATACONSUM.NS"}, []string{"UPL.NS", "SHREECEM.NS"}, 1500),
		event("2023-01-27", "2023-03-31",
			[]string{"DIXON.NS", "JSWSTEEL.NS"}, []string{"HINDALCO.NS", "UPL.NS"}, 1600),
		event("2023-07-28", "2023-09-29",
			[]string{"LTI.NS", "ADANIGREEN.NS"}, []string{"GAIL.NS", "COALINDIA.NS"}, 1700),
		event("2024-01-26", "2024-03-29",
			[]string{"TRENT.NS", "ZOMATO.NS"}, []string{"HINDALCO.NS", "UPL.NS"}, 1800),
		event("2024-07-26", "2024-09-27",
			[]string{"ADANIENT.NS", "BAJAJFINSV.NS"}, []string{"VEDL.NS", "ONGC.NS"}, 1900),
		event("2025-01-31", "2025-03-31",
			[]string{"IRFC.NS", "PAYTM.NS"}, []string{"GRASIM.NS", "BRITANNIA.NS"}, 2000),
	}
}
