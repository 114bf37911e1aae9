// Package fees computes exact brokerage transaction charges for a single
// order leg. The schedules mirror the published delivery (CNC) and intraday
// (MIS) equity rate cards: statutory levies are percentages of turnover,
// the regulator fee and the stamp-duty cap are quoted per crore
// (10,000,000) of turnover, and the depository charge is a flat amount on
// delivery sells. All arithmetic is pure and deterministic; net P&L ranking
// depends on these formulas being applied exactly.
package fees

import (
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	crore = decimal.New(1, 7) // 10,000,000

	// Delivery schedule
	deliverySTTRate   = decimal.NewFromFloat(0.001)   // 0.1% both legs
	deliveryStampRate = decimal.NewFromFloat(0.00015) // 0.015% buy only
	stampCapPerCrore  = decimal.NewFromInt(1500)
	dpCharge          = decimal.NewFromFloat(15.34) // per scrip, sell only

	// Intraday schedule
	intradayBrokerageCap  = decimal.NewFromInt(20)
	intradayBrokerageRate = decimal.NewFromFloat(0.0003)  // 0.03% per leg
	intradaySTTRate       = decimal.NewFromFloat(0.00025) // 0.025% sell only
	intradayStampRate     = decimal.NewFromFloat(0.00003) // 0.003% buy only

	// Common to both modes
	exchangeTxnRate   = decimal.NewFromFloat(0.0000297) // 0.00297% both legs
	regulatorPerCrore = decimal.NewFromInt(10)
	gstRate           = decimal.NewFromFloat(0.18)
)

// Cost returns the total transaction charge for one order leg. Price must
// be positive and quantity a positive share count; mode selects the
// delivery or intraday schedule.
func Cost(price decimal.Decimal, quantity int64, isBuy bool, mode types.TradeMode) decimal.Decimal {
	turnover := price.Mul(decimal.NewFromInt(quantity))
	if mode == types.TradeModeIntraday {
		return intradayCost(turnover, isBuy)
	}
	return deliveryCost(turnover, isBuy)
}

// RoundTrip returns the combined entry and exit charges for a full
// position: a buy then a sell for longs, a sell then a buy for shorts.
func RoundTrip(entryPrice, exitPrice decimal.Decimal, quantity int64, direction types.Direction, mode types.TradeMode) decimal.Decimal {
	entryIsBuy := direction == types.DirectionLong
	entry := Cost(entryPrice, quantity, entryIsBuy, mode)
	exit := Cost(exitPrice, quantity, !entryIsBuy, mode)
	return entry.Add(exit)
}

func deliveryCost(turnover decimal.Decimal, isBuy bool) decimal.Decimal {
	stt := turnover.Mul(deliverySTTRate)
	txn := turnover.Mul(exchangeTxnRate)
	regulator := turnover.Div(crore).Mul(regulatorPerCrore)
	gst := txn.Add(regulator).Mul(gstRate)

	total := stt.Add(txn).Add(regulator).Add(gst)

	if isBuy {
		stamp := decimal.Min(
			turnover.Mul(deliveryStampRate),
			turnover.Div(crore).Mul(stampCapPerCrore),
		)
		total = total.Add(stamp)
	} else {
		total = total.Add(dpCharge)
	}

	return total
}

func intradayCost(turnover decimal.Decimal, isBuy bool) decimal.Decimal {
	brokerage := decimal.Min(intradayBrokerageCap, turnover.Mul(intradayBrokerageRate))
	txn := turnover.Mul(exchangeTxnRate)
	regulator := turnover.Div(crore).Mul(regulatorPerCrore)
	gst := brokerage.Add(txn).Add(regulator).Mul(gstRate)

	total := brokerage.Add(txn).Add(regulator).Add(gst)

	if isBuy {
		total = total.Add(turnover.Mul(intradayStampRate))
	} else {
		total = total.Add(turnover.Mul(intradaySTTRate))
	}

	return total
}
