package formulas

// TradeLevels holds the stop and the two profit targets for an entry.
type TradeLevels struct {
	Stop float64
	TP1  float64
	TP2  float64
}

// CalculateTradeLevels derives the default ATR-based stop and targets.
//
// Long side:
//
//	stop = entry - 1.5×ATR
//	tp1  = entry + k×ATR
//	tp2  = entry + 1.5k×ATR
//
// Short side is symmetric. k defaults to 2.0 at the call sites.
func CalculateTradeLevels(entry, atr, k float64, short bool) TradeLevels {
	if short {
		return TradeLevels{
			Stop: entry + 1.5*atr,
			TP1:  entry - k*atr,
			TP2:  entry - 1.5*k*atr,
		}
	}
	return TradeLevels{
		Stop: entry - 1.5*atr,
		TP1:  entry + k*atr,
		TP2:  entry + 1.5*k*atr,
	}
}
