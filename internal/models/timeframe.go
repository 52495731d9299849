package models

// timeframeMs maps supported candle timeframes to their width in
// milliseconds.
var timeframeMs = map[string]int64{
	"1m":  60_000,
	"3m":  180_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"2h":  7_200_000,
	"4h":  14_400_000,
	"6h":  21_600_000,
	"8h":  28_800_000,
	"12h": 43_200_000,
	"1d":  86_400_000,
	"3d":  259_200_000,
	"1w":  604_800_000,
	"1M":  2_592_000_000,
}

// TimeframeMs returns the width of a timeframe in milliseconds. The
// second return value is false for unknown timeframes.
func TimeframeMs(timeframe string) (int64, bool) {
	ms, ok := timeframeMs[timeframe]
	return ms, ok
}

// ValidTimeframe reports whether a timeframe is supported.
func ValidTimeframe(timeframe string) bool {
	_, ok := timeframeMs[timeframe]
	return ok
}

// Timeframes returns all supported timeframes in ascending width order.
func Timeframes() []string {
	return []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M"}
}

// AlignTimestamp floors a millisecond timestamp to the timeframe
// boundary.
func AlignTimestamp(ts, tfMs int64) int64 {
	return (ts / tfMs) * tfMs
}
