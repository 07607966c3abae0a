// Package technical implements the Technical Analyzer: a fixed
// indicator panel computed from an OHLCV window, plus a derived
// overall signal, support/resistance, and 52-week statistics.
package technical

import (
	"math"

	"github.com/dax-arena/core/internal/domain"
)

// Analyze computes the full indicator panel over bars (oldest first)
// and derives the overall signal. bars shorter than an indicator's
// lookback simply leave that indicator at its zero value — the
// caller decides whether that counts as a data gap for the Briefing.
func Analyze(bars []domain.OHLCVBar) *domain.TechnicalSummary {
	closes := closesOf(bars)
	highs := highsOf(bars)
	lows := lowsOf(bars)
	volumes := volumesOf(bars)

	s := &domain.TechnicalSummary{}

	s.RSI14 = rsi(closes, 14)
	macd, signal, hist := macd(closes, 12, 26, 9)
	s.MACD, s.MACDSignal, s.MACDHistogram = macd, signal, hist
	upper, mid, lower := bollinger(closes, 20, 2)
	s.BollingerUpper, s.BollingerMiddle, s.BollingerLower = upper, mid, lower
	s.SMA20 = sma(closes, 20)
	s.SMA50 = sma(closes, 50)
	s.SMA200 = sma(closes, 200)
	s.EMA12 = ema(closes, 12)
	s.EMA26 = ema(closes, 26)
	k, d := stochastic(highs, lows, closes, 14, 3)
	s.StochasticK, s.StochasticD = k, d
	s.ADX14 = adx(highs, lows, closes, 14)
	s.ATR14 = atr(highs, lows, closes, 14)
	s.OBV = obv(closes, volumes)

	support, resistance := pivotLevels(highs, lows)
	s.Support, s.Resistance = support, resistance

	high52, low52 := fiftyTwoWeek(highs, lows)
	s.High52Week, s.Low52Week = high52, low52

	s.PctChange1D = pctChangeBack(closes, 1)
	s.PctChange5D = pctChangeBack(closes, 5)
	s.PctChange20D = pctChangeBack(closes, 20)

	s.OverallSignal = overallSignal(s, closes)

	return s
}

func closesOf(bars []domain.OHLCVBar) []float64 { return mapField(bars, func(b domain.OHLCVBar) float64 { return toF(b.Close) }) }
func highsOf(bars []domain.OHLCVBar) []float64  { return mapField(bars, func(b domain.OHLCVBar) float64 { return toF(b.High) }) }
func lowsOf(bars []domain.OHLCVBar) []float64   { return mapField(bars, func(b domain.OHLCVBar) float64 { return toF(b.Low) }) }
func volumesOf(bars []domain.OHLCVBar) []float64 {
	return mapField(bars, func(b domain.OHLCVBar) float64 { return float64(b.Volume) })
}

func toF(d interface{ Float64() (float64, bool) }) float64 {
	f, _ := d.Float64()
	return f
}

func mapField(bars []domain.OHLCVBar, f func(domain.OHLCVBar) float64) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = f(b)
	}
	return out
}

func sma(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}
	window := values[len(values)-period:]
	return sum(window) / float64(period)
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func ema(values []float64, period int) float64 {
	series := emaSeries(values, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func emaSeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	mult := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	prev := sma(values[:period], period)
	out = append(out, prev)
	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*mult + prev
		out = append(out, prev)
	}
	return out
}

func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	var gainSum, lossSum float64
	start := len(closes) - period - 1
	for i := start + 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gainSum += diff
		} else {
			lossSum += -diff
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func macd(closes []float64, fast, slow, signalPeriod int) (macdVal, signalVal, hist float64) {
	if len(closes) < slow+signalPeriod {
		return 0, 0, 0
	}
	fastSeries := emaSeries(closes, fast)
	slowSeries := emaSeries(closes, slow)

	offset := len(fastSeries) - len(slowSeries)
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries := emaSeries(macdSeries, signalPeriod)
	if len(signalSeries) == 0 {
		return macdSeries[len(macdSeries)-1], 0, 0
	}
	macdVal = macdSeries[len(macdSeries)-1]
	signalVal = signalSeries[len(signalSeries)-1]
	hist = macdVal - signalVal
	return
}

func bollinger(closes []float64, period int, numStdDev float64) (upper, middle, lower float64) {
	if len(closes) < period {
		return 0, 0, 0
	}
	window := closes[len(closes)-period:]
	middle = sum(window) / float64(period)

	var variance float64
	for _, v := range window {
		variance += (v - middle) * (v - middle)
	}
	variance /= float64(period)
	stdDev := math.Sqrt(variance)

	upper = middle + numStdDev*stdDev
	lower = middle - numStdDev*stdDev
	return
}

func stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d float64) {
	if len(closes) < kPeriod {
		return 0, 0
	}
	kValues := make([]float64, 0, dPeriod)
	for offset := 0; offset < dPeriod && len(closes)-kPeriod-offset >= 0; offset++ {
		end := len(closes) - offset
		start := end - kPeriod
		if start < 0 {
			break
		}
		hh := maxOf(highs[start:end])
		ll := minOf(lows[start:end])
		c := closes[end-1]
		if hh == ll {
			kValues = append(kValues, 50)
			continue
		}
		kValues = append(kValues, (c-ll)/(hh-ll)*100)
	}
	if len(kValues) == 0 {
		return 0, 0
	}
	k = kValues[0]
	d = sum(kValues) / float64(len(kValues))
	return
}

func adx(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	var plusDM, minusDM, trSum float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		if i == 0 {
			continue
		}
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM += upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM += downMove
		}
		trSum += trueRange(highs[i], lows[i], closes[i-1])
	}
	if trSum == 0 {
		return 0
	}
	plusDI := 100 * plusDM / trSum
	minusDI := 100 * minusDM / trSum
	diSum := plusDI + minusDI
	if diSum == 0 {
		return 0
	}
	dx := 100 * math.Abs(plusDI-minusDI) / diSum
	return dx
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

func atr(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	var trs []float64
	for i := 1; i < len(closes); i++ {
		trs = append(trs, trueRange(highs[i], lows[i], closes[i-1]))
	}
	if len(trs) < period {
		return 0
	}
	return sma(trs, period)
}

func obv(closes, volumes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			total += volumes[i]
		case closes[i] < closes[i-1]:
			total -= volumes[i]
		}
	}
	return total
}

func pivotLevels(highs, lows []float64) (support, resistance float64) {
	lookback := 20
	if len(highs) < lookback {
		lookback = len(highs)
	}
	if lookback == 0 {
		return 0, 0
	}
	recentHighs := highs[len(highs)-lookback:]
	recentLows := lows[len(lows)-lookback:]
	resistance = maxOf(recentHighs)
	support = minOf(recentLows)
	return
}

func fiftyTwoWeek(highs, lows []float64) (high52, low52 float64) {
	lookback := 252
	if len(highs) < lookback {
		lookback = len(highs)
	}
	if lookback == 0 {
		return 0, 0
	}
	high52 = maxOf(highs[len(highs)-lookback:])
	low52 = minOf(lows[len(lows)-lookback:])
	return
}

func pctChangeBack(closes []float64, days int) float64 {
	if len(closes) <= days {
		return 0
	}
	prev := closes[len(closes)-1-days]
	cur := closes[len(closes)-1]
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

func maxOf(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(values []float64) float64 {
	m := math.Inf(1)
	for _, v := range values {
		if v < m {
			m = v
		}
	}
	return m
}

// overallSignal derives BULLISH/BEARISH/NEUTRAL by majority vote
// among five sub-signals: RSI oversold/overbought, MACD crossover
// sign, price-vs-SMA20 position, golden/death cross (SMA50 vs
// SMA200), and ADX-confirmed trend strength.
func overallSignal(s *domain.TechnicalSummary, closes []float64) string {
	bullVotes, bearVotes := 0, 0

	switch {
	case s.RSI14 < 30:
		bullVotes++
	case s.RSI14 > 70:
		bearVotes++
	}

	if s.MACD > s.MACDSignal {
		bullVotes++
	} else if s.MACD < s.MACDSignal {
		bearVotes++
	}

	if len(closes) > 0 {
		price := closes[len(closes)-1]
		if price > s.SMA20 {
			bullVotes++
		} else if price < s.SMA20 {
			bearVotes++
		}
	}

	if s.SMA50 > s.SMA200 {
		bullVotes++
	} else if s.SMA50 < s.SMA200 {
		bearVotes++
	}

	if s.ADX14 > 25 {
		if bullVotes >= bearVotes {
			bullVotes++
		} else {
			bearVotes++
		}
	}

	switch {
	case bullVotes > bearVotes:
		return "BULLISH"
	case bearVotes > bullVotes:
		return "BEARISH"
	default:
		return "NEUTRAL"
	}
}
