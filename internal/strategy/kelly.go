package strategy

// KellyPosition sizes a position in USD with the fractional Kelly criterion.
//
// For a binary market, holding the side the forecast favors pays 1/price per
// dollar. With odds b = (1-price)/price, win probability p, and lose
// probability q = 1-p, the Kelly fraction is f* = (bp - q) / b. The full
// fraction is scaled by kellyFraction and the result is capped at
// maxPositionPct of capital. A forecast below the market price flips the bet
// to the NO side with mirrored probability and price.
func KellyPosition(capital, forecastProb, marketPrice, kellyFraction, maxPositionPct float64) float64 {
	winProb, betPrice := forecastProb, marketPrice
	if forecastProb <= marketPrice {
		winProb, betPrice = 1.0-forecastProb, 1.0-marketPrice
	}
	if betPrice <= 0 || betPrice >= 1 {
		return 0
	}

	odds := (1.0 - betPrice) / betPrice
	loseProb := 1.0 - winProb
	kelly := (odds*winProb - loseProb) / odds

	position := capital * max(kelly*kellyFraction, 0)
	return min(position, capital*maxPositionPct)
}
