package match

import "github.com/quagmt/udecimal"

// CalculateDepthChange calculates the depth change based on the book log.
// It returns a DepthChange struct indicating which side and price level should be updated.
// Note: For LogTypeMatch, the side returned is the Maker's side (opposite of the log's side).
func CalculateDepthChange(log *BookLog) DepthChange {
	switch log.Type {
	case LogTypeOpen:
		return DepthChange{
			Side:     log.Side,
			Price:    log.Price,
			SizeDiff: log.Size,
		}
	case LogTypeCancel:
		return DepthChange{
			Side:     log.Side,
			Price:    log.Price,
			SizeDiff: log.Size.Neg(),
		}
	case LogTypeMatch:
		// The taker never rests before matching, so only the maker level shrinks.
		return DepthChange{
			Side:     log.Side.Opposite(),
			Price:    log.Price,
			SizeDiff: log.Size.Neg(),
		}
	}

	// Rejected remainders never entered the book.
	return DepthChange{}
}

// LevelKey returns the canonical key of a price level, equal for numerically
// equal prices such as 100 and 100.0.
func LevelKey(price udecimal.Decimal) string {
	return priceKey(price)
}
