package domain

// BucketWidth is the fixed candle width in seconds.
const BucketWidth = 60

// BucketStart truncates a unix timestamp to its candle bucket.
func BucketStart(ts int64) int64 {
	return (ts / BucketWidth) * BucketWidth
}

// OhlcvBucket is a one-minute candle keyed by (chain, pairAddress, bucketStart).
//
// Merging is commutative and idempotent for high/low, additive for volume,
// and ordered by event time (not arrival time) for open and close: the bucket
// tracks the smallest and greatest event timestamps merged so far, open
// follows the earliest event and close the latest.
type OhlcvBucket struct {
	Chain       Chain
	PairAddress string
	BucketStart int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	// FirstEventTS is the timestamp of the chronologically earliest event
	// merged into this bucket. It decides which event owns open.
	FirstEventTS int64
	// LastEventTS is the timestamp of the chronologically latest event merged
	// into this bucket. It decides which event owns close.
	LastEventTS int64
}

// NewOhlcvBucket creates a bucket seeded from its first trade.
func NewOhlcvBucket(chain Chain, pair string, price, volume float64, eventTS int64) *OhlcvBucket {
	return &OhlcvBucket{
		Chain:        chain,
		PairAddress:  pair,
		BucketStart:  BucketStart(eventTS),
		Open:         price,
		High:         price,
		Low:          price,
		Close:        price,
		Volume:       volume,
		FirstEventTS: eventTS,
		LastEventTS:  eventTS,
	}
}

// Merge folds one trade into the bucket. Open follows the earliest event
// timestamp and close the latest, ties resolved toward the incoming value so
// re-merging an identical event is a no-op.
func (b *OhlcvBucket) Merge(price, volume float64, eventTS int64) {
	if price > b.High {
		b.High = price
	}
	if price < b.Low {
		b.Low = price
	}
	b.Volume += volume
	if eventTS <= b.FirstEventTS {
		b.Open = price
		b.FirstEventTS = eventTS
	}
	if eventTS >= b.LastEventTS {
		b.Close = price
		b.LastEventTS = eventTS
	}
}

// MergeBucket folds another partial aggregate of the same bucket into b.
func (b *OhlcvBucket) MergeBucket(other *OhlcvBucket) {
	if other.High > b.High {
		b.High = other.High
	}
	if other.Low < b.Low {
		b.Low = other.Low
	}
	b.Volume += other.Volume
	if other.FirstEventTS <= b.FirstEventTS {
		b.Open = other.Open
		b.FirstEventTS = other.FirstEventTS
	}
	if other.LastEventTS >= b.LastEventTS {
		b.Close = other.Close
		b.LastEventTS = other.LastEventTS
	}
}
