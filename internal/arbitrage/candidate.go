package arbitrage

import (
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
)

// Candidate is a detected pricing gap on one binary market. It is consumed
// once by the execution controller and never persisted on its own.
type Candidate struct {
	ID            string
	MarketID      string
	MarketSlug    string
	YesTokenID    string
	NoTokenID     string
	Direction     types.Direction
	YesPrice      float64 // ask for FORWARD, bid for REVERSE
	NoPrice       float64
	CombinedPrice float64
	Edge          float64
	SpreadBPS     int
	Size          float64
	GeneratedAt   time.Time
}
