package leader

import "SectorSentinel/internal/model"

// Transition describes how an observation changed a tracked position.
type Transition string

const (
	TransitionNew     Transition = "new"
	TransitionExtend  Transition = "extend"
	TransitionReplace Transition = "replace"
)

// Holding is who currently occupies a position and for how long.
type Holding struct {
	StockID string
	Streak  int
}

// Streaks is the run-length state of every tracked position.
type Streaks map[model.LeaderKey]Holding

// StreaksFromRecords seeds the state from persisted records.
func StreaksFromRecords(records []model.LeadershipRecord) Streaks {
	s := make(Streaks, len(records))
	for _, r := range records {
		s[r.Key] = Holding{StockID: r.StockID, Streak: r.Streak}
	}
	return s
}

// Observe records that stockID holds key on the next trading day. The streak
// grows by one when the holder is unchanged and restarts at 1 otherwise.
func (s Streaks) Observe(key model.LeaderKey, stockID string) (Holding, Transition) {
	prev, ok := s[key]
	var next Holding
	var t Transition
	switch {
	case !ok:
		next, t = Holding{StockID: stockID, Streak: 1}, TransitionNew
	case prev.StockID == stockID:
		next, t = Holding{StockID: stockID, Streak: prev.Streak + 1}, TransitionExtend
	default:
		next, t = Holding{StockID: stockID, Streak: 1}, TransitionReplace
	}
	s[key] = next
	return next, t
}
