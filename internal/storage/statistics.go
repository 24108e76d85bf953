package storage

// Statistics summarises closed hedges that were actually filled.
type Statistics struct {
	TotalHedges   int     `json:"total_hedges"`
	WinningHedges int     `json:"winning_hedges"`
	LosingHedges  int     `json:"losing_hedges"`
	WinRate       float64 `json:"win_rate"` // percent of decided hedges
	TotalPnL      float64 `json:"total_pnl"`
	TotalPremium  float64 `json:"total_premium"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	LargestLoss   float64 `json:"largest_loss"`
	CurrentStreak int     `json:"current_streak"` // >0 wins in a row, <0 losses
}

func (s *Statistics) record(pnl, premium float64) {
	s.TotalHedges++
	s.TotalPnL += pnl
	s.TotalPremium += premium

	switch {
	case pnl > 0:
		s.WinningHedges++
		s.AverageWin += (pnl - s.AverageWin) / float64(s.WinningHedges)
		if s.CurrentStreak >= 0 {
			s.CurrentStreak++
		} else {
			s.CurrentStreak = 1
		}
	case pnl < 0:
		s.LosingHedges++
		s.AverageLoss += (pnl - s.AverageLoss) / float64(s.LosingHedges)
		if s.CurrentStreak <= 0 {
			s.CurrentStreak--
		} else {
			s.CurrentStreak = -1
		}
		if pnl < s.LargestLoss {
			s.LargestLoss = pnl
		}
	}
	// pnl == 0 is breakeven: neither a win nor a loss

	if decided := s.WinningHedges + s.LosingHedges; decided > 0 {
		s.WinRate = float64(s.WinningHedges) / float64(decided) * 100
	}
}
