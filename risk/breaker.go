package risk

// BreakerState is the drawdown circuit breaker severity. Transitions only
// escalate: a daily halt clears at the next trading-day boundary, a
// critical halt only by explicit administrative clear. Profit alone never
// re-opens the breaker.
type BreakerState int

const (
	Normal BreakerState = iota
	DailyHalt
	CriticalHalt
)

func (s BreakerState) String() string {
	switch s {
	case Normal:
		return "normal"
	case DailyHalt:
		return "daily-halt"
	case CriticalHalt:
		return "critical-halt"
	default:
		return "unknown"
	}
}

// Halted reports whether new approvals are blocked.
func (s BreakerState) Halted() bool { return s != Normal }

// escalate moves to the more severe of the two states.
func (s BreakerState) escalate(to BreakerState) BreakerState {
	if to > s {
		return to
	}
	return s
}
