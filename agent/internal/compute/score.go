package compute

// Weight constants for the score formula. They must sum to 1.0.
const (
	weightReject = 0.40
	weightDrain  = 0.40
	weightUptime = 0.20
)

// State constants returned by the score calculator.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// Input holds the normalised values fed into the score formula.
// All fields are percentages in the range 0–100.
type Input struct {
	// RejectPct is the share of admission attempts the broker refused.
	RejectPct float64

	// DrainPct compares pops to admissions over the interval. 100 means
	// consumers kept up; 0 means nothing was consumed while work arrived.
	DrainPct float64

	// UptimePct is the share of recent scrapes that reached the broker.
	UptimePct float64
}

// Output is the result of the score calculation.
type Output struct {
	Score float64
	State string

	// Factor values (each 0–1) used to compute Score.
	RejectFactor float64
	DrainFactor  float64
	UptimeFactor float64
}

// Compute calculates the broker health score:
//
//	score = (
//	    (1 - reject_pct/100) * 0.40 +
//	    drain_pct/100        * 0.40 +
//	    uptime_pct/100       * 0.20
//	) * 100
//
// With zero uptime there is nothing to score and the state is "unknown".
func Compute(in Input) Output {
	if in.UptimePct == 0 {
		return Output{State: StateUnknown}
	}

	rejectFactor := 1 - clamp01(in.RejectPct/100)
	drainFactor := clamp01(in.DrainPct / 100)
	uptimeFactor := clamp01(in.UptimePct / 100)

	score := (rejectFactor*weightReject +
		drainFactor*weightDrain +
		uptimeFactor*weightUptime) * 100

	return Output{
		Score:        score,
		State:        stateFromScore(score),
		RejectFactor: rejectFactor,
		DrainFactor:  drainFactor,
		UptimeFactor: uptimeFactor,
	}
}

func stateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
