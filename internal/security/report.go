package security

import (
	"time"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Security Report
// ---------------------------------------------------------------------------

// CheckStatus is the outcome of one safety check.
type CheckStatus string

const (
	StatusPassed CheckStatus = "passed"
	StatusFailed CheckStatus = "failed"
	// StatusUnknown means the check errored or timed out. It costs a
	// reduced penalty instead of aborting the evaluation.
	StatusUnknown CheckStatus = "unknown"
)

// Check names.
const (
	CheckHoneypot  = "honeypot"
	CheckLiquidity = "liquidity_lock"
	CheckContract  = "contract"
	CheckBlacklist = "blacklist"
)

// CheckResult is one check's verdict.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Penalty float64     `json:"penalty"`
	Detail  string      `json:"detail,omitempty"`
}

// Report is the immutable outcome of evaluating one candidate token.
// A token is bought only when Passed is true.
type Report struct {
	Token chain.Address `json:"token"`
	Pair  chain.Address `json:"pair"`

	// Honeypot set means the simulated round trip failed; it rejects
	// the token regardless of score.
	Honeypot bool `json:"honeypot"`

	// Blacklisted likewise rejects unconditionally.
	Blacklisted bool `json:"blacklisted"`

	// Score starts at 100 and loses weighted penalties per check.
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`

	Checks      []CheckResult `json:"checks"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Reason summarizes why a report failed, for logs and notifications.
func (r Report) Reason() string {
	if r.Honeypot {
		return "honeypot"
	}
	if r.Blacklisted {
		return "blacklisted"
	}
	if !r.Passed {
		return "score_below_threshold"
	}
	return ""
}
