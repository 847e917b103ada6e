package security

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Security Validator — four concurrent checks, one weighted verdict
// ---------------------------------------------------------------------------

// Penalty weights per failed check. An unknown verdict costs half.
const (
	penaltyLiquidityUnlocked = 30.0
	penaltyNotVerified       = 15.0
	penaltyOwnerActive       = 20.0
	penaltyNoCode            = 100.0
	// penaltyHoneypotUnknown applies (halved) when the round-trip
	// simulation cannot run; an unverifiable sell path is close to a
	// failed one.
	penaltyHoneypotUnknown = 100.0
	penaltyUnknownFactor   = 0.5
)

// Config tunes the validator.
type Config struct {
	// PassThreshold is the minimum surviving score.
	PassThreshold float64 `yaml:"pass_threshold"`
	// CheckTimeout bounds each individual check.
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// Honeypot probe settings.
	ProbeWei  decimal.Decimal `yaml:"probe_wei"`
	MaxTaxPct decimal.Decimal `yaml:"max_tax_pct"`

	// Liquidity lock settings.
	MinLockedPct decimal.Decimal `yaml:"min_locked_pct"`
	Lockers      []string        `yaml:"lockers"`

	// Blacklist entries (tokens, deployers, owners).
	Blacklist []string `yaml:"blacklist"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PassThreshold: 70,
		CheckTimeout:  5 * time.Second,
		MaxTaxPct:     decimal.NewFromInt(10),
		MinLockedPct:  decimal.NewFromInt(80),
	}
}

// Validator gates every discovered token. Reports are immutable and
// cached: a token is evaluated at most once.
type Validator struct {
	config    Config
	honeypot  *HoneypotChecker
	liquidity *LiquidityChecker
	contract  *ContractChecker
	blacklist *Blacklist

	mu      sync.RWMutex
	reports map[chain.Address]*Report

	// Stats.
	evaluated   atomic.Int64
	passed      atomic.Int64
	honeypots   atomic.Int64
	blacklisted atomic.Int64
}

// NewValidator wires the four checks against the gateway client.
func NewValidator(client chain.Client, router, weth, wallet chain.Address, config Config) *Validator {
	if config.PassThreshold == 0 {
		config.PassThreshold = 70
	}
	if config.CheckTimeout == 0 {
		config.CheckTimeout = 5 * time.Second
	}
	lockers := make([]chain.Address, 0, len(config.Lockers))
	for _, l := range config.Lockers {
		lockers = append(lockers, chain.NormalizeAddress(l))
	}
	return &Validator{
		config:    config,
		honeypot:  NewHoneypotChecker(client, router, weth, wallet, config.ProbeWei, config.MaxTaxPct),
		liquidity: NewLiquidityChecker(client, lockers, config.MinLockedPct),
		contract:  NewContractChecker(client),
		blacklist: NewBlacklist(config.Blacklist),
		reports:   make(map[chain.Address]*Report),
	}
}

// Validate evaluates a candidate. Repeat calls for the same token
// return the cached report unchanged.
func (v *Validator) Validate(ctx context.Context, token, pair chain.Address) *Report {
	v.mu.RLock()
	if cached, ok := v.reports[token]; ok {
		v.mu.RUnlock()
		return cached
	}
	v.mu.RUnlock()

	report := v.evaluate(ctx, token, pair)

	v.mu.Lock()
	if cached, ok := v.reports[token]; ok {
		// Lost a race with a concurrent evaluation; keep the first.
		v.mu.Unlock()
		return cached
	}
	v.reports[token] = report
	v.mu.Unlock()

	v.evaluated.Add(1)
	if report.Passed {
		v.passed.Add(1)
	}
	if report.Honeypot {
		v.honeypots.Add(1)
	}
	if report.Blacklisted {
		v.blacklisted.Add(1)
	}

	log.Info().
		Str("token", string(token)).
		Bool("passed", report.Passed).
		Float64("score", report.Score).
		Str("reason", report.Reason()).
		Dur("elapsed", report.Elapsed).
		Msg("security: token evaluated")
	return report
}

// checkOutcome carries one check's result off its goroutine.
type checkOutcome struct {
	result   CheckResult
	honeypot bool
	verdict  *ContractVerdict
}

// evaluate runs the four checks concurrently. A check that errors or
// times out reports unknown and costs a reduced penalty; it never
// aborts the others.
func (v *Validator) evaluate(ctx context.Context, token, pair chain.Address) *Report {
	start := time.Now()
	outcomes := make(chan checkOutcome, 4)
	var wg sync.WaitGroup

	run := func(fn func(ctx context.Context) checkOutcome) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, v.config.CheckTimeout)
			defer cancel()
			outcomes <- fn(checkCtx)
		}()
	}

	run(func(ctx context.Context) checkOutcome {
		hp, detail, err := v.honeypot.Check(ctx, token, pair)
		if err != nil {
			return unknown(CheckHoneypot, err, penaltyHoneypotUnknown)
		}
		if hp {
			return checkOutcome{
				honeypot: true,
				result:   CheckResult{Name: CheckHoneypot, Status: StatusFailed, Detail: detail},
			}
		}
		return checkOutcome{result: CheckResult{Name: CheckHoneypot, Status: StatusPassed, Detail: detail}}
	})

	run(func(ctx context.Context) checkOutcome {
		locked, detail, err := v.liquidity.Check(ctx, pair)
		if err != nil {
			return unknown(CheckLiquidity, err, penaltyLiquidityUnlocked)
		}
		if !locked {
			return checkOutcome{result: CheckResult{
				Name: CheckLiquidity, Status: StatusFailed,
				Penalty: penaltyLiquidityUnlocked, Detail: detail,
			}}
		}
		return checkOutcome{result: CheckResult{Name: CheckLiquidity, Status: StatusPassed, Detail: detail}}
	})

	run(func(ctx context.Context) checkOutcome {
		verdict, err := v.contract.Check(ctx, token)
		if err != nil {
			return unknown(CheckContract, err, penaltyNotVerified+penaltyOwnerActive)
		}
		penalty := 0.0
		status := StatusPassed
		if !verdict.HasCode {
			penalty = penaltyNoCode
			status = StatusFailed
		} else {
			if !verdict.Verified {
				penalty += penaltyNotVerified
			}
			if !verdict.Renounced {
				penalty += penaltyOwnerActive
			}
			if penalty > 0 {
				status = StatusFailed
			}
		}
		return checkOutcome{
			verdict: &verdict,
			result:  CheckResult{Name: CheckContract, Status: status, Penalty: penalty, Detail: verdict.Detail()},
		}
	})

	run(func(ctx context.Context) checkOutcome {
		if v.blacklist.Contains(token) {
			return checkOutcome{result: CheckResult{
				Name: CheckBlacklist, Status: StatusFailed, Detail: "token blacklisted",
			}}
		}
		return checkOutcome{result: CheckResult{Name: CheckBlacklist, Status: StatusPassed}}
	})

	wg.Wait()
	close(outcomes)

	report := &Report{
		Token:       token,
		Pair:        pair,
		Score:       100,
		EvaluatedAt: start,
	}
	var ownerToCheck chain.Address
	for o := range outcomes {
		report.Checks = append(report.Checks, o.result)
		report.Score -= o.result.Penalty
		if o.honeypot {
			report.Honeypot = true
		}
		if o.result.Name == CheckBlacklist && o.result.Status == StatusFailed {
			report.Blacklisted = true
		}
		if o.verdict != nil && !o.verdict.Renounced {
			ownerToCheck = o.verdict.Owner
		}
	}

	// A live owner who is blacklisted rejects the token outright.
	if ownerToCheck != "" && v.blacklist.Contains(ownerToCheck) {
		report.Blacklisted = true
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.Passed = !report.Honeypot && !report.Blacklisted && report.Score >= v.config.PassThreshold
	report.Elapsed = time.Since(start)
	return report
}

// unknown builds the degraded outcome for a check that could not run.
func unknown(name string, err error, basePenalty float64) checkOutcome {
	return checkOutcome{result: CheckResult{
		Name:    name,
		Status:  StatusUnknown,
		Penalty: basePenalty * penaltyUnknownFactor,
		Detail:  err.Error(),
	}}
}

// Stats is a snapshot of validator counters.
type Stats struct {
	Evaluated   int64 `json:"evaluated"`
	Passed      int64 `json:"passed"`
	Honeypots   int64 `json:"honeypots"`
	Blacklisted int64 `json:"blacklisted"`
}

// Stats returns validator counters.
func (v *Validator) Stats() Stats {
	return Stats{
		Evaluated:   v.evaluated.Load(),
		Passed:      v.passed.Load(),
		Honeypots:   v.honeypots.Load(),
		Blacklisted: v.blacklisted.Load(),
	}
}
