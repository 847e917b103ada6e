package security

import (
	"context"
	"strings"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Contract Check
// ---------------------------------------------------------------------------

// ContractVerdict breaks the contract analysis into its findings so
// the validator can weight them separately.
type ContractVerdict struct {
	HasCode   bool
	Verified  bool
	Renounced bool
	Owner     chain.Address
	Details   []string
}

// ContractChecker inspects the token contract itself: bytecode must
// exist, the compiler metadata marker signals a verified-style build,
// and ownership should be renounced.
type ContractChecker struct {
	client chain.Client
}

// NewContractChecker builds the checker.
func NewContractChecker(client chain.Client) *ContractChecker {
	return &ContractChecker{client: client}
}

// Check inspects the token contract.
func (c *ContractChecker) Check(ctx context.Context, token chain.Address) (ContractVerdict, error) {
	info, err := c.client.TokenInfo(ctx, token)
	if err != nil {
		return ContractVerdict{}, err
	}

	v := ContractVerdict{
		HasCode:   info.HasCode,
		Verified:  info.Verified,
		Renounced: info.IsOwnershipRenounced(),
		Owner:     info.Owner,
	}
	if !v.HasCode {
		v.Details = append(v.Details, "no bytecode at address")
	}
	if !v.Verified {
		v.Details = append(v.Details, "no compiler metadata marker")
	}
	if !v.Renounced {
		v.Details = append(v.Details, "owner "+string(info.Owner)+" still in control")
	}
	return v, nil
}

// Detail joins the findings for the report.
func (v ContractVerdict) Detail() string {
	if len(v.Details) == 0 {
		return "contract clean"
	}
	return strings.Join(v.Details, "; ")
}
