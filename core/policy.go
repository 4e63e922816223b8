package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Policy authorizes invoking Method on the contract at Target.
type Policy struct {
	Target      string `json:"target"`
	Method      string `json:"method"`
	Description string `json:"description,omitempty"`
}

// PolicyKey is the identity of a policy inside a set.
type PolicyKey struct {
	Target string
	Method string
}

// Key returns the identity of the policy. Targets are normalized so that
// checksummed, zero-padded and lowercase spellings of one address compare equal.
func (p Policy) Key() PolicyKey {
	return PolicyKey{Target: NormalizeAddress(p.Target), Method: p.Method}
}

// NormalizeAddress renders a hex address as lowercase hex without leading
// zeros. Felt addresses may be wider than 20 bytes, so the value is parsed as
// an integer instead of through common.HexToAddress. Non-hex input is only
// trimmed and lowercased.
func NormalizeAddress(addr string) string {
	s := strings.TrimSpace(addr)
	if !isHex(s) {
		return strings.ToLower(s)
	}
	return hexutil.EncodeBig(new(big.Int).SetBytes(common.FromHex(s)))
}

func isHex(s string) bool {
	if len(s) < 3 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ValidatePolicies rejects policies with an empty target or method and
// duplicate identities.
func ValidatePolicies(policies []Policy) error {
	seen := make(map[PolicyKey]struct{}, len(policies))
	for i, p := range policies {
		if strings.TrimSpace(p.Target) == "" || p.Method == "" {
			return fmt.Errorf("policy %d: target and method are required: %w", i, ErrInvalidPolicy)
		}
		key := p.Key()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("policy %d: duplicate %s %s: %w", i, key.Target, key.Method, ErrInvalidPolicy)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Diff returns every policy of required whose identity is missing from
// granted. An empty result means granted covers required. Each missing
// identity is reported once, in the order it first appears in required.
func Diff(required, granted []Policy) []Policy {
	have := make(map[PolicyKey]struct{}, len(granted))
	for _, p := range granted {
		have[p.Key()] = struct{}{}
	}

	var missing []Policy
	reported := make(map[PolicyKey]struct{})
	for _, p := range required {
		key := p.Key()
		if _, ok := have[key]; ok {
			continue
		}
		if _, ok := reported[key]; ok {
			continue
		}
		reported[key] = struct{}{}
		missing = append(missing, p)
	}
	return missing
}

// PoliciesFromCalls lists the policies exercised by calls.
func PoliciesFromCalls(calls []Call) []Policy {
	policies := make([]Policy, 0, len(calls))
	for _, c := range calls {
		policies = append(policies, Policy{Target: c.ContractAddress, Method: c.Entrypoint})
	}
	return policies
}
