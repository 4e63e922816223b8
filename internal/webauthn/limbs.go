// Package webauthn adapts platform authentication assertions to the calldata
// layout expected by the account's signature verifier.
package webauthn

import (
	"fmt"
	"math/big"

	"github.com/layer-3/keychain/core"
)

// LimbBits is the width of one limb. Three limbs hold up to 258 bits.
const LimbBits = 86

var (
	limbBase = new(big.Int).Lsh(big.NewInt(1), LimbBits)
	limbMask = new(big.Int).Sub(limbBase, big.NewInt(1))
	limbMax  = new(big.Int).Lsh(big.NewInt(1), 3*LimbBits)
)

// Split decomposes n into (x, y, z) with n = x + y*B + z*B^2 and B = 2^86.
func Split(n *big.Int) ([3]*big.Int, error) {
	var limbs [3]*big.Int
	if n == nil || n.Sign() < 0 || n.Cmp(limbMax) >= 0 {
		return limbs, fmt.Errorf("value does not fit in three limbs: %w", core.ErrMalformedSignature)
	}
	rest := new(big.Int).Set(n)
	for i := range limbs {
		limbs[i] = new(big.Int).And(rest, limbMask)
		rest.Rsh(rest, LimbBits)
	}
	return limbs, nil
}

// Join is the inverse of Split.
func Join(limbs [3]*big.Int) *big.Int {
	n := new(big.Int)
	for i := len(limbs) - 1; i >= 0; i-- {
		n.Lsh(n, LimbBits)
		if limbs[i] != nil {
			n.Add(n, limbs[i])
		}
	}
	return n
}
