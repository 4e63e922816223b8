package webauthn

import (
	"fmt"
	"math/big"

	"github.com/layer-3/keychain/core"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// ParseDERSignature extracts r and s from an ASN.1 DER ECDSA signature as
// 32-byte big-endian values. DER prefixes a zero byte when the high bit is
// set, so either component may arrive as 33 bytes.
func ParseDERSignature(der []byte) (r, s [32]byte, err error) {
	var (
		inner  cryptobyte.String
		rv, sv = new(big.Int), new(big.Int)
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(rv) || !inner.ReadASN1Integer(sv) || !inner.Empty() {
		return r, s, fmt.Errorf("invalid DER encoding: %w", core.ErrMalformedSignature)
	}
	if err := fill(&r, rv); err != nil {
		return r, s, fmt.Errorf("r: %w", err)
	}
	if err := fill(&s, sv); err != nil {
		return r, s, fmt.Errorf("s: %w", err)
	}
	return r, s, nil
}

func fill(dst *[32]byte, v *big.Int) error {
	if v.Sign() <= 0 || v.BitLen() > 256 {
		return fmt.Errorf("component out of range: %w", core.ErrMalformedSignature)
	}
	v.FillBytes(dst[:])
	return nil
}

// EncodeDERSignature builds the DER form of (r, s). It is the inverse of
// ParseDERSignature and is used to build assertions in tests and tools.
func EncodeDERSignature(r, s *big.Int) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}
