package webauthn

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/layer-3/keychain/core"
)

// Calldata markers. The layout below is verified on chain and must not change.
const (
	// SignatureTypeWebauthn discriminates webauthn signatures from other signer kinds.
	SignatureTypeWebauthn = 0
	// ChallengeOffset is the word index of the challenge inside clientDataJSON,
	// right after the 36-byte `{"type":"webauthn.get","challenge":"` prefix.
	ChallengeOffset = 9
	// ChallengePadding is the number of base64 padding characters stripped
	// from the encoded challenge.
	ChallengePadding = 0
)

// Assertion is the result of a platform authentication ceremony.
type Assertion struct {
	AuthenticatorData []byte `json:"authenticatorData"`
	ClientDataJSON    []byte `json:"clientDataJSON"`
	Signature         []byte `json:"signature"` // ASN.1 DER
}

// Calldata converts an assertion into the felt array consumed by the account:
//
//	sigType, r0, r1, r2, s0, s1, s2, challengeOffset, challengePadding,
//	len(clientData), rem(clientData), clientData...,
//	len(authData), rem(authData), authData...
func Calldata(a Assertion) ([]string, error) {
	r, s, err := ParseDERSignature(a.Signature)
	if err != nil {
		return nil, err
	}
	rLimbs, err := Split(new(big.Int).SetBytes(r[:]))
	if err != nil {
		return nil, err
	}
	sLimbs, err := Split(new(big.Int).SetBytes(s[:]))
	if err != nil {
		return nil, err
	}

	out := []string{strconv.Itoa(SignatureTypeWebauthn)}
	for _, l := range rLimbs {
		out = append(out, l.String())
	}
	for _, l := range sLimbs {
		out = append(out, l.String())
	}
	out = append(out, strconv.Itoa(ChallengeOffset), strconv.Itoa(ChallengePadding))
	out = appendWords(out, a.ClientDataJSON)
	out = appendWords(out, a.AuthenticatorData)
	return out, nil
}

func appendWords(out []string, b []byte) []string {
	words, rem := BytesToWords(b)
	out = append(out, strconv.Itoa(len(words)), strconv.Itoa(rem))
	for _, w := range words {
		out = append(out, strconv.FormatUint(uint64(w), 10))
	}
	return out
}

// Decoded is the content recovered from calldata by ParseCalldata.
type Decoded struct {
	SignatureType     int
	R, S              *big.Int
	ChallengeOffset   int
	ChallengePadding  int
	ClientDataJSON    []byte
	AuthenticatorData []byte
}

// ParseCalldata reverses Calldata.
func ParseCalldata(felts []string) (*Decoded, error) {
	p := &feltReader{felts: felts}
	d := &Decoded{SignatureType: p.int()}

	var rl, sl [3]*big.Int
	for i := range rl {
		rl[i] = p.big()
	}
	for i := range sl {
		sl[i] = p.big()
	}
	d.R, d.S = Join(rl), Join(sl)
	d.ChallengeOffset = p.int()
	d.ChallengePadding = p.int()
	d.ClientDataJSON = p.bytes()
	d.AuthenticatorData = p.bytes()

	if p.err != nil {
		return nil, p.err
	}
	if p.pos != len(felts) {
		return nil, fmt.Errorf("%d trailing felts: %w", len(felts)-p.pos, core.ErrMalformedSignature)
	}
	return d, nil
}

type feltReader struct {
	felts []string
	pos   int
	err   error
}

func (p *feltReader) big() *big.Int {
	if p.err != nil {
		return new(big.Int)
	}
	if p.pos >= len(p.felts) {
		p.err = fmt.Errorf("calldata truncated at %d: %w", p.pos, core.ErrMalformedSignature)
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(p.felts[p.pos], 10)
	if !ok || v.Sign() < 0 {
		p.err = fmt.Errorf("felt %d is not a decimal: %w", p.pos, core.ErrMalformedSignature)
		return new(big.Int)
	}
	p.pos++
	return v
}

func (p *feltReader) int() int {
	v := p.big()
	if p.err == nil && !v.IsInt64() {
		p.err = fmt.Errorf("felt %d out of range: %w", p.pos-1, core.ErrMalformedSignature)
		return 0
	}
	return int(v.Int64())
}

func (p *feltReader) bytes() []byte {
	n, rem := p.int(), p.int()
	if p.err != nil {
		return nil
	}
	if n < 0 || rem < 0 || rem > 3 || (rem > 0 && n == 0) || n > len(p.felts)-p.pos {
		p.err = fmt.Errorf("bad word array header at %d: %w", p.pos, core.ErrMalformedSignature)
		return nil
	}
	words := make([]uint32, n)
	for i := range words {
		v := p.big()
		if p.err != nil {
			return nil
		}
		if !v.IsUint64() || v.Uint64() > math.MaxUint32 {
			p.err = fmt.Errorf("word %d out of range: %w", p.pos-1, core.ErrMalformedSignature)
			return nil
		}
		words[i] = uint32(v.Uint64())
	}
	return WordsToBytes(words, rem)
}
