package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SessionSigner is the ephemeral local key a session delegates to.
type SessionSigner struct {
	PrivateKey string `json:"privKey"`
	PublicKey  string `json:"pubKey"`
}

func newSessionSigner() (*SessionSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return &SessionSigner{
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
		PublicKey:  hexutil.Encode(crypto.CompressPubkey(&key.PublicKey)),
	}, nil
}

// ensureSessionSigner returns the stored signer or creates one.
func ensureSessionSigner(ctx context.Context, storage *Storage) (*SessionSigner, error) {
	signer, err := storage.SessionSigner(ctx)
	if err != nil {
		return nil, err
	}
	if signer != nil {
		return signer, nil
	}
	if signer, err = newSessionSigner(); err != nil {
		return nil, err
	}
	if err := storage.SaveSessionSigner(ctx, signer); err != nil {
		return nil, err
	}
	return signer, nil
}
