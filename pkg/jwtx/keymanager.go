package jwtx

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
)

const (
	defaultNumKeys = 3
	maxNumKeys     = 10
	defaultRSABits = 4096
)

// KeyManager owns the process's signing keys. Keys are ephemeral: they are
// generated at startup and never persisted, so tokens issued by a previous
// process stop verifying after a restart.
type KeyManager struct {
	Verifier  *Verifier
	KeySet    *KeySet
	algorithm string

	mu      sync.RWMutex
	signers []Signer
}

type KeyManagerOptions struct {
	// One of RS256, ES256, EdDSA.
	Algorithm string
	Issuer    string

	// RS256 only. Defaults to 4096, must be at least 2048.
	RSABits int

	// Defaults to 3, capped at 10.
	NumKeys int
}

// NewEphemeralKeyManager generates NumKeys signing keys and wires them into
// a KeySet and Verifier.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, fmt.Errorf("jwtx: issuer is required")
	}
	switch opts.Algorithm {
	case AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA:
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", opts.Algorithm)
	}

	n := opts.NumKeys
	if n <= 0 {
		n = defaultNumKeys
	}
	n = min(n, maxNumKeys)

	km := &KeyManager{
		KeySet:    NewKeySet(),
		algorithm: opts.Algorithm,
		signers:   make([]Signer, 0, n),
	}
	km.Verifier = NewVerifier(km.KeySet, opts.Algorithm, opts.Issuer)

	for i := range n {
		signer, err := generateSigner(opts.Algorithm, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate signer %d: %w", i+1, err)
		}
		if err := km.KeySet.Add(signer.PublicJWK()); err != nil {
			return nil, fmt.Errorf("jwtx: add signer %d to keyset: %w", i+1, err)
		}
		km.signers = append(km.signers, signer)
	}

	return km, nil
}

func generateSigner(alg string, rsaBits int) (Signer, error) {
	kid, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, err
	}
	kid = "codegrant-" + kid

	var pemKey []byte
	switch alg {
	case AlgorithmRS256:
		if rsaBits == 0 {
			rsaBits = defaultRSABits
		}
		pemKey, err = cryptox.GenerateRSAKey(rsaBits)
	case AlgorithmES256:
		pemKey, err = cryptox.GenerateES256Key()
	case AlgorithmEdDSA:
		pemKey, err = cryptox.GenerateEd25519Key()
	}
	if err != nil {
		return nil, err
	}
	return NewSigner(alg, kid, pemKey)
}

func (km *KeyManager) Algorithm() string { return km.algorithm }

func (km *KeyManager) IsReady() bool {
	return km != nil && km.KeySet.IsReady()
}

// GetSigner returns a randomly selected signing key, or nil when the manager
// holds none.
func (km *KeyManager) GetSigner() Signer {
	if km == nil {
		return nil
	}
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	}
	return km.signers[rand.IntN(len(km.signers))]
}

func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}
