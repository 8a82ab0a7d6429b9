package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/codegrant/pkg/jwtx"
)

// initKeys generates the signing keys for this process. Keys live only in
// memory, so tokens issued before a restart stop verifying after it.
func initKeys(cfg Config, logger *slog.Logger) (*jwtx.KeyManager, error) {
	logger.Info("initializing ephemeral key manager",
		slog.String("algorithm", cfg.Algorithm),
		slog.Int("num_keys", cfg.NumKeys),
	)

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		RSABits:   cfg.RSABits,
		NumKeys:   cfg.NumKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
	}

	logger.Info("generated ephemeral signing keys",
		slog.String("algorithm", km.Algorithm()),
		slog.Int("num_keys", km.NumSigners()),
		slog.String("issuer", cfg.Issuer),
	)
	return km, nil
}
