package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Backend names accepted by the factory.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// Config selects and configures a store backend.
type Config struct {
	// Backend is "chromem" (embedded, default) or "qdrant" (external).
	Backend string

	// VectorSize is the vector dimension shared by both backends.
	VectorSize int

	// Chromem configures the embedded backend.
	Chromem ChromemConfig

	// Qdrant configures the external backend.
	Qdrant QdrantConfig
}

// NewStore creates the configured store backend.
func NewStore(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendChromem:
		chromemCfg := cfg.Chromem
		chromemCfg.VectorSize = cfg.VectorSize
		return NewChromemStore(chromemCfg, logger)
	case BackendQdrant:
		qdrantCfg := cfg.Qdrant
		qdrantCfg.VectorSize = uint64(cfg.VectorSize)
		return NewQdrantStore(qdrantCfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
