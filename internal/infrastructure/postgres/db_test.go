package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPoolWithConfigErrors(t *testing.T) {
	testCases := []struct {
		name string
		cfg  PoolConfig
	}{
		{name: "unparseable url", cfg: PoolConfig{DatabaseURL: "not-a-url"}},
		{name: "unreachable server", cfg: PoolConfig{DatabaseURL: "postgres://invalid:5432/db", MaxConns: 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			pool, err := NewPoolWithConfig(ctx, tc.cfg)
			assert.Error(t, err)
			assert.Nil(t, pool)
		})
	}
}
