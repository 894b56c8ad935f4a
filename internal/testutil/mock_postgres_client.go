package testutil

import (
	"context"

	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
)

var _ postgres.IClient = (*MockPostgresClient)(nil)

// MockPostgresClient satisfies postgres.IClient for service tests backed by
// in-memory stores. Transactions degrade to plain function calls; the
// stores have no rollback, which tests account for.
type MockPostgresClient struct {
	logger *logger.Logger
}

func NewMockPostgresClient(logger *logger.Logger) postgres.IClient {
	return &MockPostgresClient{logger: logger}
}

func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Querier panics if used: in-memory tests must go through repositories,
// never raw SQL.
func (c *MockPostgresClient) Querier(ctx context.Context) postgres.Querier {
	panic("testutil: raw queries are not supported by the mock postgres client")
}
