// Package pg provides utilities for interacting with PostgreSQL using the
// pgx/v5 driver: connection pooling with retry, goose schema migrations,
// health checks, and error classification helpers.
//
// The building blocks are deliberately decoupled:
//
//   - Config — declarative struct populated from environment variables.
//   - Connect — opens a *pgxpool.Pool, retrying until the database is ready.
//   - Migrate — runs goose SQL migrations before the service starts serving.
//
// Error helpers such as IsDuplicateKeyError unwrap *pgconn.PgError values so
// business logic can classify constraint violations without SQLSTATE
// literals scattered through the codebase.
package pg
