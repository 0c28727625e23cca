// Package logger provides a context-aware wrapper around log/slog with
// functional options for configuration, helper attribute constructors, and
// transparent injection of values stored in context.Context.
//
// New builds a *slog.Logger whose handler is wrapped by LogHandlerDecorator;
// the decorator runs registered ContextExtractor callbacks on every Handle
// call so request-scoped values (request IDs, account IDs) appear on all
// records without manual plumbing.
//
// Helper constructors such as Error, AccountID, and GatewayEventID live in
// attr.go and keep attribute naming consistent across the codebase.
package logger
