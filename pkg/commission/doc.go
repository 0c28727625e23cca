// Package commission implements the pure commission-split calculator: a gross
// payment amount plus a provider's rate snapshot in basis points yields
// exact provider and platform shares with remainder-safe rounding.
//
// The package performs no I/O; the ingestion pipeline calls Calculate inside
// its ledger transaction and Verify before committing a commission record.
package commission
