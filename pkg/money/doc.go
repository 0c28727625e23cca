// Package money provides fixed-point integer cent arithmetic for
// currency-tagged amounts. Every value in the commission ledger flows through
// this package; floating point is rejected by construction.
package money
