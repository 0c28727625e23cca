// Package redis provides helpers for connecting to a Redis server: a Connect
// function with retry, and a health-check closure for readiness probes.
//
// The compliance sweeps use Redis for best-effort run locks; the helpers here
// only cover connectivity, configured through the Config struct whose fields
// are populated from environment variables.
package redis
