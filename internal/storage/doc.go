// Package storage persists posts, schedule records and dispatch outcomes
// behind a driver-switch Store interface (memory, sqlite, postgres).
package storage
