// Package testutil provides an embedded NATS server for package tests, so
// tests exercise the real wire protocol instead of a mock connection.
package testutil
