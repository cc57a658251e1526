// Package testutil contains test doubles shared across package tests:
// loaders that count and gate loads, and scripted models that stream a fixed
// token sequence. They are not intended for production usage.
package testutil
