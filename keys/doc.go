// Package keys loads and holds the asymmetric signing key pair used by the
// token codec. A Provider is built once at startup and is immutable afterwards.
package keys
