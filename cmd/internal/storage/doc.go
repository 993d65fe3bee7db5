// Package storage holds the backends that persist a remembered identity
// session between processes: memory, a local file, Redis and PostgreSQL.
//
// Every backend implements gotrue.Store. Persistent backends serialize the
// user as JSON and, when a seal.Sealer is configured, encrypt it bound to the
// store profile so a payload copied to another profile will not open.
package storage
