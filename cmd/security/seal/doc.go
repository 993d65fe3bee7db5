// Package seal provides authenticated encryption for persisted sessions.
//
// A persisted session holds a refresh token, so any backend that writes it
// outside process memory (file, Redis, Postgres) seals the JSON payload first.
//
// Design goals:
// - XChaCha20-Poly1305 with a random 24-byte nonce per Seal call.
// - The AEAD key is derived with HKDF-SHA256 from NID_SESSION_KEY, so any
//   sufficiently long secret string works as input.
// - The storage profile is bound as additional data: a blob sealed for one
//   profile does not open under another.
//
// Environment:
// - NID_SESSION_KEY: when set, enables sealing.
package seal
