// Package hsm emulates a hardware security module in software.
//
// Key pairs live in memory for the session; only their metadata (id, creation
// time, algorithm) is persisted through platform.Storage. Persisted entries
// older than 30 days are pruned, and a key is reused only while its private
// material is still held in memory.
package hsm
