// Package chain implements the hash-linked ledger that backs shipment tracking.
//
// A Ledger is an ordered, append-only sequence of Records. The first Record
// (sequence 0) is the genesis entry and carries the sentinel previous hash
// GenesisPrevHash. Every later Record stores the hash of its predecessor, and
// its own hash is the SHA-256 of its sequence, creation timestamp, previous
// hash, and canonical payload, so any edit to a stored Record is detectable
// via Verify.
//
// A Record payload may itself embed a full Ledger (a shipment's status
// history). Embedded ledgers have no identity of their own in storage; they are
// persisted inside their parent's payload bytes.
//
// Ledgers are not safe for concurrent use. The owner of a top-level Ledger
// serializes all access to it.
package chain
