// Package storage defines the append-only multi-value map that every geoKV
// backend implements. A backend maps a key to a bucket, an ordered list of
// values, and encodes buckets with a codec.Codec at its storage boundary.
//
// Key Components:
//
//   - Backend Interface: Set, Update and Extend write buckets, Get, Keys,
//     Values, Contains and Len read them. Get of an absent key yields an
//     empty bucket instead of an error.
//
//   - Feature Flags: backends differ in persistence, native write locks,
//     read-only open modes and batch atomicity. Callers discover these
//     through SupportsFeature rather than through type assertions.
//
//   - Implementation Identifiers: memory, sqlite, bolt and pebble, found in
//     the engines subpackages.
//
//   - Database Information: GetInfo reports the implementation, its features
//     and size statistics that are estimated from recorded writes.
//
// Atomicity per implementation:
//
//	memory   Update per key, Extend per key (no cross-key atomicity)
//	sqlite   Update, Extend and Clear in one transaction
//	bolt     Update, Extend and Clear in one transaction
//	pebble   Update and Extend in one synced batch
//
// The package testing contains a conformance suite that every
// implementation runs.
package storage
