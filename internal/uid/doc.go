// Package uid derives stable identifiers for jobs categories, systems and
// phases.
//
// An identifier is the first 16 bytes of SHA-256(domain + 0x00 + NFC(name)).
// The same name always yields the same UID across processes and restarts, so
// a category or a system can be addressed by name or by Go type without
// holding a live reference to it.
//
// Counter replaces process-wide mutable id counters: whoever needs unique
// names owns a Counter and passes it explicitly.
package uid
