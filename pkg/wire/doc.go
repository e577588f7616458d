// Package wire implements the byte-aligned packet framing of the
// replication codec: the standard packet header, the compact session
// header, and tag/length section framing.
//
// # Design Goals
//
//   - Reject before trusting: every length and count is validated against
//     the packet bounds and the configured Limits before any allocation or
//     loop that depends on it.
//   - Zero-copy: section bodies are subslices of the input packet.
//   - Deterministic: identical input always frames to identical bytes.
//
// # Standard Packet Layout
//
// All multi-byte fields are little-endian.
//
//	┌─────────┬─────────┬─────────┬─────────────┬─────────┬───────────────┬─────────────┬─────────┐
//	│ magic   │ version │ flags   │ schema_hash │ tick    │ baseline_tick │ payload_len │ payload │
//	│ u32     │ u16     │ u16     │ u64         │ u32     │ u32           │ u32         │ bytes   │
//	└─────────┴─────────┴─────────┴─────────────┴─────────┴───────────────┴─────────────┴─────────┘
//
// Flags: bit 0 FULL, bit 1 DELTA (exactly one required), bit 2
// SESSION_INIT (exclusive of both), bits 3-15 reserved and must be zero.
// FULL and SESSION_INIT packets carry baseline_tick zero; DELTA packets
// carry a non-zero baseline_tick. payload_len must equal the remaining
// byte count exactly.
//
// # Sections
//
// The payload is a sequence of sections:
//
//	┌───────┬──────────────────┬───────────────────┐
//	│ tag   │ length           │ body              │
//	│ u8    │ varuint (≤5 B)   │ bytes[length]     │
//	└───────┴──────────────────┴───────────────────┘
//
// Unknown tags are rejected at version 2 and skipped, using the declared
// length, from version 3 on. Version 3 is otherwise identical to version
// 2 and is not emitted yet; accepting it is the forward-compatibility
// seam for new section kinds.
//
// # Compact Session Header
//
// Once a session is established, packets may replace the standard header
// with a compact one:
//
//	┌───────┬────────────┬────────────────┬─────────────┐
//	│ flags │ tick_delta │ baseline_delta │ payload_len │
//	│ u8    │ varuint    │ varuint        │ varuint     │
//	└───────┴────────────┴────────────────┴─────────────┘
//
// tick_delta is relative to the last accepted tick and must be positive;
// baseline_delta is relative to the packet's own tick. Schema identity and
// version travel in the session, not the packet.
package wire
