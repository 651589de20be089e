// Package transport provides a framed byte-stream transport to a
// microcontroller bootloader over an unreliable serial link.
package transport

// The link is abstracted as a ByteChannel delivering arbitrary chunks.
// Transport encodes outgoing payloads as SLIP frames and reassembles
// incoming frames across reads, keeping unconsumed bytes as left-over
// for the next call. It also sequences the RTS/DTR control lines used
// to reset the target into its bootloader.
//
// A Transport has a single owner: it does no locking, and callers
// must serialize their reads and writes.
