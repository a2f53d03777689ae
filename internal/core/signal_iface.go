package core

// Frame is a raw outbound payload (a marshalled signaling message).
type Frame []byte

// SessionID identifies one connected transport channel. Assigned at
// connection time, never reused while the process runs.
type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
