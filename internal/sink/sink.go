package sink

import "io"

// Sink is a recording destination. The consumer engine writes every byte it
// pulls off the ring buffer to exactly one Sink, in order, and closes it
// when the session ends or switches away.
type Sink interface {
	io.Writer
	Close() error
}

var (
	_ Sink = (*File)(nil)
	_ Sink = (*Upload)(nil)
	_ Sink = (*Null)(nil)
)
