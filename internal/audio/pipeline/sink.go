package pipeline

// Chunk is one non-empty piece of encoder output.
type Chunk struct {
	SessionID string
	Data      []byte
	// Frame is the index of the encode call that produced Data, or of the
	// flush call when Flush is set.
	Frame int
	Flush bool
}

// ChunkSink receives every chunk in output order. Data must not be retained
// past the call.
type ChunkSink interface {
	WriteChunk(c Chunk) error
}

type ChunkSinkFunc func(c Chunk) error

func (f ChunkSinkFunc) WriteChunk(c Chunk) error { return f(c) }

// Observer is told when sessions start and end. SessionRejected covers
// sessions that failed to open and so never started. err is nil on success.
type Observer interface {
	SessionStarted()
	SessionFinished(stats Stats, err error)
	SessionRejected(err error)
}
