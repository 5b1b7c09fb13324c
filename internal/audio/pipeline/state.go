package pipeline

// State is the lifecycle position of a Session.
type State int

const (
	StateInit State = iota
	StateStreaming
	StateDraining
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Stats counts what a session has done so far.
type Stats struct {
	InputBytes    int64 // handed to Write
	ConsumedBytes int64 // decoded, or sliced as raw samples
	FramesDecoded int
	FramesEncoded int
	PaddedSamples int
	FlushCalls    int
	Chunks        int
	OutputBytes   int
}
