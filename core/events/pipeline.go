package events

const (
	// KindOverrun identifies work dropped because a bounded queue was full.
	KindOverrun Kind = "pipeline.overrun"
	// KindCaptureFault identifies a fatal audio capture failure.
	KindCaptureFault Kind = "pipeline.capture_fault"
	// KindListeningChanged identifies the listening gate being switched.
	KindListeningChanged Kind = "pipeline.listening_changed"
)

// Overrun stages.
const (
	StageCapture  = "capture"
	StageDispatch = "dispatch"
)

// Overrun carries what was dropped and where. For the capture stage FrameSeq
// is set, for the dispatch stage the utterance fields are.
type Overrun struct {
	Base
	Stage       string
	FrameSeq    uint64
	UtteranceID string
	Ordinal     uint64
	Err         error
}

// NewFrameOverrun creates an overrun event for a dropped audio frame.
func NewFrameOverrun(frameSeq uint64, err error) Overrun {
	return Overrun{Base: NewBase(KindOverrun), Stage: StageCapture, FrameSeq: frameSeq, Err: err}
}

// NewDispatchOverrun creates an overrun event for a dropped utterance entry.
func NewDispatchOverrun(utteranceID string, ordinal uint64, err error) Overrun {
	return Overrun{Base: NewBase(KindOverrun), Stage: StageDispatch, UtteranceID: utteranceID, Ordinal: ordinal, Err: err}
}

type CaptureFault struct {
	Base
	Err error
}

func NewCaptureFault(err error) CaptureFault {
	return CaptureFault{Base: NewBase(KindCaptureFault), Err: err}
}

type ListeningChanged struct {
	Base
	Listening bool
}

func NewListeningChanged(listening bool) ListeningChanged {
	return ListeningChanged{Base: NewBase(KindListeningChanged), Listening: listening}
}
