package frames

// SystemFrame is the base for all system-level frames
type SystemFrame struct {
	*BaseFrame
}

func (f *SystemFrame) Category() FrameCategory {
	return SystemCategory
}

// StartFrame signals the beginning of pipeline execution
type StartFrame struct {
	*SystemFrame
	SampleRate int // pipeline boundary rate, mono s16le PCM
}

func NewStartFrame(sampleRate int) *StartFrame {
	return &StartFrame{
		SystemFrame: &SystemFrame{
			BaseFrame: NewBaseFrame("StartFrame"),
		},
		SampleRate: sampleRate,
	}
}

// EndFrame signals graceful shutdown after flushing all frames.
// It travels source to sink; every stage drains before forwarding it.
type EndFrame struct {
	*SystemFrame
}

func NewEndFrame() *EndFrame {
	return &EndFrame{
		SystemFrame: &SystemFrame{
			BaseFrame: NewBaseFrame("EndFrame"),
		},
	}
}

// Category routes EndFrame through the ordered path so it arrives after
// every data frame queued before it. Only CancelFrame may jump the queue.
func (f *EndFrame) Category() FrameCategory {
	return ControlCategory
}

// CancelFrame signals immediate shutdown without flushing
type CancelFrame struct {
	*SystemFrame
}

func NewCancelFrame() *CancelFrame {
	return &CancelFrame{
		SystemFrame: &SystemFrame{
			BaseFrame: NewBaseFrame("CancelFrame"),
		},
	}
}

// ErrorFrame carries error information through the pipeline.
// Stage failures degrade that stage's output; they never abort the pipeline.
type ErrorFrame struct {
	*SystemFrame
	Error error
}

func NewErrorFrame(err error) *ErrorFrame {
	return &ErrorFrame{
		SystemFrame: &SystemFrame{
			BaseFrame: NewBaseFrame("ErrorFrame"),
		},
		Error: err,
	}
}
