package frames

import "fmt"

// AudioFrame carries raw user audio traveling toward the STT stage.
// Data is mono 16-bit signed little-endian PCM at SampleRate.
type AudioFrame struct {
	*BaseFrame
	Data       []byte
	SampleRate int
	Channels   int
}

func NewAudioFrame(data []byte, sampleRate, channels int) *AudioFrame {
	return &AudioFrame{
		BaseFrame:  NewBaseFrame("AudioFrame"),
		Data:       data,
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

func (f *AudioFrame) Category() FrameCategory {
	return DataCategory
}

func (f *AudioFrame) String() string {
	return fmt.Sprintf("AudioFrame[id=%d, %d bytes @ %dHz]", f.ID(), len(f.Data), f.SampleRate)
}

// TranscriptionFrame carries STT output. Final marks the end-of-turn
// transcript that is handed to the agent; non-final frames are interim
// results surfaced for display only.
type TranscriptionFrame struct {
	*BaseFrame
	Text  string
	Final bool
}

func NewTranscriptionFrame(text string, final bool) *TranscriptionFrame {
	return &TranscriptionFrame{
		BaseFrame: NewBaseFrame("TranscriptionFrame"),
		Text:      text,
		Final:     final,
	}
}

func (f *TranscriptionFrame) Category() FrameCategory {
	return DataCategory
}

func (f *TranscriptionFrame) String() string {
	return fmt.Sprintf("TranscriptionFrame[id=%d, final=%v, %q]", f.ID(), f.Final, f.Text)
}

// TextFrame carries one streaming text chunk of the agent's response.
type TextFrame struct {
	*BaseFrame
	Text string
}

func NewTextFrame(text string) *TextFrame {
	return &TextFrame{
		BaseFrame: NewBaseFrame("TextFrame"),
		Text:      text,
	}
}

func (f *TextFrame) Category() FrameCategory {
	return DataCategory
}

func (f *TextFrame) String() string {
	return fmt.Sprintf("TextFrame[id=%d, %q]", f.ID(), f.Text)
}

// TTSAudioFrame carries synthesized audio traveling toward the sink.
type TTSAudioFrame struct {
	*BaseFrame
	Data       []byte
	SampleRate int
}

func NewTTSAudioFrame(data []byte, sampleRate int) *TTSAudioFrame {
	return &TTSAudioFrame{
		BaseFrame:  NewBaseFrame("TTSAudioFrame"),
		Data:       data,
		SampleRate: sampleRate,
	}
}

func (f *TTSAudioFrame) Category() FrameCategory {
	return DataCategory
}

func (f *TTSAudioFrame) String() string {
	return fmt.Sprintf("TTSAudioFrame[id=%d, %d bytes @ %dHz]", f.ID(), len(f.Data), f.SampleRate)
}

// ControlFrame is the base for control/configuration frames
type ControlFrame struct {
	*BaseFrame
}

func (f *ControlFrame) Category() FrameCategory {
	return ControlCategory
}

// AgentResponseEndFrame marks the end of one agent response. Downstream
// synthesis flushes buffered text when it sees this frame.
type AgentResponseEndFrame struct {
	*ControlFrame
}

func NewAgentResponseEndFrame() *AgentResponseEndFrame {
	return &AgentResponseEndFrame{
		ControlFrame: &ControlFrame{
			BaseFrame: NewBaseFrame("AgentResponseEndFrame"),
		},
	}
}

// ToolCallFrame reports a tool invocation made by the agent.
type ToolCallFrame struct {
	*ControlFrame
	CallID string
	Tool   string
	Args   map[string]any
}

func NewToolCallFrame(callID, tool string, args map[string]any) *ToolCallFrame {
	return &ToolCallFrame{
		ControlFrame: &ControlFrame{
			BaseFrame: NewBaseFrame("ToolCallFrame"),
		},
		CallID: callID,
		Tool:   tool,
		Args:   args,
	}
}

// ToolResultFrame reports the result of a completed tool invocation.
type ToolResultFrame struct {
	*ControlFrame
	CallID string
	Tool   string
	Result string
}

func NewToolResultFrame(callID, tool, result string) *ToolResultFrame {
	return &ToolResultFrame{
		ControlFrame: &ControlFrame{
			BaseFrame: NewBaseFrame("ToolResultFrame"),
		},
		CallID: callID,
		Tool:   tool,
		Result: result,
	}
}
