package model

// Frame sources.
const (
	// FrameSourceContext marks the frame taken from the instruction pointer.
	FrameSourceContext = "context"

	// FrameSourceStackScan marks a candidate return address found on the stack.
	FrameSourceStackScan = "stack_scan"
)

// StackTrace is the processor state at the time of the crash. No unwinding
// or symbol resolution is performed; RawFrames are best-effort candidates.
type StackTrace struct {
	HasContext   bool `json:"has_context"`
	HasException bool `json:"has_exception"`

	InstructionPointer string `json:"instruction_pointer,omitempty"`
	StackPointer       string `json:"stack_pointer,omitempty"`

	// Registers maps a register name to its "0x%016X" value. It is empty
	// when HasContext is false.
	Registers map[string]string `json:"registers"`

	Exception *ExceptionInfo `json:"exception"`

	RawFrames     []Frame `json:"raw_frames"`
	RawFrameCount int     `json:"raw_frame_count"`

	Note string `json:"note"`
}

// ExceptionInfo is the decoded exception record.
type ExceptionInfo struct {
	Code             uint32   `json:"code"`
	CodeHex          string   `json:"code_hex"`
	Name             string   `json:"name"`
	Flags            string   `json:"flags"`
	Record           string   `json:"record"`
	Address          string   `json:"address"`
	NumberParameters uint32   `json:"number_parameters"`
	Parameters       []string `json:"parameters"`
}

// Frame is a raw stack frame.
type Frame struct {
	Index   int    `json:"index"`
	Address string `json:"address"`

	// Module and Offset are set when the address falls inside a loaded module.
	Module string `json:"module,omitempty"`
	Offset string `json:"offset,omitempty"`

	Source string `json:"source"`
}
