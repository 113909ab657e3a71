package dump

// Sizes of the CONTEXT structures stored in the header.
const (
	ContextSize64 = 1232
	ContextSize32 = 716
)

// Register is one named register value from the captured CPU context.
type Register struct {
	Name  string
	Value uint64
}

// Context is the register state captured when the system stopped.
type Context struct {
	// Is64Bit is true for an x64 CONTEXT.
	Is64Bit bool

	// Flags is the ContextFlags field.
	Flags uint32

	// Registers lists the registers in structure order.
	Registers []Register
}

type registerField struct {
	name  string
	off   int
	width int
}

var registers64 = []registerField{
	{"mxcsr", 0x34, 4},
	{"cs", 0x38, 2}, {"ds", 0x3A, 2}, {"es", 0x3C, 2},
	{"fs", 0x3E, 2}, {"gs", 0x40, 2}, {"ss", 0x42, 2},
	{"eflags", 0x44, 4},
	{"dr0", 0x48, 8}, {"dr1", 0x50, 8}, {"dr2", 0x58, 8}, {"dr3", 0x60, 8},
	{"dr6", 0x68, 8}, {"dr7", 0x70, 8},
	{"rax", 0x78, 8}, {"rcx", 0x80, 8}, {"rdx", 0x88, 8}, {"rbx", 0x90, 8},
	{"rsp", 0x98, 8}, {"rbp", 0xA0, 8}, {"rsi", 0xA8, 8}, {"rdi", 0xB0, 8},
	{"r8", 0xB8, 8}, {"r9", 0xC0, 8}, {"r10", 0xC8, 8}, {"r11", 0xD0, 8},
	{"r12", 0xD8, 8}, {"r13", 0xE0, 8}, {"r14", 0xE8, 8}, {"r15", 0xF0, 8},
	{"rip", 0xF8, 8},
}

var registers32 = []registerField{
	{"dr0", 0x04, 4}, {"dr1", 0x08, 4}, {"dr2", 0x0C, 4}, {"dr3", 0x10, 4},
	{"dr6", 0x14, 4}, {"dr7", 0x18, 4},
	{"gs", 0x8C, 4}, {"fs", 0x90, 4}, {"es", 0x94, 4}, {"ds", 0x98, 4},
	{"edi", 0x9C, 4}, {"esi", 0xA0, 4}, {"ebx", 0xA4, 4}, {"edx", 0xA8, 4},
	{"ecx", 0xAC, 4}, {"eax", 0xB0, 4}, {"ebp", 0xB4, 4},
	{"eip", 0xB8, 4}, {"cs", 0xBC, 4}, {"eflags", 0xC0, 4},
	{"esp", 0xC4, 4}, {"ss", 0xC8, 4},
}

// ReadContext decodes the CONTEXT record referenced by the header.
// It returns nil and no error when the header has no context.
func ReadContext(r *Reader, h *Header) (*Context, error) {
	if h.ContextOffset == 0 {
		return nil, nil
	}

	size, fields, flagsOff := ContextSize32, registers32, 0x00
	if h.Is64Bit {
		size, fields, flagsOff = ContextSize64, registers64, 0x30
	}
	buf, err := r.ReadBytes(h.ContextOffset, size)
	if err != nil {
		return nil, err
	}

	d := NewDecoder(buf, "context record")
	ctx := &Context{
		Is64Bit:   h.Is64Bit,
		Flags:     d.U32(flagsOff),
		Registers: make([]Register, 0, len(fields)),
	}
	for _, f := range fields {
		var v uint64
		switch f.width {
		case 2:
			v = uint64(d.U16(f.off))
		case 4:
			v = uint64(d.U32(f.off))
		default:
			v = d.U64(f.off)
		}
		ctx.Registers = append(ctx.Registers, Register{Name: f.name, Value: v})
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Get returns the value of the named register.
func (c *Context) Get(name string) (uint64, bool) {
	for _, reg := range c.Registers {
		if reg.Name == name {
			return reg.Value, true
		}
	}
	return 0, false
}

// InstructionPointer returns rip or eip.
func (c *Context) InstructionPointer() uint64 {
	name := "eip"
	if c.Is64Bit {
		name = "rip"
	}
	v, _ := c.Get(name)
	return v
}

// StackPointer returns rsp or esp.
func (c *Context) StackPointer() uint64 {
	name := "esp"
	if c.Is64Bit {
		name = "rsp"
	}
	v, _ := c.Get(name)
	return v
}
