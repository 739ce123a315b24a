package vm

// RegisterFile owns the general purpose registers, the capability
// registers, and the program counter. The zero value has every register
// and PC zeroed, matching the spec's boot lifecycle (capabilities and
// registers are created zeroed; CC/DD are overwritten with the boot
// capability afterwards).
type RegisterFile struct {
	gp  [NumGpRegisters]Int
	cap [NumCRegisters]Capability
	PC  Int
}

// GP returns the value of general purpose register r.
func (rf *RegisterFile) GP(r GpRegister) Int { return rf.gp[r] }

// SetGP sets general purpose register r to v.
func (rf *RegisterFile) SetGP(r GpRegister, v Int) { rf.gp[r] = v }

// Cap returns the value of capability register r.
func (rf *RegisterFile) Cap(r CRegister) Capability { return rf.cap[r] }

// SetCap sets capability register r to c.
func (rf *RegisterFile) SetCap(r CRegister, c Capability) { rf.cap[r] = c }

// ByteSink receives the single byte emitted by Emit. It is the only
// externally visible side effect besides the driver's inspection of
// register/memory state between ticks.
type ByteSink interface {
	EmitByte(b byte)
}

// Machine is a fixed-size capability-machine VM instance: a RegisterFile
// plus a Memory, nothing else. There is no dynamic allocation during
// execution.
type Machine struct {
	Memory Memory
	Reg    RegisterFile

	// Out receives bytes written by Emit. A nil Out silently discards them.
	Out ByteSink
}

// NewMachine constructs a Machine with zeroed memory and registers, except
// that CC and DD are overwritten with the omnipotent boot capability (all
// of memory, all permissions, unsealed, valid) as required at boot.
func NewMachine() *Machine {
	return NewMachineSized(MemorySize)
}

// NewMachineSized is NewMachine but with the boot capability's bound set to
// memSize instead of the full MemorySize. The underlying byte array and tag
// bitmap are always MemorySize bytes — memSize only narrows what the boot
// capability installed into CC and DD grants access to, letting a caller
// (the driver's --mem-size flag) demonstrate bounds faults against a
// smaller address space without shrinking the machine itself. memSize is
// clamped to [0, MemorySize].
func NewMachineSized(memSize Int) *Machine {
	if memSize > MemorySize {
		memSize = MemorySize
	}
	if memSize < 0 {
		memSize = 0
	}
	m := &Machine{}
	boot := BootCapability(memSize)
	m.Reg.SetCap(CC, boot)
	m.Reg.SetCap(DD, boot)
	return m
}

// Tick executes exactly one instruction to completion, or returns a fatal
// RuntimeError. It fetches through CC at the current PC, executes, and —
// unless the instruction itself assigned PC — advances PC by
// InstructionStride. On error, PC is left pointing at the faulting
// instruction (fetch faults: PC unchanged; execute faults: PC already
// advanced past the fetched instruction is never observed, since execute
// faults return before any PC assignment happens for that instruction).
func (m *Machine) Tick() RuntimeError {
	instr, err := m.Memory.Fetch(m.Reg.Cap(CC), m.Reg.PC)
	if err != nil {
		return err
	}

	branched, err := m.execute(instr)
	if err != nil {
		return err
	}
	if !branched {
		m.Reg.PC = SaturatingAdd(m.Reg.PC, InstructionStride)
	}
	return nil
}

// eval resolves a Value against the current register file.
func (m *Machine) eval(v Value) Int {
	if v.IsReg {
		return m.Reg.GP(v.Reg)
	}
	return v.Imm
}

// execute runs one decoded instruction. It returns true if the instruction
// itself assigned PC (so Tick must not auto-advance).
func (m *Machine) execute(instr Instruction) (bool, RuntimeError) {
	switch instr.Op {
	case OpMov:
		m.Reg.SetGP(instr.Reg, m.eval(instr.A))

	case OpAdd:
		m.Reg.SetGP(instr.Reg, SaturatingAdd(m.Reg.GP(instr.Reg), m.eval(instr.A)))
	case OpSub:
		m.Reg.SetGP(instr.Reg, SaturatingSub(m.Reg.GP(instr.Reg), m.eval(instr.A)))
	case OpMul:
		m.Reg.SetGP(instr.Reg, SaturatingMul(m.Reg.GP(instr.Reg), m.eval(instr.A)))
	case OpDiv:
		m.Reg.SetGP(instr.Reg, SaturatingDiv(m.Reg.GP(instr.Reg), m.eval(instr.A)))

	case OpAnd:
		m.Reg.SetGP(instr.Reg, m.Reg.GP(instr.Reg)&m.eval(instr.A))
	case OpOr:
		m.Reg.SetGP(instr.Reg, m.Reg.GP(instr.Reg)|m.eval(instr.A))
	case OpXor:
		m.Reg.SetGP(instr.Reg, m.Reg.GP(instr.Reg)^m.eval(instr.A))
	case OpNot:
		m.Reg.SetGP(instr.Reg, ^m.Reg.GP(instr.Reg))

	case OpLoad:
		v, err := m.Memory.LoadInt(m.Reg.Cap(DD), m.eval(instr.A))
		if err != nil {
			return false, err
		}
		m.Reg.SetGP(instr.Reg, v)

	case OpStore:
		// instr.A supplies the stored value, instr.B the offset.
		if err := m.Memory.StoreInt(m.Reg.Cap(DD), m.eval(instr.B), m.eval(instr.A)); err != nil {
			return false, err
		}

	case OpJmp:
		m.Reg.PC = m.eval(instr.A)
		return true, nil

	case OpPush:
		addr := SaturatingSub(m.Reg.GP(SP), 2)
		if err := m.Memory.StoreInt(m.Reg.Cap(DD), addr, m.eval(instr.A)); err != nil {
			return false, err
		}
		m.Reg.SetGP(SP, addr)

	case OpPop:
		v, err := m.Memory.LoadInt(m.Reg.Cap(DD), m.Reg.GP(SP))
		if err != nil {
			return false, err
		}
		m.Reg.SetGP(instr.Reg, v)
		m.Reg.SetGP(SP, SaturatingAdd(m.Reg.GP(SP), 2))

	case OpCond:
		if !instr.Cond.Test(m.Reg.GP(instr.Reg), m.eval(instr.A)) {
			m.Reg.PC = SaturatingAdd(m.Reg.PC, 2*InstructionStride)
			return true, nil
		}

	case OpEmit:
		n := m.eval(instr.A)
		mod := n % 256
		if mod < 0 {
			mod += 256
		}
		m.emit(byte(mod))

	default:
		// Reserved or unrecognized opcodes match no case here and run as
		// no-ops (Tick then advances PC as usual). ParseProgram never
		// produces them, so a program assembled from source never reaches
		// this branch.
	}

	return false, nil
}

func (m *Machine) emit(b byte) {
	if m.Out != nil {
		m.Out.EmitByte(b)
	}
}
