package vm

import "fmt"

// Intermediate instruction form.
//
// The parser never produces Instruction values directly, because a value
// operand (such as a Jmp or Cond target) can reference a label that has not been defined yet (or is
// defined later in the source, or is the Here marker "."). Instead it
// produces SymInstruction values, which carry SymValue operands capable of
// naming a label or Here in addition to a register or immediate. Assemble
// resolves every SymInstruction against a label table built in a first pass
// over the whole program, exactly mirroring the two-pass assemblers this
// machine's source material and the teacher's own compile step are built
// around.

// SymValue is a Value that may additionally reference a label by name, or
// the Here marker (the byte offset of the instruction containing it).
type SymValue struct {
	IsReg   bool
	Reg     GpRegister
	IsLabel bool
	Label   string
	IsHere  bool
	Imm     Int
}

// SymReg builds a SymValue that reads a general purpose register.
func SymReg(r GpRegister) SymValue { return SymValue{IsReg: true, Reg: r} }

// SymImm builds a SymValue holding a plain immediate.
func SymImm(n Int) SymValue { return SymValue{Imm: n} }

// SymLabel builds a SymValue that resolves to a label's byte offset.
func SymLabel(name string) SymValue { return SymValue{IsLabel: true, Label: name} }

// SymHere builds a SymValue that resolves to the byte offset of the
// instruction it appears in, regardless of any label defined before or
// after it in the source.
func SymHere() SymValue { return SymValue{IsHere: true} }

func (v SymValue) String() string {
	switch {
	case v.IsReg:
		return v.Reg.String()
	case v.IsLabel:
		return "#" + v.Label
	case v.IsHere:
		return "."
	default:
		return fmt.Sprintf("%d", v.Imm)
	}
}

// SymInstruction is the label-carrying counterpart of Instruction: same
// shape, but A and B are SymValues and may defer to the label table.
type SymInstruction struct {
	Op   Opcode
	Reg  GpRegister
	Cond Condition
	A    SymValue
	B    SymValue
}

// LabeledLine is one line of intermediate-form source: an optional label
// definition (name, without the trailing colon) attached to the
// SymInstruction that follows it. A line consisting only of a label
// definition with no instruction is not representable — every label
// decorates exactly one instruction, the one whose byte offset it names.
type LabeledLine struct {
	Labels []string // zero or more labels defined at this instruction's offset
	Instr  SymInstruction
}

// UndefinedLabel reports a label referenced by #name that was never defined
// anywhere in the program.
type UndefinedLabel struct {
	Name string
}

func (e *UndefinedLabel) Error() string {
	return fmt.Sprintf("undefined label %q", e.Name)
}

// Env is the label environment built by Assemble's first pass: a map from
// label name to the byte offset of the instruction it was attached to. A
// label defined more than once resolves to its last definition (last write
// wins), matching how a single mutable pass would naturally behave.
type Env struct {
	labels map[string]Int
}

func newEnv() *Env {
	return &Env{labels: make(map[string]Int)}
}

// Lookup resolves a label to its byte offset.
func (e *Env) Lookup(name string) (Int, bool) {
	off, ok := e.labels[name]
	return off, ok
}

// Assemble runs the two-pass assembler over a sequence of labeled
// intermediate-form lines and produces a dense, resolved Instruction slice
// ready for Memory.StoreInstructions.
//
// Pass 1 walks the lines in order, assigning each line's instruction the
// byte offset i*InstructionStride (i is the line's zero-based index) and
// recording that offset under every label attached to the line. Duplicate
// label definitions overwrite earlier ones: the last definition wins.
//
// Pass 2 walks the lines again, resolving every SymValue operand: Here
// resolves to the containing instruction's own offset (computed in pass 1,
// independent of any label before or after it), a label reference resolves
// through Env, and anything else passes through unchanged. An operand
// naming a label absent from Env is an UndefinedLabel error.
func Assemble(lines []LabeledLine) ([]Instruction, error) {
	program, _, err := AssembleWithLabels(lines)
	return program, err
}

// AssembleWithLabels runs the same two-pass assembler as Assemble but also
// returns the label table built in pass 1 (name -> byte offset), so a caller
// such as the driver's debug REPL can resolve a label name to an address for
// a symbolic breakpoint without re-running pass 1 itself.
func AssembleWithLabels(lines []LabeledLine) ([]Instruction, map[string]Int, error) {
	env := newEnv()
	for i, line := range lines {
		offset := Int(i) * InstructionStride
		for _, label := range line.Labels {
			env.labels[label] = offset
		}
	}

	out := make([]Instruction, len(lines))
	for i, line := range lines {
		here := Int(i) * InstructionStride
		a, err := resolveValue(line.Instr.A, env, here)
		if err != nil {
			return nil, nil, err
		}
		b, err := resolveValue(line.Instr.B, env, here)
		if err != nil {
			return nil, nil, err
		}
		out[i] = Instruction{
			Op:   line.Instr.Op,
			Reg:  line.Instr.Reg,
			Cond: line.Instr.Cond,
			A:    a,
			B:    b,
		}
	}
	return out, env.labels, nil
}

func resolveValue(v SymValue, env *Env, here Int) (Value, error) {
	switch {
	case v.IsReg:
		return RegValue(v.Reg), nil
	case v.IsHere:
		return ImmValue(here), nil
	case v.IsLabel:
		off, ok := env.Lookup(v.Label)
		if !ok {
			return Value{}, &UndefinedLabel{Name: v.Label}
		}
		return ImmValue(off), nil
	default:
		return ImmValue(v.Imm), nil
	}
}
