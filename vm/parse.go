package vm

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// ParseProgram reads surface assembly source and produces the intermediate
// form consumed by Assemble. This is a reference parser for the grammar:
//
//	whitespace (including newlines) separates tokens
//	integer     := '-'? digit+
//	register    := r0 .. r6 | sp
//	label def   := identifier ':'
//	label ref   := '#' identifier
//	here        := '.'
//	condition   := '<=' | '>=' | '==' | '<' | '>'   (longest match first)
//	mnemonic operand arities:
//	  mov/add/sub/mul/div/and/or/xor/load   reg value
//	  not/pop                               reg
//	  store                                 value value   (value_to_store, offset)
//	  jmp/push/emit                         value
//	  cond                                  reg cond value
//
// A line may carry any number of leading label definitions before its
// mnemonic (e.g. "loop: rot: add r0 1" defines both loop and rot at the
// same offset). Newlines are ordinary whitespace, so a label definition on a
// line of its own decorates the next instruction in the source; label
// definitions with no instruction after them at the end of input are an
// error.
func ParseProgram(src string) ([]LabeledLine, error) {
	toks := tokenize(src)
	p := &parser{toks: toks}

	var lines []LabeledLine
	for !p.atEnd() {
		line, err := p.parseLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() string {
	if p.atEnd() {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseLine() (LabeledLine, error) {
	var labels []string
	for isLabelDef(p.peek()) {
		tok := p.next()
		labels = append(labels, strings.TrimSuffix(tok, ":"))
	}
	if p.atEnd() {
		return LabeledLine{}, errors.Errorf("expected instruction after label(s) %v, got end of input", labels)
	}

	mnemonic := p.next()
	instr, err := p.parseInstruction(mnemonic)
	if err != nil {
		return LabeledLine{}, errors.Wrapf(err, "line with label(s) %v", labels)
	}
	return LabeledLine{Labels: labels, Instr: instr}, nil
}

func (p *parser) parseInstruction(mnemonic string) (SymInstruction, error) {
	switch mnemonic {
	case "mov", "add", "sub", "mul", "div", "and", "or", "xor", "load":
		reg, err := p.parseRegister()
		if err != nil {
			return SymInstruction{}, err
		}
		val, err := p.parseValue()
		if err != nil {
			return SymInstruction{}, err
		}
		return SymInstruction{Op: mnemonicOpcode[mnemonic], Reg: reg, A: val}, nil

	case "not", "pop":
		reg, err := p.parseRegister()
		if err != nil {
			return SymInstruction{}, err
		}
		return SymInstruction{Op: mnemonicOpcode[mnemonic], Reg: reg}, nil

	case "store":
		stored, err := p.parseValue()
		if err != nil {
			return SymInstruction{}, err
		}
		offset, err := p.parseValue()
		if err != nil {
			return SymInstruction{}, err
		}
		return SymInstruction{Op: OpStore, A: stored, B: offset}, nil

	case "jmp", "push", "emit":
		val, err := p.parseValue()
		if err != nil {
			return SymInstruction{}, err
		}
		return SymInstruction{Op: mnemonicOpcode[mnemonic], A: val}, nil

	case "cond":
		reg, err := p.parseRegister()
		if err != nil {
			return SymInstruction{}, err
		}
		cond, err := p.parseCondition()
		if err != nil {
			return SymInstruction{}, err
		}
		val, err := p.parseValue()
		if err != nil {
			return SymInstruction{}, err
		}
		return SymInstruction{Op: OpCond, Reg: reg, Cond: cond, A: val}, nil

	default:
		return SymInstruction{}, errors.Errorf("unknown mnemonic %q", mnemonic)
	}
}

var mnemonicOpcode = map[string]Opcode{
	"mov": OpMov, "add": OpAdd, "sub": OpSub, "mul": OpMul, "div": OpDiv,
	"and": OpAnd, "or": OpOr, "xor": OpXor, "not": OpNot, "load": OpLoad,
	"store": OpStore, "jmp": OpJmp, "push": OpPush, "pop": OpPop,
	"cond": OpCond, "emit": OpEmit,
}

var registerByName = map[string]GpRegister{
	"r0": R0, "r1": R1, "r2": R2, "r3": R3, "r4": R4, "r5": R5, "r6": R6, "sp": SP,
}

func (p *parser) parseRegister() (GpRegister, error) {
	tok := p.next()
	r, ok := registerByName[tok]
	if !ok {
		return 0, errors.Errorf("expected register, got %q", tok)
	}
	return r, nil
}

var conditionByToken = map[string]Condition{
	"<=": CondLE, ">=": CondGE, "==": CondEQ, "<": CondLT, ">": CondGT,
}

func (p *parser) parseCondition() (Condition, error) {
	tok := p.next()
	c, ok := conditionByToken[tok]
	if !ok {
		return 0, errors.Errorf("expected condition, got %q", tok)
	}
	return c, nil
}

func (p *parser) parseValue() (SymValue, error) {
	tok := p.next()
	switch {
	case tok == "":
		return SymValue{}, errors.New("expected value, got end of input")
	case tok == ".":
		return SymHere(), nil
	case strings.HasPrefix(tok, "#"):
		name := tok[1:]
		if name == "" {
			return SymValue{}, errors.New("empty label reference")
		}
		return SymLabel(name), nil
	default:
		if r, ok := registerByName[tok]; ok {
			return SymReg(r), nil
		}
		n, err := strconv.ParseInt(tok, 10, 16)
		if err != nil {
			return SymValue{}, errors.Wrapf(err, "expected value, got %q", tok)
		}
		return SymImm(Int(n)), nil
	}
}

func isLabelDef(tok string) bool {
	if !strings.HasSuffix(tok, ":") || len(tok) < 2 {
		return false
	}
	name := tok[:len(tok)-1]
	for _, r := range name {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// tokenize strips ';'-to-end-of-line comments, then splits on whitespace,
// treating every run of non-space characters as one token. The grammar
// never needs punctuation adjacent to an identifier without intervening
// whitespace (label defs end in ':' as part of the token itself, label
// refs start with '#' as part of the token, Here is its own
// single-character token), so simple whitespace splitting is sufficient
// once comments are removed.
func tokenize(src string) []string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Fields(strings.Join(lines, "\n"))
}
