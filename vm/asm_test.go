package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleResolvesForwardLabel(t *testing.T) {
	lines := []LabeledLine{
		{Instr: SymInstruction{Op: OpJmp, A: SymLabel("target")}},
		{Instr: SymInstruction{Op: OpMov, Reg: R0, A: SymImm(1)}},
		{Labels: []string{"target"}, Instr: SymInstruction{Op: OpMov, Reg: R1, A: SymImm(2)}},
	}

	program, err := Assemble(lines)
	require.NoError(t, err)
	require.Len(t, program, 3)
	assert.Equal(t, ImmValue(2*InstructionStride), program[0].A)
}

func TestAssembleDuplicateLabelLastWriteWins(t *testing.T) {
	lines := []LabeledLine{
		{Labels: []string{"l"}, Instr: SymInstruction{Op: OpMov, Reg: R0, A: SymImm(0)}},
		{Labels: []string{"l"}, Instr: SymInstruction{Op: OpMov, Reg: R0, A: SymImm(1)}},
		{Instr: SymInstruction{Op: OpJmp, A: SymLabel("l")}},
	}

	program, err := Assemble(lines)
	require.NoError(t, err)
	assert.Equal(t, ImmValue(1*InstructionStride), program[2].A)
}

func TestAssembleUndefinedLabel(t *testing.T) {
	lines := []LabeledLine{
		{Instr: SymInstruction{Op: OpJmp, A: SymLabel("nowhere")}},
	}

	_, err := Assemble(lines)
	require.Error(t, err)
	var target *UndefinedLabel
	assert.ErrorAs(t, err, &target)
	assert.Equal(t, "nowhere", target.Name)
}

func TestAssembleHereResolvesToOwnOffsetRegardlessOfLaterLabels(t *testing.T) {
	// "here" on line 0 must resolve to 0, not to some later label's offset,
	// even though a label is defined two lines later.
	lines := []LabeledLine{
		{Instr: SymInstruction{Op: OpMov, Reg: R0, A: SymHere()}},
		{Instr: SymInstruction{Op: OpMov, Reg: R1, A: SymImm(0)}},
		{Labels: []string{"after"}, Instr: SymInstruction{Op: OpMov, Reg: R2, A: SymImm(0)}},
	}

	program, err := Assemble(lines)
	require.NoError(t, err)
	assert.Equal(t, ImmValue(0), program[0].A)
}

func TestAssembleWithLabelsReturnsLabelTable(t *testing.T) {
	lines := []LabeledLine{
		{Labels: []string{"start"}, Instr: SymInstruction{Op: OpMov, Reg: R0, A: SymImm(0)}},
		{Instr: SymInstruction{Op: OpMov, Reg: R1, A: SymImm(0)}},
		{Labels: []string{"end"}, Instr: SymInstruction{Op: OpJmp, A: SymLabel("start")}},
	}

	program, labels, err := AssembleWithLabels(lines)
	require.NoError(t, err)
	require.Len(t, program, 3)
	assert.Equal(t, Int(0), labels["start"])
	assert.Equal(t, Int(2*InstructionStride), labels["end"])
	assert.Len(t, labels, 2)
}

func TestAssembleIsDeterministic(t *testing.T) {
	lines := []LabeledLine{
		{Labels: []string{"start"}, Instr: SymInstruction{Op: OpMov, Reg: R0, A: SymHere()}},
		{Instr: SymInstruction{Op: OpJmp, A: SymLabel("start")}},
	}

	first, err := Assemble(lines)
	require.NoError(t, err)
	second, err := Assemble(lines)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
