package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, Int(30), SaturatingAdd(10, 20))
	assert.Equal(t, IntMax, SaturatingAdd(IntMax, 1))
	assert.Equal(t, IntMin, SaturatingAdd(IntMin, -1))
}

func TestSaturatingSub(t *testing.T) {
	assert.Equal(t, Int(-10), SaturatingSub(10, 20))
	assert.Equal(t, IntMin, SaturatingSub(IntMin, 1))
	assert.Equal(t, IntMax, SaturatingSub(IntMax, -1))
}

func TestSaturatingMul(t *testing.T) {
	assert.Equal(t, Int(200), SaturatingMul(10, 20))
	assert.Equal(t, IntMax, SaturatingMul(IntMax, 2))
	assert.Equal(t, IntMin, SaturatingMul(IntMin, 2))
}

func TestSaturatingDivByZero(t *testing.T) {
	assert.Equal(t, IntMax, SaturatingDiv(5, 0))
	assert.Equal(t, IntMin, SaturatingDiv(-5, 0))
	assert.Equal(t, IntMax, SaturatingDiv(0, 0), "zero dividend treated as nonnegative")
}

func TestSaturatingDivOverflowEdgeCase(t *testing.T) {
	assert.Equal(t, IntMax, SaturatingDiv(IntMin, -1))
}

func TestSaturatingDivOrdinary(t *testing.T) {
	assert.Equal(t, Int(3), SaturatingDiv(10, 3))
	assert.Equal(t, Int(-3), SaturatingDiv(-10, 3))
}

func TestInstructionString(t *testing.T) {
	mov := Instruction{Op: OpMov, Reg: R0, A: ImmValue(5)}
	assert.Equal(t, "mov r0 5", mov.String())

	not := Instruction{Op: OpNot, Reg: R1}
	assert.Equal(t, "not r1", not.String())

	store := Instruction{Op: OpStore, A: ImmValue(1), B: RegValue(SP)}
	assert.Equal(t, "store 1 sp", store.String())

	cond := Instruction{Op: OpCond, Reg: R2, Cond: CondGE, A: ImmValue(0)}
	assert.Equal(t, "cond r2 >= 0", cond.String())
}

func TestConditionTest(t *testing.T) {
	assert.True(t, CondLT.Test(1, 2))
	assert.False(t, CondLT.Test(2, 2))
	assert.True(t, CondLE.Test(2, 2))
	assert.True(t, CondEQ.Test(2, 2))
	assert.True(t, CondGE.Test(2, 2))
	assert.True(t, CondGT.Test(3, 2))
}
