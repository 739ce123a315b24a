package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionsRoundTrip(t *testing.T) {
	for _, p := range []Permissions{
		RWX(true, true, true),
		RWX(true, false, false),
		RWX(false, true, false),
		RWX(false, false, true),
		RWX(false, false, false),
	} {
		got := permissionsFromByte(p.byte())
		assert.Equal(t, p, got)
	}
}

func TestSealRoundTrip(t *testing.T) {
	assert.Equal(t, Unsealed, sealFromByte(Unsealed.byte()))
	for k := 1; k < 255; k += 37 {
		s := Sealed(uint8(k))
		require.True(t, s.IsSealed())
		assert.Equal(t, uint8(k), s.Key())
		assert.Equal(t, s, sealFromByte(s.byte()))
	}
}

func TestSealedWithZeroKeyIsUnsealed(t *testing.T) {
	assert.Equal(t, Unsealed, Sealed(0))
}

func TestNewCapabilityPacksPermsAndSeal(t *testing.T) {
	c := NewCapability(10, 0, 100, RWX(true, false, true), Sealed(7), true)
	assert.Equal(t, RWX(true, false, true), c.Perms())
	assert.Equal(t, Sealed(7), c.SealValue())
	assert.True(t, c.Valid)
}

func TestNewCapabilityNotAutomaticallyValid(t *testing.T) {
	c := NewCapability(0, 0, 100, RWX(true, true, true), Unsealed, false)
	assert.False(t, c.Valid)
}

func TestCapabilityInRange(t *testing.T) {
	c := NewCapability(50, 0, 100, RWX(true, true, true), Unsealed, true)
	assert.True(t, c.InRange())

	out := NewCapability(150, 0, 100, RWX(true, true, true), Unsealed, true)
	assert.False(t, out.InRange())
}

func TestBootCapability(t *testing.T) {
	boot := BootCapability(4096)
	assert.True(t, boot.Valid)
	assert.Equal(t, Int(0), boot.Start)
	assert.Equal(t, Int(4096), boot.End)
	assert.Equal(t, RWX(true, true, true), boot.Perms())
	assert.Equal(t, Unsealed, boot.SealValue())
}
