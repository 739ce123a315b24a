package vm

import "fmt"

// MemorySize is the size, in bytes, of the machine's linear memory.
const MemorySize = 4096

// numCapSlots is the number of CapSize-aligned tag slots memory holds.
const numCapSlots = MemorySize / int(CapSize)

// RuntimeError is the common interface satisfied by every fault a memory
// access or instruction execution can raise. Errors are never caught inside
// this package; they propagate intact to the caller, which for Machine.Tick
// means the caller (the driver) decides whether to halt, retry, or ignore.
type RuntimeError interface {
	error
	runtimeError()
}

// UnalignedAccess reports that an access address was not aligned to the
// natural alignment of the type being accessed.
type UnalignedAccess struct {
	Addr  Int
	Align Int
}

func (e *UnalignedAccess) Error() string {
	return fmt.Sprintf("unaligned access at %d (requires %d-byte alignment)", e.Addr, e.Align)
}
func (*UnalignedAccess) runtimeError() {}

// OutOfBoundsAccess reports that an access span fell outside the
// capability's bounds or outside memory entirely. It carries the offending
// capability for diagnostics.
type OutOfBoundsAccess struct {
	Cap Capability
}

func (e *OutOfBoundsAccess) Error() string {
	return fmt.Sprintf("out of bounds access through capability %s", e.Cap)
}
func (*OutOfBoundsAccess) runtimeError() {}

// InvalidCapability reports that the capability's Valid bit was false.
type InvalidCapability struct {
	Cap Capability
}

func (e *InvalidCapability) Error() string {
	return fmt.Sprintf("invalid capability %s", e.Cap)
}
func (*InvalidCapability) runtimeError() {}

// InsufficientPermissions reports that the capability lacked the
// permission required for the attempted access.
type InsufficientPermissions struct {
	Cap Capability
}

func (e *InsufficientPermissions) Error() string {
	return fmt.Sprintf("insufficient permissions on capability %s", e.Cap)
}
func (*InsufficientPermissions) runtimeError() {}

// Memory is a fixed MemorySize-byte linear store paired with a per-slot
// capability validity bitmap. The bitmap is not addressable through the
// linear byte view: no byte-level store can ever make getCapTag true for
// a slot; only StoreCap can.
type Memory struct {
	bytes   [MemorySize]byte
	capTags [numCapSlots / 8]byte
}

func (m *Memory) getCapTag(slot int) bool {
	return m.capTags[slot/8]&(1<<(uint(slot)%8)) != 0
}

func (m *Memory) setCapTag(slot int, valid bool) {
	if valid {
		m.capTags[slot/8] |= 1 << (uint(slot) % 8)
	} else {
		m.capTags[slot/8] &^= 1 << (uint(slot) % 8)
	}
}

// invalidateRange clears the tag bit of every CapSize-aligned slot
// overlapped by a byte-level write of size bytes starting at addr. A
// zero-size write overlaps no slot.
func (m *Memory) invalidateRange(addr Int, size int) {
	if size == 0 {
		return
	}
	lo := int(addr) / int(CapSize)
	hi := (int(addr) + size - 1) / int(CapSize)
	for i := lo; i <= hi; i++ {
		m.setCapTag(i, false)
	}
}

// checkedSpan runs the ordering and checks common to every access: validity,
// permission, bounds, then alignment. width is the access size in bytes,
// align its natural alignment. It returns the absolute byte offset of the
// access.
func checkedSpan(cap Capability, offset Int, width, align int, need func(Permissions) bool) (int, RuntimeError) {
	if !cap.Valid {
		return 0, &InvalidCapability{Cap: cap}
	}
	if !need(cap.Perms()) {
		return 0, &InsufficientPermissions{Cap: cap}
	}

	addr := int32(cap.Ptr) + int32(offset)
	end := addr + int32(width)

	if addr < int32(cap.Start) || end > int32(cap.End) || end > MemorySize || addr < 0 {
		return 0, &OutOfBoundsAccess{Cap: cap}
	}

	if addr%int32(align) != 0 {
		return 0, &UnalignedAccess{Addr: Int(addr), Align: Int(align)}
	}

	return int(addr), nil
}

// LoadInt loads one Int through cap at offset. Requires read permission.
func (m *Memory) LoadInt(cap Capability, offset Int) (Int, RuntimeError) {
	a, err := checkedSpan(cap, offset, 2, 2, func(p Permissions) bool { return p.Read })
	if err != nil {
		return 0, err
	}
	return Int(uint16(m.bytes[a]) | uint16(m.bytes[a+1])<<8), nil
}

// Fetch loads one Instruction-sized word through cap at offset, encoded as
// the fixed InstructionStride-byte instruction form produced by
// EncodeInstruction. Requires execute permission.
func (m *Memory) Fetch(cap Capability, offset Int) (Instruction, RuntimeError) {
	width := int(InstructionStride)
	a, err := checkedSpan(cap, offset, width, 4, func(p Permissions) bool { return p.Execute })
	if err != nil {
		return Instruction{}, err
	}
	return DecodeInstruction(m.bytes[a : a+width]), nil
}

// StoreInt stores one Int through cap at offset. Requires write permission
// and invalidates every capability tag overlapping the written span.
func (m *Memory) StoreInt(cap Capability, offset Int, value Int) RuntimeError {
	a, err := checkedSpan(cap, offset, 2, 2, func(p Permissions) bool { return p.Write })
	if err != nil {
		return err
	}
	m.invalidateRange(Int(a), 2)
	m.bytes[a] = byte(uint16(value))
	m.bytes[a+1] = byte(uint16(value) >> 8)
	return nil
}

// StoreSlice stores n Ints through cap starting at offset. Requires write
// permission and invalidates every capability tag overlapping the written
// span.
func (m *Memory) StoreSlice(cap Capability, offset Int, data []Int) RuntimeError {
	width := len(data) * 2
	a, err := checkedSpan(cap, offset, width, 2, func(p Permissions) bool { return p.Write })
	if err != nil {
		return err
	}
	m.invalidateRange(Int(a), width)
	for i, v := range data {
		m.bytes[a+2*i] = byte(uint16(v))
		m.bytes[a+2*i+1] = byte(uint16(v) >> 8)
	}
	return nil
}

// StoreInstructions stores a resolved instruction stream at offset,
// encoding each instruction with EncodeInstruction. Requires write
// permission; invalidates every capability tag overlapping the written
// span, the same as any other byte-level write.
func (m *Memory) StoreInstructions(cap Capability, offset Int, program []Instruction) RuntimeError {
	width := len(program) * int(InstructionStride)
	a, err := checkedSpan(cap, offset, width, 4, func(p Permissions) bool { return p.Write })
	if err != nil {
		return err
	}
	m.invalidateRange(Int(a), width)
	stride := int(InstructionStride)
	for i, instr := range program {
		EncodeInstruction(instr, m.bytes[a+i*stride:a+(i+1)*stride])
	}
	return nil
}

// LoadCap loads one capability through cap at offset. The returned
// capability's Valid bit reflects the tag bitmap, not any bit pattern
// stored in the byte view. Requires read permission.
func (m *Memory) LoadCap(cap Capability, offset Int) (Capability, RuntimeError) {
	a, err := checkedSpan(cap, offset, 8, 4, func(p Permissions) bool { return p.Read })
	if err != nil {
		return Capability{}, err
	}
	inner := decodeCapInner(m.bytes[a : a+8])
	slot := a / int(CapSize)
	inner.Valid = m.getCapTag(slot)
	return inner, nil
}

// StoreCap stores one capability through cap at offset. Requires write
// permission. Invalidation happens first (as for any byte-level write),
// then exactly the tag bit at this slot is set to data.Valid — so a
// successful StoreCap of a valid capability ends with exactly one valid
// tag, at its own slot.
func (m *Memory) StoreCap(cap Capability, offset Int, data Capability) RuntimeError {
	a, err := checkedSpan(cap, offset, 8, 4, func(p Permissions) bool { return p.Write })
	if err != nil {
		return err
	}
	m.invalidateRange(Int(a), 8)
	slot := a / int(CapSize)
	m.setCapTag(slot, data.Valid)
	encodeCapInner(data, m.bytes[a:a+8])
	return nil
}

func decodeCapInner(b []byte) Capability {
	ptr := Int(uint16(b[0]) | uint16(b[1])<<8)
	start := Int(uint16(b[2]) | uint16(b[3])<<8)
	end := Int(uint16(b[4]) | uint16(b[5])<<8)
	meta := Int(uint16(b[6]) | uint16(b[7])<<8)
	return Capability{Ptr: ptr, Start: start, End: end, meta: meta}
}

func encodeCapInner(c Capability, b []byte) {
	putInt(b[0:2], c.Ptr)
	putInt(b[2:4], c.Start)
	putInt(b[4:6], c.End)
	putInt(b[6:8], c.meta)
}

func putInt(b []byte, v Int) {
	b[0] = byte(uint16(v))
	b[1] = byte(uint16(v) >> 8)
}
