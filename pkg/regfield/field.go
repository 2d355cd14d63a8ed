package regfield

import (
	"fmt"
)

// MaxOffset is the largest register byte offset a Field can address
// relative to the base of its register block.
const MaxOffset = 0xFFFF

// Field describes a bitfield inside one 32-bit register of a register block.
// It is immutable once constructed.
type Field struct {
	// Offset is the register byte offset relative to the block base
	Offset uint16
	// Pos is the position of the field's LSB within the register
	Pos uint8
	// Mask is the right-aligned mask of the field (width ones)
	Mask uint32
}

// NewField returns the field of the given width starting at bit pos of the
// register at byte offset off.
func NewField(off uint32, pos, width uint8) (Field, error) {
	if off > MaxOffset {
		return Field{}, fmt.Errorf("register offset 0x%x out of range", off)
	}
	if off%4 != 0 {
		return Field{}, fmt.Errorf("register offset 0x%x is not 32-bit aligned", off)
	}
	if width == 0 || width > 32 {
		return Field{}, fmt.Errorf("invalid field width %d", width)
	}
	if uint32(pos)+uint32(width) > 32 {
		return Field{}, fmt.Errorf("field [%d+%d] crosses the register boundary", pos, width)
	}
	return Field{Offset: uint16(off), Pos: pos, Mask: WidthMask(width)}, nil
}

// MustField is NewField for static layout tables; it panics on error.
func MustField(off uint32, pos, width uint8) Field {
	f, err := NewField(off, pos, width)
	if err != nil {
		panic(err)
	}
	return f
}

// Bit returns the single-bit field at pos of the register at byte offset off.
func Bit(off uint32, pos uint8) Field {
	return MustField(off, pos, 1)
}

// WidthMask returns a right-aligned mask of width ones.
func WidthMask(width uint8) uint32 {
	if width >= 32 {
		return 0xFFFFFFFF
	}
	return (uint32(1) << width) - 1
}

// Width returns the number of bits covered by the field.
func (f Field) Width() uint8 {
	var w uint8
	for m := f.Mask; m != 0; m >>= 1 {
		w++
	}
	return w
}

// InPlaceMask returns the mask of the field at its position in the register.
func (f Field) InPlaceMask() uint32 {
	return f.Mask << f.Pos
}

// Fits reports whether v can be written to the field without truncation.
func (f Field) Fits(v uint32) bool {
	return v&^f.Mask == 0
}

// IsZero reports whether f is the zero Field, used as "absent" in layouts.
func (f Field) IsZero() bool {
	return f.Mask == 0
}

func (f Field) String() string {
	if f.Width() == 1 {
		return fmt.Sprintf("0x%02x[%d]", f.Offset, f.Pos)
	}
	return fmt.Sprintf("0x%02x[%d:%d]", f.Offset, int(f.Pos)+int(f.Width())-1, f.Pos)
}
