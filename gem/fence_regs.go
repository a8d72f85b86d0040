package gem

import (
	"math/bits"

	"github.com/vkngwrapper/gem/gem/driver"
)

// Fence register banks
const (
	gen6FenceBase    = 0x100000
	gen4FenceBase    = 0x3000
	gen3FenceBase    = 0x2000
	gen3Fence945Base = 0x3000
	gen2FenceBase    = 0x2000
)

const (
	fenceValid = 1

	gen4FencePitchShift = 2
	gen6FencePitchShift = 32
	gen4FenceTilingY    = 1 << 1

	gen2FencePitchShift = 4
	gen2FenceSizeShift  = 8
	gen2FenceTilingY    = 1 << 12
)

// fenceRegisterOffset is the MMIO offset of a slot. Gen4 and gen5 share a layout; gen3 parts with
// sixteen fences keep the upper eight in a second bank.
func (d *Device) fenceRegisterOffset(slot int) uint32 {
	switch {
	case d.generation >= 6:
		return gen6FenceBase + uint32(slot)*8
	case d.generation >= 4:
		return gen4FenceBase + uint32(slot)*8
	case d.generation == 3 && slot >= 8:
		return gen3Fence945Base + uint32(slot-8)*4
	case d.generation == 3:
		return gen3FenceBase + uint32(slot)*4
	default:
		return gen2FenceBase + uint32(slot)*4
	}
}

func (d *Device) clearedFence(slot int) driver.FenceValue {
	return driver.FenceValue{Register: d.fenceRegisterOffset(slot)}
}

func (d *Device) encodeFence(slot int, o *Object) driver.FenceValue {
	value := driver.FenceValue{Register: d.fenceRegisterOffset(slot)}

	switch {
	case d.generation >= 6:
		value.Value = encodeGen4Fence(o, gen6FencePitchShift)
	case d.generation >= 4:
		value.Value = encodeGen4Fence(o, gen4FencePitchShift)
	case d.generation == 3:
		value.Value = encodeGen3Fence(o)
	default:
		value.Value = encodeGen2Fence(o)
	}

	return value
}

// encodeGen4Fence packs the start and last page of the range into the low and high dwords. The
// pitch is in 128 byte units, biased by one.
func encodeGen4Fence(o *Object, pitchShift int) uint64 {
	start := uint64(o.offset)
	end := uint64(o.offset + o.boundSize)

	value := ((end - 4096) & 0xfffff000) << 32
	value |= start & 0xfffff000
	value |= uint64(o.stride/128-1) << pitchShift
	if o.tiling == TilingY {
		value |= gen4FenceTilingY
	}
	return value | fenceValid
}

func encodeGen3Fence(o *Object) uint64 {
	tileWidth := 512
	if o.tiling == TilingY {
		tileWidth = 128
	}

	value := uint64(o.offset)
	if o.tiling == TilingY {
		value |= gen2FenceTilingY
	}
	value |= uint64(bits.TrailingZeros(uint(o.boundSize>>20))) << gen2FenceSizeShift
	value |= uint64(bits.TrailingZeros(uint(o.stride/tileWidth))) << gen2FencePitchShift
	return value | fenceValid
}

func encodeGen2Fence(o *Object) uint64 {
	value := uint64(o.offset)
	if o.tiling == TilingY {
		value |= gen2FenceTilingY
	}
	value |= uint64(bits.TrailingZeros(uint(o.boundSize>>19))) << gen2FenceSizeShift
	value |= uint64(bits.TrailingZeros(uint(o.stride/128))) << gen2FencePitchShift
	return value | fenceValid
}
