package razdebug

import (
	"encoding/binary"
	"unsafe"
)

// SizeofPtr contains the size of a pointer of the current architecture.
// It is also the unit the kernel's peek/poke primitives transfer.
const (
	SizeofPtr = unsafe.Sizeof(uintptr(0))
)

// ByteOrder is initialized with the byte order of the current architecture
var ByteOrder binary.ByteOrder

// ReadWord reads a machine word from a byte slice
func ReadWord(data []byte) uint64 {
	if len(data) < int(SizeofPtr) {
		return 0
	}

	if SizeofPtr == 4 {
		return uint64(ByteOrder.Uint32(data))
	}

	return ByteOrder.Uint64(data)
}

// PutWord writes a machine word to a byte slice
func PutWord(data []byte, word uint64) {
	if len(data) < int(SizeofPtr) {
		return
	}

	if SizeofPtr == 4 {
		ByteOrder.PutUint32(data, uint32(word))
		return
	}

	ByteOrder.PutUint64(data, word)
}

func init() {
	ByteOrder = getByteOrder()
}

func getByteOrder() binary.ByteOrder {
	buf := [2]byte{}
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xABCD)

	switch buf {
	case [2]byte{0xCD, 0xAB}:
		return binary.LittleEndian
	case [2]byte{0xAB, 0xCD}:
		return binary.BigEndian
	default:
		panic("Could not determine native endianness.")
	}
}
