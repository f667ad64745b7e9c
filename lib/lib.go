/*package lib contains the small pieces of infrastructure shared by the vlsv
subpackages: element type tags, byte order detection, and the functions that
move typed arrays to and from raw bytes. Almost all of the heavy lifting is done
by lib/'s subpackages.
*/
package lib

import (
	"encoding/binary"
	"fmt"
	"io"

	"unsafe"
)

// Kind is the element datatype stored in a VLSV array. Its string form is
// the value of the "datatype" footer attribute.
type Kind int

const (
	Unknown Kind = iota
	Int
	Uint
	Float
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Uint:
		return "uint"
	case Float:
		return "float"
	}
	return "unknown"
}

// ParseKind converts a "datatype" attribute into a Kind. ok is false for
// strings which aren't one of "int", "uint", "float", or "unknown".
func ParseKind(s string) (k Kind, ok bool) {
	switch s {
	case "unknown":
		return Unknown, true
	case "int":
		return Int, true
	case "uint":
		return Uint, true
	case "float":
		return Float, true
	}
	return Unknown, false
}

// ElementType returns the Kind and byte width of the elements of a typed
// buffer along with the number of primitive values it holds. [3]-vector
// buffers report the count of scalars, not vectors. ok is false if the buffer
// type isn't supported.
func ElementType(buf interface{}) (kind Kind, size, n int, ok bool) {
	switch x := buf.(type) {
	case []int32:
		return Int, 4, len(x), true
	case []int64:
		return Int, 8, len(x), true
	case []uint32:
		return Uint, 4, len(x), true
	case []uint64:
		return Uint, 8, len(x), true
	case []float32:
		return Float, 4, len(x), true
	case []float64:
		return Float, 8, len(x), true
	case [][3]float32:
		return Float, 4, 3 * len(x), true
	case [][3]float64:
		return Float, 8, 3 * len(x), true
	}
	return Unknown, 0, 0, false
}

// WriteAsBytes writes a typed buffer to f using the given byte order.
func WriteAsBytes(f io.Writer, order binary.ByteOrder, buf interface{}) error {
	switch x := buf.(type) {
	case []int32, []int64, []uint32, []uint64, []float32, []float64:
		return binary.Write(f, order, x)
	case [][3]float32:
		// Go uses the reflect package to write non-primitive data through
		// the binary package. This is slow and makes tons of heap allocations.
		// So you need to be sneaky and "cast" to a primitive array.
		if len(x) == 0 {
			return nil
		}
		return binary.Write(f, order, unsafe.Slice(&x[0][0], 3*len(x)))
	case [][3]float64:
		if len(x) == 0 {
			return nil
		}
		return binary.Write(f, order, unsafe.Slice(&x[0][0], 3*len(x)))
	}

	return fmt.Errorf("Internal error: unrecognized buffer type %T.", buf)
}

// ReadAsBytes fills a typed buffer from f using the given byte order.
func ReadAsBytes(f io.Reader, order binary.ByteOrder, buf interface{}) error {
	switch x := buf.(type) {
	case []int32, []int64, []uint32, []uint64, []float32, []float64:
		return binary.Read(f, order, x)
	case [][3]float32:
		if len(x) == 0 {
			return nil
		}
		return binary.Read(f, order, unsafe.Slice(&x[0][0], 3*len(x)))
	case [][3]float64:
		if len(x) == 0 {
			return nil
		}
		return binary.Read(f, order, unsafe.Slice(&x[0][0], 3*len(x)))
	}

	return fmt.Errorf("Internal error: unrecognized buffer type %T.", buf)
}

// SystemByteOrder returns the byte order of the machine running the code.
func SystemByteOrder() binary.ByteOrder {
	// See https://stackoverflow.com/questions/51332658/any-better-way-to-check-endianness-in-go/51332762
	b := [2]byte{}
	*(*uint16)(unsafe.Pointer(&b[0])) = uint16(0x0001)
	if b[0] == 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// EndiannessMarker returns the single byte stored at the start of a VLSV
// file written with the given byte order.
func EndiannessMarker(order binary.ByteOrder) byte {
	if order == binary.ByteOrder(binary.BigEndian) {
		return 1
	}
	return 0
}

// MarkerByteOrder is the inverse of EndiannessMarker.
func MarkerByteOrder(marker byte) (binary.ByteOrder, error) {
	switch marker {
	case 0:
		return binary.LittleEndian, nil
	case 1:
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("The endianness marker %d is neither 0 "+
		"(little-endian) nor 1 (big-endian).", marker)
}
