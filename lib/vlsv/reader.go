/*package vlsv reads and writes VLSV files: a 16-byte header, a region of
densely packed array payloads, and an XML footer describing every array.

   byte 0        endianness marker (0 = little-endian, 1 = big-endian)
   bytes 8-15    footer offset, in the file's byte order
   bytes 16-...  array payloads
   footer        <VLSV> ... </VLSV>, see package footer

Reader is the sequential, single-process reader. ParReader lets a group of
processes read the same file: one master process resolves footer queries and
broadcasts the answers, and the array payloads are read collectively, either one
contiguous range at a time or as a batch of many ranges. Writer is the
collective writer.
*/
package vlsv

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bitmark-inc/logger"

	"github.com/phil-mansfield/vlsv/lib"
	"github.com/phil-mansfield/vlsv/lib/footer"
)

const (
	// HeaderSize is the size of the fixed header and the offset of the first
	// array payload.
	HeaderSize = 16
	// footerOffsetPos is the position of the footer offset in the header.
	footerOffsetPos = 8
)

// ArrayInfo is the metadata of a single array, taken from its footer tag.
type ArrayInfo struct {
	TagName string
	// Offset is the byte offset of the array's payload.
	Offset uint64
	// ArraySize is the number of elements, VectorSize is the number of
	// primitive values in each element, and DataSize is the byte width of
	// each primitive value.
	ArraySize, VectorSize, DataSize uint64
	DataType                        lib.Kind
}

// Stride returns the number of bytes used by each array element.
func (info ArrayInfo) Stride() uint64 {
	return info.VectorSize * info.DataSize
}

// Reader reads a VLSV file from a single process.
type Reader struct {
	fileName   string
	f          *os.File
	order      binary.ByteOrder
	endianness byte
	root       *footer.Node
	fileOpen   bool
	arrayOpen  ArrayInfo
	log        *logger.L
}

// Open opens a VLSV file and reads its footer.
func (r *Reader) Open(fname string) error {
	if r.log == nil {
		r.log = logger.New("vlsv")
	}
	if r.fileOpen {
		r.Close()
	}

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotOpen, err.Error())
	}

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s is too short to be a VLSV file: %s",
			ErrNotOpen, fname, err.Error())
	}

	order, err := lib.MarkerByteOrder(header[0])
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %s", ErrNotOpen, fname, err.Error())
	}
	footerOffset := order.Uint64(header[footerOffsetPos:])

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %s", ErrNotOpen, err.Error())
	}
	if footerOffset < HeaderSize || footerOffset > uint64(info.Size()) {
		f.Close()
		return fmt.Errorf("%w: the footer offset of %s, %d, is outside the "+
			"file, which has %d bytes", ErrNotOpen, fname, footerOffset,
			info.Size())
	}

	sec := io.NewSectionReader(f, int64(footerOffset),
		info.Size()-int64(footerOffset))
	root, err := footer.Parse(sec)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %s", ErrNotOpen, fname, err.Error())
	}

	r.fileName, r.f, r.order, r.endianness = fname, f, order, header[0]
	r.root, r.fileOpen = root, true
	r.log.Debugf("opened %s: footer at byte %d, %d top-level tags",
		fname, footerOffset, len(root.Children))
	return nil
}

// Close closes the file and drops the footer tree.
func (r *Reader) Close() error {
	if !r.fileOpen {
		return nil
	}
	r.fileOpen = false
	r.root = nil
	return r.f.Close()
}

// Order returns the byte order of the open file.
func (r *Reader) Order() binary.ByteOrder { return r.order }

// FileName returns the name of the open file.
func (r *Reader) FileName() string { return r.fileName }

// ArrayAttributes returns all the attributes of the first tag with the given
// name that satisfies the constraints.
func (r *Reader) ArrayAttributes(
	tagName string, attribs []footer.Attr,
) (map[string]string, error) {
	if !r.fileOpen {
		return nil, ErrNotOpen
	}
	node := r.root.Find(tagName, attribs)
	if node == nil {
		return nil, notFound(tagName, attribs)
	}
	return node.AttrMap(), nil
}

// ArrayInfo returns the size and type of an array without touching the array
// itself. Unlike LoadArray, zero-sized arrays are allowed.
func (r *Reader) ArrayInfo(
	tagName string, attribs []footer.Attr,
) (ArrayInfo, error) {
	if !r.fileOpen {
		return ArrayInfo{}, ErrNotOpen
	}
	node := r.root.Find(tagName, attribs)
	if node == nil {
		return ArrayInfo{}, notFound(tagName, attribs)
	}
	return parseArrayInfo(tagName, node)
}

// UniqueAttributeValues returns the sorted set of values the attribute attr
// takes across all top-level tags named tagName. It can be used to find the
// names of all the variables in a file, for example.
func (r *Reader) UniqueAttributeValues(tagName, attr string) ([]string, error) {
	if !r.fileOpen {
		return nil, ErrNotOpen
	}
	return r.root.UniqueValues(tagName, attr), nil
}

// LoadArray looks up an array's metadata and makes it the current array.
// Arrays with a zero size, vector size, or data size are rejected.
func (r *Reader) LoadArray(
	tagName string, attribs []footer.Attr,
) (ArrayInfo, error) {
	info, err := r.ArrayInfo(tagName, attribs)
	if err != nil {
		return info, err
	}
	if info.ArraySize == 0 || info.VectorSize == 0 || info.DataSize == 0 {
		return info, fmt.Errorf("%w: tag %s has arraysize=%d, vectorsize=%d, "+
			"datasize=%d", ErrMalformed, tagName, info.ArraySize,
			info.VectorSize, info.DataSize)
	}
	r.arrayOpen = info
	return info, nil
}

// ReadArray copies amount elements of an array, starting at element begin,
// into buf. buf must hold at least amount*Stride() bytes.
func (r *Reader) ReadArray(
	tagName string, attribs []footer.Attr, begin, amount uint64, buf []byte,
) error {
	if !r.fileOpen {
		return fmt.Errorf("%w: ReadArray called on %s", ErrNotOpen,
			tagName)
	}
	if amount == 0 {
		return nil
	}

	info, err := r.LoadArray(tagName, attribs)
	if err != nil {
		if r.log != nil {
			r.log.Warnf("ReadArray: %s", err.Error())
		}
		return err
	}

	if !inRange(begin, amount, info.ArraySize) {
		return fmt.Errorf("%w: begin=%d, amount=%d, but %s only has %d "+
			"elements", ErrRange, begin, amount, tagName, info.ArraySize)
	}
	start := info.Offset + begin*info.Stride()
	n := amount * info.Stride()
	if uint64(len(buf)) < n {
		return fmt.Errorf("%w: reading %d bytes of %s into a %d-byte buffer",
			ErrRange, n, tagName, len(buf))
	}

	got, err := r.f.ReadAt(buf[:n], int64(start))
	if uint64(got) != n {
		return fmt.Errorf("%w: read %d of %d bytes of %s from %s: %v",
			ErrShortRead, got, n, tagName, r.fileName, err)
	}
	return nil
}

// inRange reports whether elements [begin, begin+amount) lie inside an array
// of size elements.
func inRange(begin, amount, size uint64) bool {
	return amount <= size && begin <= size-amount
}

func notFound(tagName string, attribs []footer.Attr) error {
	return fmt.Errorf("%w: tag=%s attributes=%v", ErrNotFound, tagName, attribs)
}

// Array is one entry of the footer: its metadata plus every attribute it
// carries.
type Array struct {
	ArrayInfo
	Attributes map[string]string
}

// Arrays lists every array in the file, in footer order.
func (r *Reader) Arrays() ([]Array, error) {
	if !r.fileOpen {
		return nil, ErrNotOpen
	}
	out := make([]Array, 0, len(r.root.Children))
	for _, node := range r.root.Children {
		info, err := parseArrayInfo(node.Name, node)
		if err != nil {
			return nil, err
		}
		out = append(out, Array{info, node.AttrMap()})
	}
	return out, nil
}

// parseArrayInfo pulls array metadata out of a footer tag.
func parseArrayInfo(tagName string, node *footer.Node) (ArrayInfo, error) {
	info := ArrayInfo{TagName: tagName}

	var err error
	if info.Offset, err = strconv.ParseUint(node.Value, 10, 64); err != nil {
		return info, fmt.Errorf("%w: tag %s has the offset '%s'",
			ErrMalformed, tagName, node.Value)
	}

	fields := []struct {
		name string
		dst  *uint64
	}{
		{"arraysize", &info.ArraySize},
		{"vectorsize", &info.VectorSize},
		{"datasize", &info.DataSize},
	}
	for _, field := range fields {
		s, ok := node.Attr(field.name)
		if !ok {
			return info, fmt.Errorf("%w: tag %s has no '%s' attribute",
				ErrMalformed, tagName, field.name)
		}
		if *field.dst, err = strconv.ParseUint(s, 10, 64); err != nil {
			return info, fmt.Errorf("%w: tag %s has %s='%s'",
				ErrMalformed, tagName, field.name, s)
		}
	}

	s, _ := node.Attr("datatype")
	kind, ok := lib.ParseKind(s)
	if !ok {
		return info, fmt.Errorf("%w: unknown datatype '%s' in tag %s",
			ErrMalformed, s, tagName)
	}
	info.DataType = kind

	return info, nil
}
