package vlsv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/bitmark-inc/logger"

	"github.com/phil-mansfield/vlsv/lib"
	"github.com/phil-mansfield/vlsv/lib/footer"
	"github.com/phil-mansfield/vlsv/lib/mpi"
)

// Writer creates a VLSV file collectively. Each array is written by every
// process in the group: the elements contributed by rank 0 come first,
// followed by those from rank 1, and so on. Arrays are always written in the
// host's byte order.
type Writer struct {
	comm     *mpi.Comm
	master   int
	file     *mpi.File
	fileOpen bool
	order    binary.ByteOrder
	offset   uint64 // end of the payload region
	root     *footer.Node

	log *logger.L
}

// Create creates (or truncates) a VLSV file on every process in comm. It is
// collective. The master process writes the header and footer.
func Create(fname string, comm *mpi.Comm, master int) (*Writer, error) {
	if master < 0 || master >= comm.Size() {
		return nil, fmt.Errorf("%w: master rank %d is not in a group of %d",
			ErrNotOpen, master, comm.Size())
	}

	f, err := mpi.CreateFile(comm, fname, master)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, err.Error())
	}

	w := &Writer{
		comm: comm, master: master, file: f, fileOpen: true,
		order: lib.SystemByteOrder(), offset: HeaderSize,
		root: &footer.Node{Name: footer.RootTag},
		log:  logger.New("vlsv"),
	}
	return w, nil
}

func (w *Writer) isMaster() bool { return w.comm.Rank() == w.master }

// Comm returns the communicator the file was created with.
func (w *Writer) Comm() *mpi.Comm { return w.comm }

// Master returns the rank of the process that writes the header and footer.
func (w *Writer) Master() int { return w.master }

// WriteArray collectively appends an array to the file. data is one of the
// slice types accepted by lib.ElementType and holds this process's elements,
// each of which is vectorSize primitive values long. Processes with nothing
// to contribute pass an empty slice of the same type. attribs identify the
// array in the footer; arraysize, datasize, datatype, and vectorsize are
// added automatically.
func (w *Writer) WriteArray(
	tagName string, attribs []footer.Attr, vectorSize int, data interface{},
) error {
	if !w.fileOpen {
		return fmt.Errorf("%w: WriteArray called on %s", ErrNotOpen, tagName)
	}

	kind, size, n, ok := lib.ElementType(data)
	localOK := ok && vectorSize > 0 && n%vectorSize == 0
	count := 0
	if localOK {
		count = n / vectorSize
	}

	const nFields = 5
	local := []uint64{
		uint64(count), uint64(kind), uint64(size), uint64(vectorSize), 0,
	}
	if localOK {
		local[4] = 1
	}
	all := make([]uint64, nFields*w.comm.Size())
	w.comm.AllgatherUint64s(local, all)

	total, prefix := uint64(0), uint64(0)
	for i := 0; i < w.comm.Size(); i++ {
		f := all[i*nFields : (i+1)*nFields]
		if f[4] == 0 {
			return fmt.Errorf("%w: process %d passed an unsupported buffer "+
				"to %s with a vector size of %d", ErrWrite, i, tagName, f[3])
		}
		if f[1] != local[1] || f[2] != local[2] || f[3] != local[3] {
			return fmt.Errorf("%w: processes %d and %d disagree on the type "+
				"of %s", ErrWrite, w.comm.Rank(), i, tagName)
		}
		if i < w.comm.Rank() {
			prefix += f[0]
		}
		total += f[0]
	}

	stride := uint64(size) * uint64(vectorSize)

	buf := &bytes.Buffer{}
	buf.Grow(count * int(stride))
	err := lib.WriteAsBytes(buf, w.order, data)
	if err != nil {
		buf.Reset()
	}

	// Everyone has to join the write, even after a local failure.
	werr := w.file.WriteAtAll(buf.Bytes(), int64(w.offset+prefix*stride))
	if err == nil {
		err = werr
	}
	if !w.comm.AllTrue(err == nil) {
		if err == nil {
			err = fmt.Errorf("another process failed")
		}
		return fmt.Errorf("%w: %s: %s", ErrWrite, tagName, err.Error())
	}

	if w.isMaster() {
		tagAttrs := append([]footer.Attr{}, attribs...)
		tagAttrs = append(tagAttrs, footer.Attrs(
			"arraysize", strconv.FormatUint(total, 10),
			"datasize", strconv.Itoa(size),
			"datatype", kind.String(),
			"vectorsize", strconv.Itoa(vectorSize),
		)...)
		w.root.Add(tagName, tagAttrs, strconv.FormatUint(w.offset, 10))
		w.log.Debugf("wrote %s: %d elements at byte %d", tagName, total,
			w.offset)
	}

	w.offset += total * stride
	return nil
}

// Close writes the footer and header and closes the file on every process.
// It is collective.
func (w *Writer) Close() error {
	if !w.fileOpen {
		return nil
	}
	w.fileOpen = false

	var foot, header []byte
	var err error
	if w.isMaster() {
		buf := &bytes.Buffer{}
		err = w.root.Encode(buf)
		foot = buf.Bytes()

		header = make([]byte, HeaderSize)
		header[0] = lib.EndiannessMarker(w.order)
		w.order.PutUint64(header[footerOffsetPos:], w.offset)
	}

	if werr := w.file.WriteAtAll(foot, int64(w.offset)); err == nil {
		err = werr
	}
	if werr := w.file.WriteAtAll(header, 0); err == nil {
		err = werr
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}

	if !w.comm.AllTrue(err == nil) {
		if err == nil {
			err = fmt.Errorf("another process failed")
		}
		return fmt.Errorf("%w: closing %s: %s", ErrWrite, w.file.Name(),
			err.Error())
	}
	if w.isMaster() {
		w.log.Infof("closed %s: %d arrays, footer at byte %d",
			w.file.Name(), len(w.root.Children), w.offset)
	}
	return nil
}
