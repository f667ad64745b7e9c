package vlsv

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bitmark-inc/logger"

	"github.com/phil-mansfield/vlsv/lib"
	verr "github.com/phil-mansfield/vlsv/lib/error"
	"github.com/phil-mansfield/vlsv/lib/footer"
	"github.com/phil-mansfield/vlsv/lib/mpi"
)

const (
	// MaxStringLength is the size of the buffers used to broadcast attribute
	// names and values. Longer strings are truncated to MaxStringLength-1
	// bytes.
	MaxStringLength = 512
)

// ParReader reads a VLSV file from every process in a group. Only the master
// process parses the footer; every query is resolved there and broadcast.
//
// Every exported method except ArrayInfoMaster and ReadArrayMaster is
// collective and must be called by every process in the group, in the same
// order.
type ParReader struct {
	seq        Reader // only opened on the master process
	comm       *mpi.Comm
	master     int
	file       *mpi.File
	fileOpen   bool
	order      binary.ByteOrder
	endianness byte
	arrayOpen  ArrayInfo

	batch batch

	log *logger.L
}

// OpenParallel opens a VLSV file on every process in comm. master is the
// rank of the process that reads the footer. Every process must call it with
// the same arguments.
func OpenParallel(fname string, comm *mpi.Comm, master int) (*ParReader, error) {
	if master < 0 || master >= comm.Size() {
		return nil, fmt.Errorf("%w: master rank %d is not in a group of %d",
			ErrNotOpen, master, comm.Size())
	}

	p := &ParReader{comm: comm, master: master, log: logger.New("vlsv")}

	f, err := mpi.OpenFile(comm, fname)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, err.Error())
	}

	var status error
	if p.isMaster() {
		status = p.seq.Open(fname)
	}
	if err := p.bcastStatus(status); err != nil {
		f.Close()
		return nil, err
	}

	marker := []byte{p.seq.endianness}
	comm.BcastBytes(marker, master)
	order, err := lib.MarkerByteOrder(marker[0])
	if err != nil {
		// The master already validated this, so it's unreachable.
		verr.Internal("Master process accepted endianness marker %d.",
			marker[0])
		return nil, err
	}

	p.file, p.fileOpen = f, true
	p.order, p.endianness = order, marker[0]
	if p.isMaster() {
		p.log.Infof("opened %s on %d processes", fname, comm.Size())
	}
	return p, nil
}

func (p *ParReader) isMaster() bool { return p.comm.Rank() == p.master }

// Order returns the byte order of the open file.
func (p *ParReader) Order() binary.ByteOrder { return p.order }

// Comm returns the communicator the file was opened with.
func (p *ParReader) Comm() *mpi.Comm { return p.comm }

// Master returns the rank of the process that reads the footer.
func (p *ParReader) Master() int { return p.master }

// Close closes the file on every process.
func (p *ParReader) Close() error {
	p.batch.clear()
	if !p.fileOpen {
		return nil
	}
	p.fileOpen = false

	err := p.file.Close()
	if p.isMaster() {
		if seqErr := p.seq.Close(); err == nil {
			err = seqErr
		}
	}
	return err
}

// bcastStatus broadcasts the master's result as a single byte before anyone
// looks at the data that follows. Every process returns an error of the same
// kind if the master failed.
func (p *ParReader) bcastStatus(err error) error {
	code := []byte{0}
	if p.isMaster() {
		code[0] = statusCode(err)
		if err != nil {
			p.log.Warnf("master query failed: %s", err.Error())
		}
	}
	p.comm.BcastBytes(code, p.master)

	if code[0] == 0 {
		return nil
	} else if p.isMaster() {
		return err
	}
	return statusError(code[0], p.master)
}

// bcastStrings sends the master's strings to every process. Each string goes
// out in a fixed-size, NUL-terminated buffer, so strings longer than
// MaxStringLength-1 bytes are truncated on every process, including the
// master.
func (p *ParReader) bcastStrings(strs []string) []string {
	n := []uint64{uint64(len(strs))}
	p.comm.BcastUint64s(n, p.master)

	out := make([]string, n[0])
	buf := make([]byte, MaxStringLength)
	for i := range out {
		if p.isMaster() {
			putString(buf, strs[i])
		}
		p.comm.BcastBytes(buf, p.master)
		out[i] = getString(buf)
	}
	return out
}

func putString(buf []byte, s string) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf[:len(buf)-1], s)
}

func getString(buf []byte) string {
	for i := range buf {
		if buf[i] == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// ArrayAttributes returns the attributes of the first tag matching the query
// on every process.
func (p *ParReader) ArrayAttributes(
	tagName string, attribs []footer.Attr,
) (map[string]string, error) {
	var attrs map[string]string
	var err error
	if p.isMaster() {
		attrs, err = p.seq.ArrayAttributes(tagName, attribs)
	}
	if err := p.bcastStatus(err); err != nil {
		return nil, err
	}

	// Names and values alternate.
	var flat []string
	if p.isMaster() {
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flat = append(flat, k, attrs[k])
		}
	}
	flat = p.bcastStrings(flat)

	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out, nil
}

// ArrayInfo looks up an array's metadata on the master process and broadcasts
// it. The array becomes the current array on every process. Arrays with a
// zero size, vector size, or data size are rejected.
func (p *ParReader) ArrayInfo(
	tagName string, attribs []footer.Attr,
) (ArrayInfo, error) {
	var info ArrayInfo
	var err error
	if p.isMaster() {
		info, err = p.seq.LoadArray(tagName, attribs)
	}
	if err := p.bcastStatus(err); err != nil {
		return ArrayInfo{}, err
	}

	fields := []uint64{
		info.Offset, info.ArraySize, info.VectorSize,
		uint64(info.DataType), info.DataSize,
	}
	p.comm.BcastUint64s(fields, p.master)

	p.arrayOpen = ArrayInfo{
		TagName:    tagName,
		Offset:     fields[0],
		ArraySize:  fields[1],
		VectorSize: fields[2],
		DataType:   lib.Kind(fields[3]),
		DataSize:   fields[4],
	}
	return p.arrayOpen, nil
}

// ArrayInfoMaster looks up an array's metadata without telling the other
// processes. Calling it from any process other than the master kills the
// program.
func (p *ParReader) ArrayInfoMaster(
	tagName string, attribs []footer.Attr,
) (ArrayInfo, error) {
	if !p.isMaster() {
		verr.Internal("ArrayInfoMaster called on process %d, but the master "+
			"is process %d.", p.comm.Rank(), p.master)
		return ArrayInfo{}, ErrNotOpen
	}
	return p.seq.ArrayInfo(tagName, attribs)
}

// UniqueAttributeValues returns, on every process, the sorted set of values
// that attr takes across all tags named tagName.
func (p *ParReader) UniqueAttributeValues(
	tagName, attr string,
) ([]string, error) {
	var vals []string
	var err error
	if p.isMaster() {
		vals, err = p.seq.UniqueAttributeValues(tagName, attr)
	}
	if err := p.bcastStatus(err); err != nil {
		return nil, err
	}
	return p.bcastStrings(vals), nil
}

// ReadArray collectively reads amount elements of an array, starting at
// element begin, into buf. Each process passes its own begin, amount, and buf.
// The returned error describes this process's read.
func (p *ParReader) ReadArray(
	tagName string, attribs []footer.Attr, begin, amount uint64, buf []byte,
) error {
	if !p.fileOpen {
		return fmt.Errorf("%w: ReadArray called on %s", ErrNotOpen, tagName)
	}

	info, err := p.ArrayInfo(tagName, attribs)
	if err != nil {
		return err
	}

	stride := info.Stride()
	n := amount * stride

	// A process with a bad request still has to take part in the read.
	var localErr error
	typ := mpi.Struct{}
	off := info.Offset
	if !inRange(begin, amount, info.ArraySize) {
		localErr = fmt.Errorf("%w: begin=%d, amount=%d, but %s only has %d "+
			"elements", ErrRange, begin, amount, tagName, info.ArraySize)
	} else if uint64(len(buf)) < n {
		localErr = fmt.Errorf("%w: reading %d bytes of %s into a %d-byte "+
			"buffer", ErrRange, n, tagName, len(buf))
	} else if amount > 0 {
		typ = mpi.Struct{{Buf: buf, Count: int(amount), Width: int(stride)}}
		off += begin * stride
	}

	err = p.file.ReadAtAll(int64(off), typ)
	if localErr != nil {
		return localErr
	} else if err != nil {
		return fmt.Errorf("%w: %s", ErrShortRead, err.Error())
	}
	return nil
}

// ReadArrayMaster reads part of an array on the master process only, using
// the sequential reader. Calling it from any other process kills the program.
func (p *ParReader) ReadArrayMaster(
	tagName string, attribs []footer.Attr, begin, amount uint64, buf []byte,
) error {
	if !p.isMaster() {
		verr.Internal("ReadArrayMaster called on process %d, but the master "+
			"is process %d.", p.comm.Rank(), p.master)
		return ErrNotOpen
	}
	return p.seq.ReadArray(tagName, attribs, begin, amount, buf)
}
