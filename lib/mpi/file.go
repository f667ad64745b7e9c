package mpi

import (
	"fmt"
	"os"
)

// Block is one piece of a Struct: Count elements of Width bytes each, stored
// contiguously at the start of Buf.
type Block struct {
	Buf   []byte
	Count int
	Width int
}

// Struct describes where a contiguous run of file bytes goes in memory. The
// first Blocks[0].Count*Blocks[0].Width bytes go to Blocks[0].Buf, the next
// ones go to Blocks[1].Buf, and so on. It plays the role of an
// MPI_Type_create_struct datatype read from MPI_BOTTOM.
type Struct []Block

// Size returns the number of bytes described by the Struct.
func (s Struct) Size() int64 {
	n := int64(0)
	for i := range s {
		n += int64(s[i].Count) * int64(s[i].Width)
	}
	return n
}

// validate checks that the Struct is well formed. Empty blocks are fine, but
// they still need a real element width.
func (s Struct) validate() error {
	for i := range s {
		b := &s[i]
		if b.Width <= 0 {
			return fmt.Errorf("Block %d of the read descriptor has an element "+
				"width of %d bytes.", i, b.Width)
		} else if b.Count < 0 {
			return fmt.Errorf("Block %d of the read descriptor has a negative "+
				"element count, %d.", i, b.Count)
		} else if len(b.Buf) < b.Count*b.Width {
			return fmt.Errorf("Block %d of the read descriptor needs %d bytes, "+
				"but its buffer only has %d.", i, b.Count*b.Width, len(b.Buf))
		}
	}
	return nil
}

// File is a file opened collectively by every process in a group. Each
// process holds its own descriptor.
type File struct {
	comm *Comm
	name string
	f    *os.File
}

// OpenFile opens an existing file for reading on every process in the group.
// It is collective: if any process fails to open the file, every process gets
// an error and no descriptors are left open.
func OpenFile(comm *Comm, name string) (*File, error) {
	return openAll(comm, name, func() (*os.File, error) {
		return os.Open(name)
	})
}

// CreateFile creates (or truncates) a file on the root process and then opens
// it for writing on every process in the group. It is collective.
func CreateFile(comm *Comm, name string, root int) (*File, error) {
	comm.checkRoot(root)

	var err error
	if comm.Rank() == root {
		var f *os.File
		f, err = os.Create(name)
		if err == nil {
			err = f.Close()
		}
	}
	if !comm.AllTrue(err == nil) {
		if err == nil {
			err = fmt.Errorf("Process %d could not create %s.", root, name)
		}
		return nil, err
	}

	return openAll(comm, name, func() (*os.File, error) {
		return os.OpenFile(name, os.O_RDWR, 0)
	})
}

func openAll(
	comm *Comm, name string, open func() (*os.File, error),
) (*File, error) {
	f, err := open()
	if !comm.AllTrue(err == nil) {
		if err == nil {
			f.Close()
			err = fmt.Errorf("Another process in the group could not open %s.",
				name)
		}
		return nil, err
	}
	return &File{comm: comm, name: name, f: f}, nil
}

// Name returns the name the file was opened with.
func (f *File) Name() string { return f.name }

// ReadAt reads len(b) bytes at off on this process only. It isn't collective.
// Fewer bytes than requested is an error.
func (f *File) ReadAt(b []byte, off int64) error {
	n, err := f.f.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("read %d of %d bytes", n, len(b))
	}
	return &ShortReadError{Name: f.name, Offset: off, Want: len(b), Got: n,
		Err: err}
}

// ReadAtAll is the collective read: every process reads typ.Size() contiguous
// bytes starting at off and scatters them into the blocks of typ. Processes
// that have nothing to read still need to call it, with an empty Struct. The
// returned error only describes this process's read.
func (f *File) ReadAtAll(off int64, typ Struct) error {
	err := typ.validate()
	if err == nil && typ.Size() > 0 {
		buf := make([]byte, typ.Size())
		err = f.ReadAt(buf, off)
		if err == nil {
			pos := 0
			for _, b := range typ {
				n := b.Count * b.Width
				copy(b.Buf[:n], buf[pos:pos+n])
				pos += n
			}
		}
	}

	f.comm.Barrier()
	return err
}

// WriteAtAll is the collective write: every process writes b at off.
// Processes that have nothing to write still need to call it with an empty
// buffer.
func (f *File) WriteAtAll(b []byte, off int64) error {
	var err error
	if len(b) > 0 {
		_, err = f.f.WriteAt(b, off)
	}
	f.comm.Barrier()
	return err
}

// Close closes the file on every process. It is collective.
func (f *File) Close() error {
	err := f.f.Close()
	f.comm.Barrier()
	return err
}

// ShortReadError is returned when the underlying read returned fewer bytes
// than requested.
type ShortReadError struct {
	Name      string
	Offset    int64
	Want, Got int
	Err       error
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("Only %d of %d bytes could be read from %s at offset "+
		"%d: %s", e.Got, e.Want, e.Name, e.Offset, e.Err.Error())
}

func (e *ShortReadError) Unwrap() error { return e.Err }
