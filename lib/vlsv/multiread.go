package vlsv

import (
	"fmt"

	"github.com/phil-mansfield/vlsv/lib/footer"
	"github.com/phil-mansfield/vlsv/lib/mpi"
)

// batch is the state of a batched read between MultiReadStart and
// MultiReadEnd.
type batch struct {
	started bool
	info    ArrayInfo
	blocks  mpi.Struct
	total   uint64
	err     error
}

func (b *batch) clear() {
	b.started = false
	b.info = ArrayInfo{}
	b.blocks = nil
	b.total = 0
	b.err = nil
}

// MultiReadStart begins a batched read of an array. It is collective. Every
// process then queues its own units with MultiReadAddUnit and all of them are
// read at once by MultiReadEnd.
func (p *ParReader) MultiReadStart(
	tagName string, attribs []footer.Attr,
) error {
	if !p.fileOpen {
		return fmt.Errorf("%w: MultiReadStart called on %s", ErrNotOpen,
			tagName)
	}
	p.batch.clear()

	info, err := p.ArrayInfo(tagName, attribs)
	if err != nil {
		return err
	}

	p.batch.started = true
	p.batch.info = info
	return nil
}

// MultiReadAddUnit queues count elements to be read into buf. Units are read
// from consecutive elements of the array in the order they were added, so
// the first unit starts at the element offset passed to MultiReadEnd. A unit
// with count == 0 is allowed and reads nothing. It is not collective.
func (p *ParReader) MultiReadAddUnit(count uint64, buf []byte) error {
	if !p.batch.started {
		return ErrNoBatch
	}

	info := &p.batch.info
	stride := info.Stride()
	if count > info.ArraySize-p.batch.total {
		err := fmt.Errorf("%w: a unit of %d elements after %d queued "+
			"elements doesn't fit in %s, which has %d", ErrRange, count,
			p.batch.total, info.TagName, info.ArraySize)
		if p.batch.err == nil {
			p.batch.err = err
		}
		return err
	}
	if uint64(len(buf)) < count*stride {
		err := fmt.Errorf("%w: a unit of %d elements of %s needs %d bytes, "+
			"but its buffer only has %d", ErrRange, count,
			p.batch.info.TagName, count*stride, len(buf))
		if p.batch.err == nil {
			p.batch.err = err
		}
		return err
	}

	p.batch.blocks = append(p.batch.blocks, mpi.Block{
		Buf: buf, Count: int(count), Width: int(stride),
	})
	p.batch.total += count
	return nil
}

// MultiReadEnd reads every queued unit in one collective read, starting at
// element offset of the array. Every process that called MultiReadStart must
// call it, even if it queued nothing or one of its units was rejected. The
// batch is discarded afterwards, so the next batch needs another
// MultiReadStart.
func (p *ParReader) MultiReadEnd(offset uint64) error {
	if !p.batch.started {
		return ErrNoBatch
	}
	defer p.batch.clear()

	info := p.batch.info
	stride := info.Stride()

	var localErr error
	typ := p.batch.blocks
	if p.batch.err != nil {
		localErr = p.batch.err
	} else if !inRange(offset, p.batch.total, info.ArraySize) {
		localErr = fmt.Errorf("%w: batch of %d elements at offset %d, but %s "+
			"only has %d elements", ErrRange, p.batch.total, offset,
			info.TagName, info.ArraySize)
	}
	off := info.Offset
	if localErr != nil {
		typ = mpi.Struct{}
	} else {
		off += offset * stride
	}

	err := p.file.ReadAtAll(int64(off), typ)
	if localErr != nil {
		p.log.Warnf("MultiReadEnd on process %d: %s", p.comm.Rank(),
			localErr.Error())
		return localErr
	} else if err != nil {
		return fmt.Errorf("%w: %s", ErrShortRead, err.Error())
	}
	return nil
}
