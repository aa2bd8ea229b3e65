package arraystore

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/chunklab/chunkbench/pkg/codec"
	"github.com/chunklab/chunkbench/pkg/errors"
)

// Container is an open container file. It is read-only; new containers are
// produced through a Writer.
type Container struct {
	f    *os.File
	path string
	hdr  *fileHeader
}

// Open opens a container file for reading. Structural problems (bad magic,
// truncated footer, undecodable header) are reported as ErrorTypeCorrupt.
func Open(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "container file not found")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open container")
	}

	hdr, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Container{f: f, path: path, hdr: hdr}, nil
}

func readHeader(f *os.File) (*fileHeader, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat container")
	}
	if st.Size() < headerSize+footerSize {
		return nil, errors.Newf(errors.ErrorTypeCorrupt,
			"file too short to be a container (%d bytes)", st.Size())
	}

	var front [headerSize]byte
	if _, err := f.ReadAt(front[:], 0); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorrupt, "failed to read file magic")
	}
	if string(front[:4]) != magic {
		return nil, errors.New(errors.ErrorTypeCorrupt, "bad magic: not a container file")
	}
	if v := binary.LittleEndian.Uint32(front[4:]); v != version {
		return nil, errors.Newf(errors.ErrorTypeCorrupt, "unsupported container version %d", v)
	}

	var footer [footerSize]byte
	if _, err := f.ReadAt(footer[:], st.Size()-footerSize); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorrupt, "failed to read footer")
	}
	if string(footer[16:]) != footerMagic {
		return nil, errors.New(errors.ErrorTypeCorrupt, "bad footer magic: truncated or corrupt container")
	}
	off := int64(binary.LittleEndian.Uint64(footer[0:]))
	length := int64(binary.LittleEndian.Uint64(footer[8:]))
	if off < headerSize || length <= 0 || off+length > st.Size()-footerSize {
		return nil, errors.New(errors.ErrorTypeCorrupt, "header trailer out of bounds")
	}

	raw := make([]byte, length)
	if _, err := f.ReadAt(raw, off); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorrupt, "failed to read header trailer")
	}

	hdr := &fileHeader{}
	if err := json.Unmarshal(raw, hdr); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorrupt, "failed to decode header trailer")
	}
	if hdr.Arrays == nil {
		hdr.Arrays = map[string]*arrayMeta{}
	}
	return hdr, nil
}

// Close closes the underlying file.
func (c *Container) Close() error { return c.f.Close() }

// Path returns the file path the container was opened from.
func (c *Container) Path() string { return c.path }

// Names returns the sorted names of all arrays in the container.
func (c *Container) Names() []string {
	names := make([]string, 0, len(c.hdr.Arrays))
	for name := range c.hdr.Arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attrs returns the container-level attributes.
func (c *Container) Attrs() map[string]interface{} { return c.hdr.Attrs }

// GroupAttrs returns the attributes of a named group, or nil.
func (c *Container) GroupAttrs(group string) map[string]interface{} {
	return c.hdr.Groups[group]
}

// Groups returns the sorted names of all attribute groups.
func (c *Container) Groups() []string {
	groups := make([]string, 0, len(c.hdr.Groups))
	for g := range c.hdr.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Array returns a handle to a named array.
func (c *Container) Array(name string) (*Array, error) {
	meta, ok := c.hdr.Arrays[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "array %q not found in %s", name, c.path)
	}
	return &Array{c: c, name: name, meta: meta}, nil
}

// Array is a read handle on one stored array.
type Array struct {
	c    *Container
	name string
	meta *arrayMeta
	comp codec.Compressor
}

// Name returns the array's container path.
func (a *Array) Name() string { return a.name }

// Shape returns the array shape; axis 0 is the time/frame axis.
func (a *Array) Shape() []int { return a.meta.Shape }

// DType returns the element type.
func (a *Array) DType() DType { return a.meta.DType }

// Chunks returns the chunk shape, or nil for a contiguous array.
func (a *Array) Chunks() []int { return a.meta.Chunks }

// Contiguous reports whether the array is stored unchunked.
func (a *Array) Contiguous() bool { return len(a.meta.Chunks) == 0 }

// Codec returns the stored codec identity.
func (a *Array) Codec() codec.Stored { return a.meta.Codec }

// Attrs returns the array-level attributes.
func (a *Array) Attrs() map[string]interface{} { return a.meta.Attrs }

// Range is a half-open [Start, Stop) selection along one axis.
type Range struct {
	Start int
	Stop  int
}

// FullRanges selects the entire array.
func (a *Array) FullRanges() []Range {
	ranges := make([]Range, len(a.meta.Shape))
	for i, n := range a.meta.Shape {
		ranges[i] = Range{0, n}
	}
	return ranges
}

// Read materializes a rectangular slice, given one half-open range per axis.
// Only chunks intersecting the slice are read and decoded; the returned
// buffer holds exactly the requested region in row-major order.
func (a *Array) Read(ranges []Range) ([]byte, error) {
	shape := a.meta.Shape
	if len(ranges) != len(shape) {
		return nil, errors.Newf(errors.ErrorTypeShape,
			"selection rank %d does not match array rank %d", len(ranges), len(shape))
	}
	outShape := make([]int, len(shape))
	for i, r := range ranges {
		if r.Start < 0 || r.Stop > shape[i] || r.Start >= r.Stop {
			return nil, errors.Newf(errors.ErrorTypeShape,
				"range [%d,%d) out of bounds for axis %d of extent %d", r.Start, r.Stop, i, shape[i])
		}
		outShape[i] = r.Stop - r.Start
	}

	esize := a.meta.DType.Size()
	out := make([]byte, product(outShape)*esize)

	if a.Contiguous() {
		if err := a.readContiguous(ranges, outShape, esize, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := a.readChunked(ranges, outShape, esize, out); err != nil {
		return nil, err
	}
	return out, nil
}

// readContiguous serves a slice from the single raw extent with positioned
// reads, one per innermost contiguous run.
func (a *Array) readContiguous(ranges []Range, outShape []int, esize int, out []byte) error {
	if len(a.meta.Extents) != 1 {
		return errors.New(errors.ErrorTypeCorrupt, "contiguous array has no data extent")
	}
	base := a.meta.Extents[0].Offset
	shape := a.meta.Shape
	rank := len(shape)

	// Strides in elements for the source array.
	strides := make([]int, rank)
	strides[rank-1] = 1
	for i := rank - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}

	runElems := outShape[rank-1]
	runBytes := runElems * esize

	coord := make([]int, rank-1) // odometer over all axes but the last
	dstOff := 0
	for {
		srcElem := ranges[rank-1].Start
		for i := 0; i < rank-1; i++ {
			srcElem += (ranges[i].Start + coord[i]) * strides[i]
		}
		if _, err := a.c.f.ReadAt(out[dstOff:dstOff+runBytes], base+int64(srcElem*esize)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "contiguous read failed")
		}
		dstOff += runBytes

		if !increment(coord, outShape[:rank-1]) {
			break
		}
	}
	return nil
}

// readChunked decodes every chunk intersecting the selection and copies the
// intersection into the output buffer.
func (a *Array) readChunked(ranges []Range, outShape []int, esize int, out []byte) error {
	comp, err := a.compressor()
	if err != nil {
		return err
	}

	shape := a.meta.Shape
	chunks := a.meta.Chunks
	rank := len(shape)

	grid := make([]int, rank)
	for i := range grid {
		grid[i] = ceilDiv(shape[i], chunks[i])
	}
	chunkBytes := product(chunks) * esize

	// Chunk-grid bounds of the selection.
	cLo := make([]int, rank)
	cSpan := make([]int, rank)
	for i, r := range ranges {
		cLo[i] = r.Start / chunks[i]
		cSpan[i] = (r.Stop-1)/chunks[i] - cLo[i] + 1
	}

	origin := make([]int, rank)   // chunk origin in array coordinates
	srcFrom := make([]int, rank)  // copy origin inside the chunk
	dstFrom := make([]int, rank)  // copy origin inside the output
	region := make([]int, rank)   // copy extent
	rel := make([]int, rank)      // odometer over intersecting chunks
	for {
		linear := 0
		for i := 0; i < rank; i++ {
			linear = linear*grid[i] + cLo[i] + rel[i]
		}
		ext := a.meta.Extents[linear]
		raw := make([]byte, ext.Length)
		if _, err := a.c.f.ReadAt(raw, ext.Offset); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "chunk read failed")
		}
		chunk, err := comp.Decode(raw, chunkBytes)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeCorrupt, "chunk decode failed")
		}

		for i := 0; i < rank; i++ {
			origin[i] = (cLo[i] + rel[i]) * chunks[i]
			lo := maxOf(ranges[i].Start, origin[i])
			hi := minOf(ranges[i].Stop, origin[i]+chunks[i])
			srcFrom[i] = lo - origin[i]
			dstFrom[i] = lo - ranges[i].Start
			region[i] = hi - lo
		}
		copyHyperslab(out, outShape, dstFrom, chunk, chunks, srcFrom, region, esize)

		if !increment(rel, cSpan) {
			break
		}
	}
	return nil
}

func (a *Array) compressor() (codec.Compressor, error) {
	if a.comp != nil {
		return a.comp, nil
	}
	spec, err := codec.Resolve(a.meta.Codec)
	if err != nil {
		return nil, err
	}
	comp, err := codec.NewCompressor(spec, a.meta.DType.Size())
	if err != nil {
		return nil, err
	}
	a.comp = comp
	return comp, nil
}

// ReadRaw streams the array's raw stored bytes (compressed chunks or the
// contiguous run) to w without decoding. Used for verbatim array copies
// during container export.
func (a *Array) ReadRaw(w io.Writer) ([]Extent, error) {
	copied := make([]Extent, 0, len(a.meta.Extents))
	buf := make([]byte, 1<<20)
	for _, ext := range a.meta.Extents {
		remaining := ext.Length
		off := ext.Offset
		for remaining > 0 {
			n := int64(len(buf))
			if remaining < n {
				n = remaining
			}
			if _, err := a.c.f.ReadAt(buf[:n], off); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFile, "raw chunk copy failed")
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFile, "raw chunk copy failed")
			}
			off += n
			remaining -= n
		}
		copied = append(copied, ext)
	}
	return copied, nil
}

// copyHyperslab copies a rectangular region between two row-major byte
// buffers. The innermost axis is copied as one contiguous run.
func copyHyperslab(dst []byte, dstShape, dstFrom []int, src []byte, srcShape, srcFrom, region []int, esize int) {
	rank := len(region)
	runBytes := region[rank-1] * esize

	coord := make([]int, rank-1)
	for {
		srcElem := srcFrom[rank-1]
		dstElem := dstFrom[rank-1]
		srcStride, dstStride := 1, 1
		for i := rank - 2; i >= 0; i-- {
			srcStride *= srcShape[i+1]
			dstStride *= dstShape[i+1]
			srcElem += (srcFrom[i] + coord[i]) * srcStride
			dstElem += (dstFrom[i] + coord[i]) * dstStride
		}
		copy(dst[dstElem*esize:dstElem*esize+runBytes], src[srcElem*esize:])

		if !increment(coord, region[:rank-1]) {
			break
		}
	}
}

// increment advances a row-major odometer; it returns false after the last
// position. A zero-length odometer has exactly one position.
func increment(coord, extents []int) bool {
	for i := len(coord) - 1; i >= 0; i-- {
		coord[i]++
		if coord[i] < extents[i] {
			return true
		}
		coord[i] = 0
	}
	return false
}

func minOf(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}
