package arraystore

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"github.com/chunklab/chunkbench/pkg/codec"
	"github.com/chunklab/chunkbench/pkg/errors"
)

// Writer builds a new container file. Arrays stream to disk as they are
// created; Close writes the header trailer and footer. A writer that fails
// mid-build must be Aborted so no partial file is left claiming success.
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	path   string
	off    int64
	hdr    fileHeader
	closed bool
}

// NewWriter creates a container file at path, truncating any existing file.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create container")
	}

	w := &Writer{
		f:    f,
		w:    bufio.NewWriterSize(f, 1<<20),
		path: path,
		hdr: fileHeader{
			Version: version,
			Arrays:  map[string]*arrayMeta{},
		},
	}

	var front [headerSize]byte
	copy(front[:4], magic)
	binary.LittleEndian.PutUint32(front[4:], version)
	if err := w.append(front[:]); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// SetAttr sets a container-level attribute.
func (w *Writer) SetAttr(name string, value interface{}) {
	if w.hdr.Attrs == nil {
		w.hdr.Attrs = map[string]interface{}{}
	}
	w.hdr.Attrs[name] = value
}

// SetAttrs copies all entries into the container-level attributes.
func (w *Writer) SetAttrs(attrs map[string]interface{}) {
	for k, v := range attrs {
		w.SetAttr(k, v)
	}
}

// SetGroupAttr sets an attribute on a named group, creating the group if
// needed.
func (w *Writer) SetGroupAttr(group, name string, value interface{}) {
	if w.hdr.Groups == nil {
		w.hdr.Groups = map[string]map[string]interface{}{}
	}
	if w.hdr.Groups[group] == nil {
		w.hdr.Groups[group] = map[string]interface{}{}
	}
	w.hdr.Groups[group][name] = value
}

// PutArray stores a small fully-materialized array contiguously and
// uncompressed. Intended for benchmark result series, not bulk data.
func (w *Writer) PutArray(name string, dtype DType, shape []int, data []byte, attrs map[string]interface{}) error {
	if err := dtype.validate(); err != nil {
		return err
	}
	want := product(shape) * dtype.Size()
	if len(data) != want {
		return errors.Newf(errors.ErrorTypeShape,
			"array %q: data length %d does not match shape (%d bytes)", name, len(data), want)
	}
	if _, exists := w.hdr.Arrays[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "array %q already written", name)
	}

	start := w.off
	if err := w.append(data); err != nil {
		return err
	}
	w.hdr.Arrays[name] = &arrayMeta{
		Shape:   append([]int(nil), shape...),
		DType:   dtype,
		Codec:   codec.Stored{},
		Attrs:   attrs,
		Extents: []Extent{{Offset: start, Length: int64(len(data))}},
	}
	return nil
}

// CopyArray transfers an array from an open container verbatim: stored chunk
// blobs are copied without decoding and the descriptor and attributes carry
// over unchanged.
func (w *Writer) CopyArray(name string, src *Array) error {
	if _, exists := w.hdr.Arrays[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "array %q already written", name)
	}

	start := w.off
	srcExtents, err := src.ReadRaw(w)
	if err != nil {
		return err
	}

	extents := make([]Extent, len(srcExtents))
	off := start
	for i, ext := range srcExtents {
		extents[i] = Extent{Offset: off, Length: ext.Length}
		off += ext.Length
	}
	w.off = off

	meta := src.meta
	w.hdr.Arrays[name] = &arrayMeta{
		Shape:   append([]int(nil), meta.Shape...),
		DType:   meta.DType,
		Chunks:  append([]int(nil), meta.Chunks...),
		Codec:   meta.Codec,
		Attrs:   copyAttrs(meta.Attrs),
		Extents: extents,
	}
	return nil
}

// Write implements io.Writer so Array.ReadRaw can stream into the container;
// it tracks the running offset.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.off += int64(n)
	return n, err
}

// CreateArray materializes a new array from a streaming source under the
// given layout. Memory held is bounded by one source buffer plus one chunk
// row (chunk axis-0 extent times the frame size), never the whole dataset.
func (w *Writer) CreateArray(name string, desc Descriptor, src ChunkSource, attrs map[string]interface{}) error {
	if _, exists := w.hdr.Arrays[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "array %q already written", name)
	}

	chunks, err := desc.validate()
	if err != nil {
		return err
	}
	if !shapeEqual(src.MaxShape(), desc.Shape) {
		return errors.Newf(errors.ErrorTypeShape,
			"source shape %v does not match descriptor shape %v", src.MaxShape(), desc.Shape)
	}
	if src.DType() != desc.DType {
		return errors.Newf(errors.ErrorTypeShape,
			"source dtype %q does not match descriptor dtype %q", src.DType(), desc.DType)
	}

	meta := &arrayMeta{
		Shape: append([]int(nil), desc.Shape...),
		DType: desc.DType,
		Codec: desc.storedCodec(),
		Attrs: attrs,
	}

	if chunks == nil {
		meta.Codec = codec.Stored{}
		if err := w.createContiguous(meta, src); err != nil {
			return err
		}
	} else {
		meta.Chunks = chunks
		spec := desc.Codec
		if spec == nil {
			spec = codec.Raw{}
		}
		comp, err := codec.NewCompressor(spec, desc.DType.Size())
		if err != nil {
			return err
		}
		if err := w.createChunked(meta, chunks, comp, src); err != nil {
			return err
		}
	}

	w.hdr.Arrays[name] = meta
	return nil
}

// createContiguous streams source buffers straight into a single raw extent.
func (w *Writer) createContiguous(meta *arrayMeta, src ChunkSource) error {
	frameBytes := product(meta.Shape[1:]) * meta.DType.Size()
	start := w.off

	next := 0
	for {
		buf, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := checkBuffer(buf, next, frameBytes); err != nil {
			return err
		}
		if err := w.append(buf.Data); err != nil {
			return err
		}
		next = buf.Start + buf.Frames
	}
	if next != meta.Shape[0] {
		return errors.Newf(errors.ErrorTypeShape,
			"source yielded %d frames, expected %d", next, meta.Shape[0])
	}

	meta.Extents = []Extent{{Offset: start, Length: w.off - start}}
	return nil
}

// createChunked accumulates frames into one chunk row at a time, splits each
// full (or final partial) row into spatial chunks, and appends the encoded
// blobs. Edge chunks are zero-padded to the full chunk size.
func (w *Writer) createChunked(meta *arrayMeta, chunks []int, comp codec.Compressor, src ChunkSource) error {
	shape := meta.Shape
	esize := meta.DType.Size()
	rank := len(shape)

	frameBytes := product(shape[1:]) * esize
	c0 := chunks[0]
	slab := make([]byte, c0*frameBytes)
	slabFrames := 0
	slabIndex := 0

	grid := make([]int, rank)
	for i := range grid {
		grid[i] = ceilDiv(shape[i], chunks[i])
	}
	spatialChunks := product(grid[1:])
	meta.Extents = make([]Extent, grid[0]*spatialChunks)

	flush := func() error {
		if slabFrames == 0 {
			return nil
		}
		// Zero the unfilled tail of a final partial row.
		for i := slabFrames * frameBytes; i < len(slab); i++ {
			slab[i] = 0
		}
		if err := w.flushSlab(meta, chunks, grid, comp, slab, slabIndex, esize); err != nil {
			return err
		}
		slabIndex++
		slabFrames = 0
		return nil
	}

	next := 0
	for {
		buf, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := checkBuffer(buf, next, frameBytes); err != nil {
			return err
		}
		next = buf.Start + buf.Frames

		data := buf.Data
		for len(data) > 0 {
			take := c0 - slabFrames
			avail := len(data) / frameBytes
			if take > avail {
				take = avail
			}
			copy(slab[slabFrames*frameBytes:], data[:take*frameBytes])
			slabFrames += take
			data = data[take*frameBytes:]
			if slabFrames == c0 {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if next != shape[0] {
		return errors.Newf(errors.ErrorTypeShape,
			"source yielded %d frames, expected %d", next, shape[0])
	}
	return nil
}

// flushSlab splits one chunk row (c0 frames, full spatial extent) into
// spatial chunks and appends each encoded blob.
func (w *Writer) flushSlab(meta *arrayMeta, chunks, grid []int, comp codec.Compressor, slab []byte, slabIndex, esize int) error {
	shape := meta.Shape
	rank := len(shape)

	slabShape := make([]int, rank)
	slabShape[0] = chunks[0]
	copy(slabShape[1:], shape[1:])

	chunkBuf := make([]byte, product(chunks)*esize)
	spatialGrid := grid[1:]

	srcFrom := make([]int, rank)
	dstFrom := make([]int, rank)
	region := make([]int, rank)
	coord := make([]int, rank-1)
	for {
		// Intersect this chunk's spatial box with the array bounds; the
		// remainder of the chunk buffer stays zero-padded.
		for i := range chunkBuf {
			chunkBuf[i] = 0
		}
		region[0] = chunks[0]
		srcFrom[0], dstFrom[0] = 0, 0
		for i := 1; i < rank; i++ {
			origin := coord[i-1] * chunks[i]
			srcFrom[i] = origin
			dstFrom[i] = 0
			region[i] = minOf(chunks[i], shape[i]-origin)
		}
		copyHyperslab(chunkBuf, chunks, dstFrom, slab, slabShape, srcFrom, region, esize)

		blob, err := comp.Encode(chunkBuf)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeCodec, "chunk encode failed")
		}
		linear := slabIndex*product(spatialGrid) + linearIndex(coord, spatialGrid)
		meta.Extents[linear] = Extent{Offset: w.off, Length: int64(len(blob))}
		if err := w.append(blob); err != nil {
			return err
		}

		if !increment(coord, spatialGrid) {
			break
		}
	}
	return nil
}

// Close writes the header trailer and footer and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	raw, err := json.Marshal(&w.hdr)
	if err != nil {
		w.discard()
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode header trailer")
	}

	headerOff := w.off
	if err := w.append(raw); err != nil {
		w.discard()
		return err
	}

	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:], uint64(headerOff))
	binary.LittleEndian.PutUint64(footer[8:], uint64(len(raw)))
	copy(footer[16:], footerMagic)
	if err := w.append(footer[:]); err != nil {
		w.discard()
		return err
	}

	if err := w.w.Flush(); err != nil {
		w.discard()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush container")
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.path)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close container")
	}
	return nil
}

// Abort closes and removes the partial output file.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.discard()
}

func (w *Writer) discard() {
	w.f.Close()
	os.Remove(w.path)
}

func (w *Writer) append(p []byte) error {
	if _, err := w.w.Write(p); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "container write failed")
	}
	w.off += int64(len(p))
	return nil
}

func checkBuffer(buf *Buffer, expectedStart, frameBytes int) error {
	if buf.Frames <= 0 {
		return errors.New(errors.ErrorTypeData, "source yielded an empty buffer")
	}
	if buf.Start != expectedStart {
		return errors.Newf(errors.ErrorTypeData,
			"source buffer starts at frame %d, expected %d", buf.Start, expectedStart)
	}
	if len(buf.Data) != buf.Frames*frameBytes {
		return errors.Newf(errors.ErrorTypeShape,
			"source buffer holds %d bytes for %d frames of %d bytes", len(buf.Data), buf.Frames, frameBytes)
	}
	return nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func linearIndex(coord, extents []int) int {
	idx := 0
	for i := range coord {
		idx = idx*extents[i] + coord[i]
	}
	return idx
}

func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
