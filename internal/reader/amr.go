package reader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/rskv-p/toposcan/internal/grid"
)

// amrMagic identifies the implementation-defined AMR hierarchical binary
// format spec.md §6 leaves unspecified. Layout, little-endian throughout:
//
//	magic       [8]byte  "TSCNAMR1"
//	ndim        uint32
//	wrap        uint32   (0 or 1)
//	domainMin   [ndim]int32
//	domainMax   [ndim]int32
//	nboxes      uint32
//	boxes       [nboxes]boxRecord
//
// boxRecord:
//
//	gid         int64
//	level       int32
//	refinement  int32
//	coreMin     [ndim]int32
//	coreMax     [ndim]int32
//	nneighbors  uint32
//	neighbors   [nneighbors]neighborRecord
//	nvalues     uint64
//	values      [nvalues]float64  (row-major over core.Grow(1), unfolded)
//
// neighborRecord:
//
//	gid         int64
//	refinement  int32
//	level       int32
//	boundsMin   [ndim]int32
//	boundsMax   [ndim]int32
var amrMagic = [8]byte{'T', 'S', 'C', 'N', 'A', 'M', 'R', '1'}

// AMRFileReader implements AMRReader over the format documented above.
type AMRFileReader struct {
	f       *os.File
	ndim    int
	domain  grid.Domain
	boxes   []BoxMeta
	byGID   map[int64]int64 // gid -> byte offset of its values section
	nvalues map[int64]int64
	neigh   map[int64][]NeighborRecord
}

// OpenAMR parses path's box hierarchy header, leaving per-box value
// payloads on disk until ReadBoxValues is called for that gid.
func OpenAMR(path string) (*AMRFileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reader: open amr file %s: %w", path, err)
	}
	r := bufio.NewReader(f)

	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("reader: %s: read magic: %w", path, err)
	}
	if magic != amrMagic {
		f.Close()
		return nil, fmt.Errorf("reader: %s: bad magic, not a toposcan AMR file", path)
	}

	ndim, err := readU32(r)
	if err != nil {
		f.Close()
		return nil, err
	}
	wrapFlag, err := readU32(r)
	if err != nil {
		f.Close()
		return nil, err
	}
	domainMin, err := readI32Slice(r, int(ndim))
	if err != nil {
		f.Close()
		return nil, err
	}
	domainMax, err := readI32Slice(r, int(ndim))
	if err != nil {
		f.Close()
		return nil, err
	}
	nboxes, err := readU32(r)
	if err != nil {
		f.Close()
		return nil, err
	}

	domainShape := make(grid.Shape, ndim)
	cellSize := make([]float64, ndim)
	for i := 0; i < int(ndim); i++ {
		domainShape[i] = domainMax[i] - domainMin[i] + 1
		cellSize[i] = 1.0
	}

	out := &AMRFileReader{
		f:    f,
		ndim: int(ndim),
		domain: grid.Domain{
			Shape:    domainShape,
			CellSize: cellSize,
			Wrap:     wrapFlag != 0,
		},
		byGID:   make(map[int64]int64),
		nvalues: make(map[int64]int64),
		neigh:   make(map[int64][]NeighborRecord),
	}

	offset := int64(8 + 4 + 4 + 4*int(ndim)*2 + 4)
	for i := uint32(0); i < nboxes; i++ {
		gid, err := readI64(r)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += 8
		level, err := readI32(r)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += 4
		refinement, err := readI32(r)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += 4
		coreMin, err := readI32Slice(r, int(ndim))
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += int64(4 * ndim)
		coreMax, err := readI32Slice(r, int(ndim))
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += int64(4 * ndim)

		nneighbors, err := readU32(r)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += 4

		var neighbors []NeighborRecord
		for j := uint32(0); j < nneighbors; j++ {
			ngid, err := readI64(r)
			if err != nil {
				f.Close()
				return nil, err
			}
			offset += 8
			nref, err := readI32(r)
			if err != nil {
				f.Close()
				return nil, err
			}
			offset += 4
			nlevel, err := readI32(r)
			if err != nil {
				f.Close()
				return nil, err
			}
			offset += 4
			bmin, err := readI32Slice(r, int(ndim))
			if err != nil {
				f.Close()
				return nil, err
			}
			offset += int64(4 * ndim)
			bmax, err := readI32Slice(r, int(ndim))
			if err != nil {
				f.Close()
				return nil, err
			}
			offset += int64(4 * ndim)
			neighbors = append(neighbors, NeighborRecord{
				GID: ngid, Refinement: int(nref), Level: int(nlevel),
				Bounds: grid.Box{Min: bmin, Max: bmax},
			})
		}

		nvalues, err := readU64(r)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += 8

		out.boxes = append(out.boxes, BoxMeta{
			GID: gid, Level: int(level), Refinement: int(refinement),
			Core: grid.Box{Min: coreMin, Max: coreMax},
		})
		out.neigh[gid] = neighbors
		out.nvalues[gid] = int64(nvalues)
		out.byGID[gid] = offset

		if err := skipBytes(r, int64(nvalues)*8); err != nil {
			f.Close()
			return nil, err
		}
		offset += int64(nvalues) * 8
	}

	return out, nil
}

func (r *AMRFileReader) Domain() grid.Domain          { return r.domain }
func (r *AMRFileReader) Boxes() []BoxMeta             { return r.boxes }
func (r *AMRFileReader) Neighbors(gid int64) []NeighborRecord { return r.neigh[gid] }

// ReadBoxValues reads gid's raw payload from disk and returns it in the
// order it was stored (row-major over core.Grow(1), see above). bounds is
// only used to check the payload's length; the caller passes the block's
// ghost-grown Bounds, unfolded, the extent the values were written over.
func (r *AMRFileReader) ReadBoxValues(gid int64, bounds grid.Box) ([]grid.Value, error) {
	offset, ok := r.byGID[gid]
	if !ok {
		return nil, fmt.Errorf("reader: unknown gid %d", gid)
	}
	n := r.nvalues[gid]
	want := bounds.Shape().Size()
	if n != want {
		return nil, fmt.Errorf("reader: gid %d: stored %d values, bounds shape wants %d", gid, n, want)
	}

	buf := make([]byte, n*8)
	if _, err := r.f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("reader: gid %d: read values: %w", gid, err)
	}
	out := make([]grid.Value, n)
	for i := int64(0); i < n; i++ {
		bits := binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
		out[i] = math.Float64frombits(bits)
	}
	return out, nil
}

func (r *AMRFileReader) Close() error { return r.f.Close() }

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("reader: read uint32: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("reader: read uint64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readI32(r io.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}

func readI64(r io.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}

func readI32Slice(r io.Reader, n int) ([]int, error) {
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := readI32(r)
		if err != nil {
			return nil, err
		}
		out[i] = int(v)
	}
	return out, nil
}

func skipBytes(r *bufio.Reader, n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	if err != nil {
		return fmt.Errorf("reader: skip payload: %w", err)
	}
	return nil
}
