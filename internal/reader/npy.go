package reader

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rskv-p/toposcan/internal/grid"
)

var npyMagic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

// npyShapeRE and npyDescrRE pull 'shape': (...) and 'descr': '...' out of
// the npy header's Python-dict-literal text; a full Python literal parser
// is unwarranted for a header this constrained (see DESIGN.md).
var (
	npyShapeRE = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
	npyDescrRE = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	npyOrderRE = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
)

// NPYReader reads a dense scalar field from a NumPy .npy file (spec.md
// §6's "dense .npy files, detected by suffix"). It loads the full array
// into memory once and serves ReadBox by slicing it, an in-process stand-in
// for the source's collective MPI-IO read (see DESIGN.md).
type NPYReader struct {
	path   string
	shape  grid.Shape
	values []grid.Value
}

// OpenNPY parses path's header and eagerly reads its payload.
func OpenNPY(path string) (*NPYReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reader: open npy %s: %w", path, err)
	}
	if len(data) < 10 || string(data[:6]) != string(npyMagic) {
		return nil, fmt.Errorf("reader: %s is not a valid .npy file (bad magic)", path)
	}
	major := data[6]

	var headerLen int
	var headerStart int
	if major == 1 {
		if len(data) < 10 {
			return nil, fmt.Errorf("reader: %s: truncated v1 header", path)
		}
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		headerStart = 10
	} else {
		if len(data) < 12 {
			return nil, fmt.Errorf("reader: %s: truncated v2+ header", path)
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		headerStart = 12
	}
	if headerStart+headerLen > len(data) {
		return nil, fmt.Errorf("reader: %s: header length exceeds file size", path)
	}
	header := string(data[headerStart : headerStart+headerLen])
	dataStart := headerStart + headerLen

	shape, err := parseNpyShape(header)
	if err != nil {
		return nil, fmt.Errorf("reader: %s: %w", path, err)
	}
	descr := npyDescrRE.FindStringSubmatch(header)
	if descr == nil {
		return nil, fmt.Errorf("reader: %s: missing descr in header", path)
	}
	if m := npyOrderRE.FindStringSubmatch(header); m != nil && m[1] == "True" {
		return nil, fmt.Errorf("reader: %s: fortran-order .npy files are not supported", path)
	}

	values, err := decodeNpyPayload(data[dataStart:], descr[1], shape.Size())
	if err != nil {
		return nil, fmt.Errorf("reader: %s: %w", path, err)
	}

	return &NPYReader{path: path, shape: shape, values: values}, nil
}

func parseNpyShape(header string) (grid.Shape, error) {
	m := npyShapeRE.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("missing shape in header")
	}
	parts := strings.Split(m[1], ",")
	var shape grid.Shape
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid shape entry %q: %w", p, err)
		}
		shape = append(shape, n)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("empty shape")
	}
	return shape, nil
}

func decodeNpyPayload(payload []byte, descr string, n int64) ([]grid.Value, error) {
	littleEndian := !strings.HasPrefix(descr, ">")
	kind := strings.TrimLeft(descr, "<>=|")

	out := make([]grid.Value, n)
	switch kind {
	case "f8":
		want := int(n) * 8
		if len(payload) < want {
			return nil, fmt.Errorf("payload too short for f8 data: have %d want %d", len(payload), want)
		}
		for i := int64(0); i < n; i++ {
			bits := readUint64(payload[i*8:i*8+8], littleEndian)
			out[i] = math.Float64frombits(bits)
		}
	case "f4":
		want := int(n) * 4
		if len(payload) < want {
			return nil, fmt.Errorf("payload too short for f4 data: have %d want %d", len(payload), want)
		}
		for i := int64(0); i < n; i++ {
			bits := readUint32(payload[i*4:i*4+4], littleEndian)
			out[i] = float64(math.Float32frombits(bits))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q (want f4 or f8)", descr)
	}
	return out, nil
}

func readUint64(b []byte, little bool) uint64 {
	if little {
		return binary.LittleEndian.Uint64(b)
	}
	return binary.BigEndian.Uint64(b)
}

func readUint32(b []byte, little bool) uint32 {
	if little {
		return binary.LittleEndian.Uint32(b)
	}
	return binary.BigEndian.Uint32(b)
}

// Shape returns the array's dimensions in row-major (C) order.
func (r *NPYReader) Shape() grid.Shape { return r.shape }

// ReadBox copies out the values within box, box's coordinates being
// indices into the full array.
func (r *NPYReader) ReadBox(box grid.Box) ([]grid.Value, error) {
	shape := box.Shape()
	n := shape.Size()
	out := make([]grid.Value, n)
	for lin := int64(0); lin < n; lin++ {
		rel := shape.Vertex(lin)
		global := make([]int, len(rel))
		for i := range rel {
			global[i] = rel[i] + box.Min[i]
			if global[i] < 0 || global[i] >= r.shape[i] {
				return nil, fmt.Errorf("reader: box index %v out of bounds for shape %v", global, r.shape)
			}
		}
		out[lin] = r.values[r.shape.Linear(global)]
	}
	return out, nil
}

// Close is a no-op: OpenNPY reads the whole file eagerly and holds no
// live descriptor.
func (r *NPYReader) Close() error { return nil }
