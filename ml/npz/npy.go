package npz

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// npyMagic starts every ".npy" file.
const npyMagic = "\x93NUMPY"

// npyAlignment of the header, as used by numpy.
const npyAlignment = 64

// MaxHeaderLen is the largest ".npy" header accepted by ReadNpy.
const MaxHeaderLen = 0xFFFF

// ReadNpy reads one array in the ".npy" format (version 1.0, 2.0 or 3.0) from r.
//
// limit is the number of bytes available in r: the header length and the data size declared by the
// header are checked against it before anything is allocated for them.
func ReadNpy(r io.Reader, limit int64) (*Array, error) {
	// Read and validate the magic string.
	magic := make([]byte, len(npyMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrap(err, "npz: failed to read npy magic string")
	}
	if string(magic) != npyMagic {
		return nil, errors.Errorf("npz: invalid npy format, magic string mismatch %q", magic)
	}
	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, errors.Wrap(err, "npz: failed to read npy version")
	}

	// Read header length: 2 bytes for version 1.0, 4 bytes for 2.0 and above.
	var lenBytes []byte
	switch version[0] {
	case 1:
		lenBytes = make([]byte, 2)
	case 2, 3:
		lenBytes = make([]byte, 4)
	default:
		return nil, errors.Errorf("npz: unsupported npy version %d.%d", version[0], version[1])
	}
	if _, err := io.ReadFull(r, lenBytes); err != nil {
		return nil, errors.Wrapf(err, "npz: failed to read npy header length (v%d.%d)", version[0], version[1])
	}
	var headerLen int64
	if len(lenBytes) == 2 {
		headerLen = int64(binary.LittleEndian.Uint16(lenBytes))
	} else {
		headerLen = int64(binary.LittleEndian.Uint32(lenBytes))
	}
	preambleLen := int64(len(magic) + len(version) + len(lenBytes))
	if headerLen > MaxHeaderLen || preambleLen+headerLen > limit {
		return nil, errors.Errorf("npz: npy header length %d is invalid for %d bytes of npy data", headerLen, limit)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrap(err, "npz: failed to read npy header")
	}
	descr, shape, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, err
	}
	dtype, err := lookupNpyDType(descr)
	if err != nil {
		return nil, err
	}

	// Check the data size before allocating it.
	size := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, errors.Errorf("npz: invalid npy shape %v", shape)
		}
		if dim > 0 && size > math.MaxInt/dim {
			return nil, errors.Errorf("npz: npy shape %v overflows", shape)
		}
		size *= dim
	}
	available := limit - preambleLen - headerLen
	if int64(size) > available/int64(dtype.itemSize) {
		return nil, errors.Errorf("npz: npy shape %v of %q needs %d values, but only %d bytes of data are available",
			shape, descr, size, available)
	}
	raw := make([]byte, size*dtype.itemSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "npz: failed to read npy data (expected %d bytes)", len(raw))
	}

	array := &Array{Shape: shape}
	if dtype.toFloat != nil {
		array.Floats = make([]float64, size)
		for ii := range array.Floats {
			array.Floats[ii] = dtype.toFloat(raw[ii*dtype.itemSize:])
		}
		if fortranOrder && len(shape) > 1 {
			array.Floats = fortranToC(shape, array.Floats)
		}
	} else {
		array.Ints = make([]int64, size)
		for ii := range array.Ints {
			array.Ints[ii] = dtype.toInt(raw[ii*dtype.itemSize:])
		}
		if fortranOrder && len(shape) > 1 {
			array.Ints = fortranToC(shape, array.Ints)
		}
	}
	return array, nil
}

var (
	npyDescrRegexp   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	npyFortranRegexp = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	npyShapeRegexp   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// parseNpyHeader extracts dtype, shape and fortran_order from the header dictionary, e.g.:
// "{'descr': '<f8', 'fortran_order': False, 'shape': (2, 3), }".
func parseNpyHeader(header string) (descr string, shape []int, fortranOrder bool, err error) {
	mDescr := npyDescrRegexp.FindStringSubmatch(header)
	if mDescr == nil {
		err = errors.Errorf("npz: could not find 'descr' in npy header %q", header)
		return
	}
	descr = mDescr[1]

	mFortran := npyFortranRegexp.FindStringSubmatch(header)
	if mFortran == nil {
		err = errors.Errorf("npz: could not find 'fortran_order' in npy header %q", header)
		return
	}
	fortranOrder = mFortran[1] == "True"

	mShape := npyShapeRegexp.FindStringSubmatch(header)
	if mShape == nil {
		err = errors.Errorf("npz: could not find 'shape' in npy header %q", header)
		return
	}
	// "()" is a scalar, and "(N,)" has a trailing comma.
	shape = []int{}
	for _, part := range strings.Split(mShape[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, convErr := strconv.Atoi(part)
		if convErr != nil {
			err = errors.Wrapf(convErr, "npz: invalid shape value %q in npy header", part)
			return
		}
		shape = append(shape, dim)
	}
	return
}

// npyDType decodes one little-endian item of a NumPy dtype, into a float or an int.
type npyDType struct {
	itemSize int
	toFloat  func(raw []byte) float64
	toInt    func(raw []byte) int64
}

// npyDTypes maps NumPy dtypes, without the byte order prefix, to their decoders.
// Unsigned 64 bits values above math.MaxInt64 wrap around.
var npyDTypes = map[string]npyDType{
	"b1": {itemSize: 1, toInt: func(raw []byte) int64 { return int64(raw[0]) }},
	"i1": {itemSize: 1, toInt: func(raw []byte) int64 { return int64(int8(raw[0])) }},
	"u1": {itemSize: 1, toInt: func(raw []byte) int64 { return int64(raw[0]) }},
	"i2": {itemSize: 2, toInt: func(raw []byte) int64 { return int64(int16(binary.LittleEndian.Uint16(raw))) }},
	"u2": {itemSize: 2, toInt: func(raw []byte) int64 { return int64(binary.LittleEndian.Uint16(raw)) }},
	"i4": {itemSize: 4, toInt: func(raw []byte) int64 { return int64(int32(binary.LittleEndian.Uint32(raw))) }},
	"u4": {itemSize: 4, toInt: func(raw []byte) int64 { return int64(binary.LittleEndian.Uint32(raw)) }},
	"i8": {itemSize: 8, toInt: func(raw []byte) int64 { return int64(binary.LittleEndian.Uint64(raw)) }},
	"u8": {itemSize: 8, toInt: func(raw []byte) int64 { return int64(binary.LittleEndian.Uint64(raw)) }},
	"f2": {itemSize: 2, toFloat: func(raw []byte) float64 {
		return float64(float16.Frombits(binary.LittleEndian.Uint16(raw)).Float32())
	}},
	"f4": {itemSize: 4, toFloat: func(raw []byte) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	}},
	"f8": {itemSize: 8, toFloat: func(raw []byte) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(raw))
	}},
}

// lookupNpyDType returns the decoder for the NumPy dtype string descr, e.g. "<f8" or "|b1".
func lookupNpyDType(descr string) (npyDType, error) {
	if descr == "?" {
		descr = "|b1"
	}
	key := descr
	if key != "" && strings.ContainsRune("<>|=", rune(key[0])) {
		key = key[1:]
	}
	dtype, found := npyDTypes[key]
	if !found {
		return dtype, errors.Errorf("npz: unsupported npy dtype %q", descr)
	}
	if descr[0] == '>' && dtype.itemSize > 1 {
		return dtype, errors.Errorf("npz: big-endian npy dtype %q not supported", descr)
	}
	return dtype, nil
}

// fortranToC reorders values stored in column-major (Fortran) order to row-major (C) order.
func fortranToC[T any](dims []int, fortran []T) []T {
	c := make([]T, len(fortran))
	coordinates := make([]int, len(dims))
	for cIndex := range c {
		// Coordinates from the row-major index.
		tmp := cIndex
		for axis := len(dims) - 1; axis >= 0; axis-- {
			coordinates[axis] = tmp % dims[axis]
			tmp /= dims[axis]
		}
		// Column-major index of the same coordinates.
		fortranIndex, stride := 0, 1
		for axis, dim := range dims {
			fortranIndex += coordinates[axis] * stride
			stride *= dim
		}
		c[cIndex] = fortran[fortranIndex]
	}
	return c
}

// WriteNpy writes one array in the ".npy" version 1.0 format, as "<f8" or "<i8" in C order.
func WriteNpy(w io.Writer, array *Array) error {
	if array.Size() != len(array.Floats)+len(array.Ints) || (array.Floats != nil && array.Ints != nil) {
		return errors.Errorf("npz: invalid array with shape %v and %d float values, %d int values",
			array.Shape, len(array.Floats), len(array.Ints))
	}
	descr := "<f8"
	if array.Floats == nil {
		descr = "<i8"
	}

	// Shape tuple: "()" for scalars and a trailing comma for 1D arrays.
	var shapeTuple string
	switch len(array.Shape) {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", array.Shape[0])
	default:
		dims := make([]string, len(array.Shape))
		for ii, dim := range array.Shape {
			dims[ii] = strconv.Itoa(dim)
		}
		shapeTuple = fmt.Sprintf("(%s)", strings.Join(dims, ", "))
	}

	// Header padded with spaces and a final newline, so the data starts aligned.
	// Magic (6) + Version (2) + HeaderLen (2) = 10 bytes of preamble.
	var headerBuf bytes.Buffer
	_, _ = fmt.Fprintf(&headerBuf, "{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple)
	for (10+headerBuf.Len()+1)%npyAlignment != 0 {
		headerBuf.WriteByte(' ')
	}
	headerBuf.WriteByte('\n')

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(headerBuf.Len()))
	buf.Write(headerBuf.Bytes())
	raw := make([]byte, 8*array.Size())
	if array.Floats != nil {
		for ii, v := range array.Floats {
			binary.LittleEndian.PutUint64(raw[8*ii:], math.Float64bits(v))
		}
	} else {
		for ii, v := range array.Ints {
			binary.LittleEndian.PutUint64(raw[8*ii:], uint64(v))
		}
	}
	buf.Write(raw)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "npz: failed to write npy data")
	}
	return nil
}
