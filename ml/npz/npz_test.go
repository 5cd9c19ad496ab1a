package npz

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNpyHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteNpy(&buf, Float64Array([]float64{1, 2, 3})))
	data := buf.Bytes()
	assert.Equal(t, "\x93NUMPY", string(data[:6]))
	headerLen := int(data[8]) | int(data[9])<<8
	assert.Equal(t, 0, (10+headerLen)%npyAlignment, "data must start aligned")
	header := string(data[10 : 10+headerLen])
	assert.Contains(t, header, "'descr': '<f8'")
	assert.Contains(t, header, "'shape': (3,)")
	assert.Equal(t, byte('\n'), header[len(header)-1])
	assert.Len(t, data, 10+headerLen+3*8)
}

func TestArchiveRoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "arrays.npz")
	ar := New().
		Set("losses", Float64Array([]float64{0.5, 0.25, 0.125, 1e-9}, 4, 1)).
		Set("steps", Int64Array([]int64{10, 20, -30})).
		Set("scalar", Float64Array([]float64{3.5}, []int{}...))
	require.NoError(t, ar.Save(filePath))

	loaded, err := Load(filePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"losses", "steps", "scalar"}, loaded.Names())

	losses, err := loaded.Require("losses")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1}, losses.Shape)
	assert.Equal(t, []float64{0.5, 0.25, 0.125, 1e-9}, losses.Floats)
	assert.Nil(t, losses.Ints)

	steps, found := loaded.Get("steps")
	require.True(t, found)
	assert.Equal(t, []int{3}, steps.Shape)
	assert.Equal(t, []int64{10, 20, -30}, steps.Ints)
	assert.Equal(t, []float64{10, 20, -30}, steps.AsFloat64())

	_, err = loaded.Require("missing")
	require.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.npz"))
	require.Error(t, err)

	_, err = Read(bytes.NewReader([]byte("not a zip")), 9)
	require.Error(t, err)

	bad := []byte("\x93NUMPX\x01\x00")
	_, err = ReadNpy(bytes.NewReader(bad), int64(len(bad)))
	require.Error(t, err)
}

// npyBytes builds a ".npy" file with the given version, header dictionary and raw data.
func npyBytes(major byte, header string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{major, 0})
	if major == 1 {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	} else {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(header)))
	}
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

func readNpyBytes(contents []byte) (*Array, error) {
	return ReadNpy(bytes.NewReader(contents), int64(len(contents)))
}

func TestReadNpyDTypes(t *testing.T) {
	// int32, version 2.0 header.
	data := make([]byte, 12)
	for ii, v := range []int32{-1, 2, 300} {
		binary.LittleEndian.PutUint32(data[4*ii:], uint32(v))
	}
	array, err := readNpyBytes(npyBytes(2, "{'descr': '<i4', 'fortran_order': False, 'shape': (3,), }\n", data))
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 2, 300}, array.Ints)

	// float16: 1.0, 1.5 and -2.0.
	data = []byte{0x00, 0x3C, 0x00, 0x3E, 0x00, 0xC0}
	array, err = readNpyBytes(npyBytes(1, "{'descr': '<f2', 'fortran_order': False, 'shape': (3,), }\n", data))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1.5, -2}, array.Floats)

	// Booleans and bytes.
	array, err = readNpyBytes(npyBytes(1, "{'descr': '|b1', 'fortran_order': False, 'shape': (2,), }\n", []byte{1, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, array.Ints)
	array, err = readNpyBytes(npyBytes(3, "{'descr': '|u1', 'fortran_order': False, 'shape': (), }\n", []byte{200}))
	require.NoError(t, err)
	assert.Equal(t, []int{}, array.Shape)
	assert.Equal(t, []int64{200}, array.Ints)

	// Big-endian and unknown dtypes are rejected.
	_, err = readNpyBytes(npyBytes(1, "{'descr': '>f8', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 8)))
	require.ErrorContains(t, err, "big-endian")
	_, err = readNpyBytes(npyBytes(1, "{'descr': '<U3', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 12)))
	require.ErrorContains(t, err, "unsupported npy dtype")
}

func TestReadNpyFortranOrder(t *testing.T) {
	// Matrix [[1, 2, 3], [4, 5, 6]] stored column by column.
	data := make([]byte, 6*8)
	for ii, v := range []float64{1, 4, 2, 5, 3, 6} {
		binary.LittleEndian.PutUint64(data[8*ii:], math.Float64bits(v))
	}
	array, err := readNpyBytes(npyBytes(1, "{'descr': '<f8', 'fortran_order': True, 'shape': (2, 3), }\n", data))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, array.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, array.Floats)
}

func TestReadNpySizeLimits(t *testing.T) {
	// A shape much larger than the data available is an error, not an allocation.
	contents := npyBytes(1, "{'descr': '<f8', 'fortran_order': False, 'shape': (1000000000000,), }\n", make([]byte, 16))
	_, err := readNpyBytes(contents)
	require.ErrorContains(t, err, "bytes of data are available")

	contents = npyBytes(1, "{'descr': '<f8', 'fortran_order': False, 'shape': (4611686018427387904, 4), }\n", nil)
	_, err = readNpyBytes(contents)
	require.ErrorContains(t, err, "overflows")

	contents = npyBytes(1, "{'descr': '<f8', 'fortran_order': False, 'shape': (-1,), }\n", nil)
	_, err = readNpyBytes(contents)
	require.ErrorContains(t, err, "invalid npy shape")

	// Header lengths beyond the data available, or beyond MaxHeaderLen.
	contents = npyBytes(2, "", nil)
	binary.LittleEndian.PutUint32(contents[8:], 1<<31)
	_, err = readNpyBytes(contents)
	require.ErrorContains(t, err, "header length")
	contents = npyBytes(1, "{'descr': '<f8', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 8))
	_, err = ReadNpy(bytes.NewReader(contents), 20)
	require.ErrorContains(t, err, "header length")

	// Truncated data, while the header claims it within the limit.
	contents = npyBytes(1, "{'descr': '<f8', 'fortran_order': False, 'shape': (2,), }\n", make([]byte, 8))
	_, err = ReadNpy(bytes.NewReader(contents), int64(len(contents))+8)
	require.Error(t, err)
}

func TestReadArchiveEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("x.npy")
	require.NoError(t, err)
	require.NoError(t, WriteNpy(entry, Int64Array([]int64{7})))
	entry, err = zw.Create("README.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("skipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	ar, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ar.Names())

	// Entries escaping the archive are rejected.
	buf.Reset()
	zw = zip.NewWriter(&buf)
	entry, err = zw.Create("../x.npy")
	require.NoError(t, err)
	require.NoError(t, WriteNpy(entry, Int64Array([]int64{7})))
	require.NoError(t, zw.Close())
	_, err = Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.Error(t, err)
}
