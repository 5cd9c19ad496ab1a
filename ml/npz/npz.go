/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package npz reads and writes archives of named arrays in NumPy's ".npz" format: a zip file
// where each entry "<name>.npy" holds one array in the ".npy" format.
//
// Arrays are held as float64 or int64 values. Reading accepts the little-endian boolean, integer and
// float NumPy dtypes (float16 included) in either C or Fortran order, and converts them. Writing
// always uses "<f8" or "<i8" in C order, and the files can be read with `numpy.load`.
package npz

import (
	"archive/zip"
	"io"
	"math"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Array is a n-dimensional array with either float64 or int64 values.
type Array struct {
	// Shape of the array, an empty shape is a scalar.
	Shape []int

	// Exactly one of Floats or Ints is set.
	Floats []float64
	Ints   []int64
}

// Float64Array creates an Array with float64 values. If shape is not given, it is a vector.
func Float64Array(values []float64, shape ...int) *Array {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	return &Array{Shape: shape, Floats: values}
}

// Int64Array creates an Array with int64 values. If shape is not given, it is a vector.
func Int64Array(values []int64, shape ...int) *Array {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	return &Array{Shape: shape, Ints: values}
}

// Size of the array, as given by its shape.
func (a *Array) Size() int {
	size := 1
	for _, dim := range a.Shape {
		size *= dim
	}
	return size
}

// AsFloat64 returns the values of the array converted to float64.
func (a *Array) AsFloat64() []float64 {
	if a.Floats != nil {
		return a.Floats
	}
	return convert[int64, float64](a.Ints)
}

// AsInt64 returns the values of the array converted to int64 (float values are truncated).
func (a *Array) AsInt64() []int64 {
	if a.Ints != nil {
		return a.Ints
	}
	return convert[float64, int64](a.Floats)
}

func convert[From, To constraints.Integer | constraints.Float](values []From) []To {
	converted := make([]To, len(values))
	for ii, v := range values {
		converted[ii] = To(v)
	}
	return converted
}

// Archive is an ordered collection of named arrays.
type Archive struct {
	names  []string
	arrays map[string]*Array
}

// New creates an empty Archive.
func New() *Archive {
	return &Archive{arrays: make(map[string]*Array)}
}

// Set the array for the given name, and returns the Archive itself, so calls can be cascaded.
func (ar *Archive) Set(name string, array *Array) *Archive {
	if _, found := ar.arrays[name]; !found {
		ar.names = append(ar.names, name)
	}
	ar.arrays[name] = array
	return ar
}

// Get returns the array for the given name.
func (ar *Archive) Get(name string) (array *Array, found bool) {
	array, found = ar.arrays[name]
	return
}

// Require returns the array for the given name, or an error if it is missing.
func (ar *Archive) Require(name string) (*Array, error) {
	array, found := ar.arrays[name]
	if !found {
		return nil, errors.Errorf("npz: array %q not found in archive, available arrays: %q", name, ar.names)
	}
	return array, nil
}

// Names of the arrays, in the order they were set (or read).
func (ar *Archive) Names() []string {
	return append([]string(nil), ar.names...)
}

// Save the archive to the given file path.
func (ar *Archive) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "npz: failed to create %q", filePath)
	}
	if err = ar.Write(f); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "npz: writing %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "npz: failed to close %q", filePath)
	}
	return nil
}

// Write the archive as a zip file to w.
func (ar *Archive) Write(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, name := range ar.names {
		npyName := name + ".npy"
		entry, err := zw.Create(npyName)
		if err != nil {
			return errors.Wrapf(err, "npz: failed to create %q in archive", npyName)
		}
		if err = WriteNpy(entry, ar.arrays[name]); err != nil {
			return errors.WithMessagef(err, "npz: failed to write array %q to archive", name)
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "npz: failed to close zip archive")
	}
	return nil
}

// Load an archive from the given file path.
func Load(filePath string) (*Archive, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "npz: failed to open %q", filePath)
	}
	defer func() { _ = file.Close() }()

	// zip.NewReader needs the size of the file.
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "npz: failed to stat %q", filePath)
	}
	ar, err := Read(file, info.Size())
	if err != nil {
		return nil, errors.WithMessagef(err, "npz: loading %q", filePath)
	}
	return ar, nil
}

// Read an archive from a zip file of the given size. Entries that are not ".npy" files are skipped.
func Read(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "npz: invalid zip archive")
	}
	ar := New()
	for _, entry := range zr.File {
		cleanPath := path.Clean(entry.Name)
		if path.IsAbs(cleanPath) || strings.HasPrefix(cleanPath, "..") {
			return nil, errors.Errorf("npz: invalid path %q in archive (normalized to %q)", entry.Name, cleanPath)
		}
		if !strings.HasSuffix(entry.Name, ".npy") {
			continue
		}
		limit := int64(math.MaxInt64)
		if entry.UncompressedSize64 < math.MaxInt64 {
			limit = int64(entry.UncompressedSize64)
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "npz: failed to open %q in archive", entry.Name)
		}
		array, err := ReadNpy(rc, limit)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "npz: failed to read array %q", entry.Name)
		}
		ar.Set(strings.TrimSuffix(entry.Name, ".npy"), array)
	}
	return ar, nil
}
