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

// Package params implements Tree, an ordered collection of named float64 variables.
//
// A Tree is what optimizers initialize their state from, what gradients are computed
// against and what learners persist. Trees are treated as values: operations that
// change values (Apply, FromFlat, Clone, ...) return a new Tree with the same structure,
// and leave the original untouched.
//
// Structural mismatches (different names, order or shapes) between trees used together
// are programming errors and panic with exceptions.Panicf; use CheckCompatible to test
// for it beforehand and get an error instead.
package params

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Variable is a named flat array of float64 with a shape.
type Variable struct {
	// Name is unique within a Tree. By convention scopes are separated by "/".
	Name string

	// Shape of the variable. The product of the dimensions equals len(Value).
	// A scalar has an empty shape.
	Shape []int

	// Value holds the flat data, in row-major order.
	Value []float64
}

// Size returns the number of scalar values in the variable.
func (v *Variable) Size() int {
	return len(v.Value)
}

// ShapeString returns the shape formatted as "(d0, d1, ...)".
func (v *Variable) ShapeString() string {
	parts := make([]string, len(v.Shape))
	for ii, dim := range v.Shape {
		parts[ii] = fmt.Sprintf("%d", dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ShapeSize returns the number of elements described by shape.
func ShapeSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// Tree is an ordered collection of variables. The zero value is not usable, create it with New.
type Tree struct {
	vars   []*Variable
	byName map[string]int
}

// New creates an empty Tree.
func New() *Tree {
	return &Tree{byName: make(map[string]int)}
}

// Add a variable with the given name, value and shape and returns the Tree itself, so calls can be cascaded.
//
// If no shape is given, the variable is a vector of len(value).
// The value slice is owned by the Tree after the call.
//
// It panics if the name is already in use or the shape doesn't match the length of value.
func (t *Tree) Add(name string, value []float64, shape ...int) *Tree {
	if _, found := t.byName[name]; found {
		exceptions.Panicf("params.Tree: variable %q already exists", name)
	}
	if len(shape) == 0 {
		shape = []int{len(value)}
	}
	if ShapeSize(shape) != len(value) {
		exceptions.Panicf("params.Tree: variable %q has shape %v (size %d) but %d values were given",
			name, shape, ShapeSize(shape), len(value))
	}
	t.byName[name] = len(t.vars)
	t.vars = append(t.vars, &Variable{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: value,
	})
	return t
}

// Get returns the variable with the given name.
func (t *Tree) Get(name string) (v *Variable, found bool) {
	idx, found := t.byName[name]
	if !found {
		return nil, false
	}
	return t.vars[idx], true
}

// MustGet returns the variable with the given name, or panics if it doesn't exist.
func (t *Tree) MustGet(name string) *Variable {
	v, found := t.Get(name)
	if !found {
		exceptions.Panicf("params.Tree: variable %q not found, variables are %q", name, t.Names())
	}
	return v
}

// NumVariables returns the number of variables.
func (t *Tree) NumVariables() int {
	return len(t.vars)
}

// Size returns the total number of scalars over all variables.
func (t *Tree) Size() int {
	size := 0
	for _, v := range t.vars {
		size += len(v.Value)
	}
	return size
}

// Names of the variables, in the order they were added.
func (t *Tree) Names() []string {
	names := make([]string, len(t.vars))
	for ii, v := range t.vars {
		names[ii] = v.Name
	}
	return names
}

// EnumerateVariables calls fn for each variable, in order.
// fn must not change the structure of the variable.
func (t *Tree) EnumerateVariables(fn func(v *Variable)) {
	for _, v := range t.vars {
		fn(v)
	}
}

// Flatten concatenates all values in one newly allocated slice.
func (t *Tree) Flatten() []float64 {
	flat := make([]float64, 0, t.Size())
	for _, v := range t.vars {
		flat = append(flat, v.Value...)
	}
	return flat
}

// FromFlat creates a new Tree with the same structure as t and values copied from flat.
// It panics if len(flat) != t.Size().
func (t *Tree) FromFlat(flat []float64) *Tree {
	if len(flat) != t.Size() {
		exceptions.Panicf("params.Tree.FromFlat: tree has %d values, but %d were given", t.Size(), len(flat))
	}
	newT := t.emptyLike()
	pos := 0
	for ii, v := range t.vars {
		value := make([]float64, len(v.Value))
		copy(value, flat[pos:pos+len(v.Value)])
		pos += len(v.Value)
		newT.vars[ii].Value = value
	}
	return newT
}

// emptyLike creates the same structure, with nil values.
func (t *Tree) emptyLike() *Tree {
	newT := &Tree{
		vars:   make([]*Variable, len(t.vars)),
		byName: make(map[string]int, len(t.vars)),
	}
	for ii, v := range t.vars {
		newT.vars[ii] = &Variable{Name: v.Name, Shape: append([]int(nil), v.Shape...)}
		newT.byName[v.Name] = ii
	}
	return newT
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	return Map(t, func(v *Variable) []float64 {
		return append([]float64(nil), v.Value...)
	})
}

// ZerosLike returns a Tree with the same structure as t, filled with zeros.
func (t *Tree) ZerosLike() *Tree {
	return Map(t, func(v *Variable) []float64 {
		return make([]float64, len(v.Value))
	})
}

// Map creates a new Tree with the same structure as t, with the values returned by fn for each variable.
// fn must return a slice with the same length as v.Value, and it may return v.Value itself modified in place
// only if t is no longer used.
func Map(t *Tree, fn func(v *Variable) []float64) *Tree {
	newT := t.emptyLike()
	for ii, v := range t.vars {
		value := fn(v)
		if len(value) != len(v.Value) {
			exceptions.Panicf("params.Map: function returned %d values for variable %q, which has %d values",
				len(value), v.Name, len(v.Value))
		}
		newT.vars[ii].Value = value
	}
	return newT
}

// Map2 creates a new Tree with the values returned by fn, called for each pair of variables of a and b.
// It panics if a and b are not compatible.
func Map2(a, b *Tree, fn func(va, vb *Variable) []float64) *Tree {
	if err := a.CheckCompatible(b); err != nil {
		panic(err)
	}
	return Map(a, func(va *Variable) []float64 {
		return fn(va, b.vars[a.byName[va.Name]])
	})
}

// Apply returns a new Tree with the values of t plus updates.
// It panics if updates doesn't have the same structure as t.
func (t *Tree) Apply(updates *Tree) *Tree {
	return Map2(t, updates, func(v, u *Variable) []float64 {
		value := append([]float64(nil), v.Value...)
		floats.Add(value, u.Value)
		return value
	})
}

// Scale returns a new Tree with all values of t multiplied by c.
func (t *Tree) Scale(c float64) *Tree {
	return Map(t, func(v *Variable) []float64 {
		value := append([]float64(nil), v.Value...)
		floats.Scale(c, value)
		return value
	})
}

// Norm returns the L2 norm of all the values of the Tree taken together.
func (t *Tree) Norm() float64 {
	var sum float64
	for _, v := range t.vars {
		n := floats.Norm(v.Value, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// IsFinite returns false if any value is NaN or infinite.
func (t *Tree) IsFinite() bool {
	for _, v := range t.vars {
		for _, x := range v.Value {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

// CheckCompatible returns an error if other doesn't have the same variables (names, order and shapes) as t.
func (t *Tree) CheckCompatible(other *Tree) error {
	if other == nil {
		return errors.New("params.Tree: incompatible with nil tree")
	}
	if len(t.vars) != len(other.vars) {
		return errors.Errorf("params.Tree: incompatible trees, %d variables (%q) vs %d variables (%q)",
			len(t.vars), t.Names(), len(other.vars), other.Names())
	}
	for ii, v := range t.vars {
		o := other.vars[ii]
		if v.Name != o.Name {
			return errors.Errorf("params.Tree: incompatible trees, variable #%d is %q in one and %q in the other",
				ii, v.Name, o.Name)
		}
		if v.ShapeString() != o.ShapeString() || len(v.Value) != len(o.Value) {
			return errors.Errorf("params.Tree: incompatible shapes for variable %q: %s vs %s",
				v.Name, v.ShapeString(), o.ShapeString())
		}
	}
	return nil
}

// Equal returns whether both trees have the same structure and exactly the same values.
func Equal(a, b *Tree) bool {
	if a.CheckCompatible(b) != nil {
		return false
	}
	for ii, v := range a.vars {
		if !floats.Equal(v.Value, b.vars[ii].Value) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, listing variables and their shapes.
func (t *Tree) String() string {
	parts := make([]string, len(t.vars))
	for ii, v := range t.vars {
		parts[ii] = fmt.Sprintf("%s%s", v.Name, v.ShapeString())
	}
	return fmt.Sprintf("params.Tree[%d values: %s]", t.Size(), strings.Join(parts, ", "))
}

// Trainable returns the tree itself, so a plain Tree can be differentiated directly.
func (t *Tree) Trainable() *Tree { return t }

// WithTrainable returns p: a plain Tree is made only of trainable variables.
func (t *Tree) WithTrainable(p *Tree) *Tree { return p }
