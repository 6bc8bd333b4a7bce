// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "github.com/gomlx/gopjrt/dtypes"

// Shape describes the element type and dimensions of the buffer an
// instruction defines, mirroring gomlx's own shapes.Shape closely enough to
// reuse dtypes.DType's byte-width table instead of inventing another one.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// ScalarShape returns the shape of a single dtype element.
func ScalarShape(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// MakeShape returns the shape of a dense array of dtype elements with the
// given dimensions.
func MakeShape(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{DType: dtype, Dimensions: append([]int{}, dimensions...)}
}

// Size returns the number of elements the shape holds: the product of its
// dimensions, or 1 for a scalar.
func (s Shape) Size() int {
	size := 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return size
}

// Memory returns the number of bytes needed to store an array of this
// shape: the element count times the dtype's byte width.
func (s Shape) Memory() int64 {
	return int64(s.DType.Memory()) * int64(s.Size())
}
