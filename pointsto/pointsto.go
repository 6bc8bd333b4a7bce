// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pointsto provides a points-to analysis over an ir.Module: for
// each instruction, the logical buffers it defines, and the flattened set
// of logical buffers the instruction's value points to (its own buffers,
// except for pass-through instructions such as get-tuple-element, whose
// points-to set aliases an operand's buffer instead of defining a fresh
// one).
//
// This is the external collaborator the scheduler spec treats as given; it
// is implemented here, concretely, so the scheduler is independently
// testable.
package pointsto

import (
	"fmt"

	"github.com/gomlx/memsched/ir"
)

// LogicalBuffer is a distinct value at a specific shape index of a specific
// producing instruction.
type LogicalBuffer struct {
	Instruction *ir.Instruction
	ShapeIndex  int
}

// String renders the buffer as e.g. "%add.3" or "%tuple.1{2}" for a
// non-zero shape index.
func (b LogicalBuffer) String() string {
	if b.ShapeIndex == 0 {
		return "%" + b.Instruction.Name()
	}
	return fmt.Sprintf("%%%s{%d}", b.Instruction.Name(), b.ShapeIndex)
}

// SizeFunc is the buffer-size oracle: a pure function from a logical
// buffer to its non-negative byte count.
type SizeFunc func(LogicalBuffer) int64

// ShapeSizeFunc is a SizeFunc that reads its answer off the defining
// instruction's own Shape instead of a caller-maintained lookup table,
// mirroring how gomlx computes a tensor's byte footprint from its
// shapes.Shape (DType.Memory() times element count). Only ShapeIndex 0 is
// sized from the Shape; any other shape index is sized 0. The buffers a
// tuple defines are sized like any other defined buffer, so a tuple's
// ShapeIndex 0 buffer gets the tuple instruction's own Shape and its other
// element buffers get 0.
func ShapeSizeFunc(b LogicalBuffer) int64 {
	if b.ShapeIndex != 0 {
		return 0
	}
	return b.Instruction.Shape().Memory()
}

// Analysis is a points-to analysis computed over a module. It is read-only
// once built and safe to share across concurrent readers (it is never
// mutated after Run returns).
type Analysis struct {
	module *ir.Module

	defines map[int64][]LogicalBuffer // keyed by instruction ID

	ptsAtCache map[ptsAtKey][]LogicalBuffer
	ptsCache   map[int64][]LogicalBuffer
}

type ptsAtKey struct {
	instrID    int64
	shapeIndex int
}

// Run computes points-to analysis for every instruction in module.
func Run(module *ir.Module) *Analysis {
	a := &Analysis{
		module:     module,
		defines:    make(map[int64][]LogicalBuffer),
		ptsAtCache: make(map[ptsAtKey][]LogicalBuffer),
		ptsCache:   make(map[int64][]LogicalBuffer),
	}
	for _, c := range module.Computations() {
		for _, instr := range c.Instructions() {
			if instr.Opcode() == ir.OpGetTupleElement {
				// Defines no buffer of its own: its points-to set aliases
				// the corresponding element of its operand's, resolved by
				// pointsToSetAt. A defines-entry here would be a buffer
				// nothing's points-to set ever names, so it would never be
				// freed or counted live-out by the heap simulator -- a
				// permanent phantom addition to every peak estimate.
				continue
			}
			n := instr.NumShapeIndices()
			bufs := make([]LogicalBuffer, n)
			for idx := 0; idx < n; idx++ {
				bufs[idx] = LogicalBuffer{Instruction: instr, ShapeIndex: idx}
			}
			a.defines[instr.ID()] = bufs
		}
	}
	for _, c := range module.Computations() {
		for _, instr := range c.Instructions() {
			a.PointsToSet(instr)
		}
	}
	return a
}

// BuffersDefinedByInstruction returns the logical buffers instr defines.
func (a *Analysis) BuffersDefinedByInstruction(instr *ir.Instruction) []LogicalBuffer {
	return a.defines[instr.ID()]
}

// PointsToSet returns the flattened set of logical buffers instr's value
// points to, across all of its shape indices, deduplicated.
func (a *Analysis) PointsToSet(instr *ir.Instruction) []LogicalBuffer {
	if v, ok := a.ptsCache[instr.ID()]; ok {
		return v
	}
	seen := make(map[LogicalBuffer]bool)
	var out []LogicalBuffer
	for idx := 0; idx < instr.NumShapeIndices(); idx++ {
		for _, b := range a.pointsToSetAt(instr, idx) {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	a.ptsCache[instr.ID()] = out
	return out
}

// pointsToSetAt resolves the points-to set of a single shape index of
// instr's value, following get-tuple-element/tuple aliases rather than
// treating them as defining a fresh buffer.
func (a *Analysis) pointsToSetAt(instr *ir.Instruction, shapeIndex int) []LogicalBuffer {
	key := ptsAtKey{instr.ID(), shapeIndex}
	if v, ok := a.ptsAtCache[key]; ok {
		return v
	}

	var result []LogicalBuffer
	switch {
	case instr.Opcode() == ir.OpTuple && shapeIndex < len(instr.Operands()):
		result = a.PointsToSet(instr.Operands()[shapeIndex])
	case instr.Opcode() == ir.OpGetTupleElement && len(instr.Operands()) == 1:
		result = a.pointsToSetAt(instr.Operands()[0], instr.TupleIndex())
	default:
		result = []LogicalBuffer{{Instruction: instr, ShapeIndex: shapeIndex}}
	}

	a.ptsAtCache[key] = result
	return result
}
