// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package heapsim provides a reference heap simulator: given a valid
// sequential ordering of a computation's instructions, it estimates the
// peak simultaneously-live buffer bytes required to execute it.
//
// This is the external collaborator the scheduler spec treats as given
// ("a pure function from a sequence to a peak byte count"); it is
// implemented here, concretely, so the selection meta-scheduler's behavior
// is testable end-to-end.
package heapsim

import (
	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/pointsto"
	"github.com/pkg/errors"
)

// MinimumMemoryForComputation estimates the peak simultaneously-live
// buffer bytes needed to execute sequence, a valid ordering of
// computation's instructions, given points-to analysis pts, the
// buffer-size oracle sizeFn, and the already-computed peak memory of any
// sub-computations sequence's instructions call.
//
// A buffer is freed at the step of the instruction that is its last use
// (per pts), immediately before that instruction's own output buffers are
// allocated -- so an instruction that simply forwards its only input's
// last use does not transiently require both buffers live at once.
// Buffers reachable from the computation's root are never freed: they are
// live out of the computation.
func MinimumMemoryForComputation(computation *ir.Computation, sequence []*ir.Instruction, pts *pointsto.Analysis, sizeFn pointsto.SizeFunc, peaksByComputation map[*ir.Computation]int64) (int64, error) {
	if len(sequence) != computation.InstructionCount() {
		return 0, errors.Errorf(
			"heapsim: sequence has %d instructions but computation %q has %d",
			len(sequence), computation.Name(), computation.InstructionCount())
	}

	position := make(map[int64]int, len(sequence))
	for idx, instr := range sequence {
		position[instr.ID()] = idx
	}

	liveOut := make(map[pointsto.LogicalBuffer]bool)
	for _, b := range pts.PointsToSet(computation.Root()) {
		liveOut[b] = true
	}

	uses := make([][]pointsto.LogicalBuffer, len(sequence))
	lastUse := make(map[pointsto.LogicalBuffer]int)
	for idx, instr := range sequence {
		used := uniqueUses(instr, pts)
		uses[idx] = used
		for _, b := range used {
			lastUse[b] = idx
		}
	}

	var live, peak int64
	for idx, instr := range sequence {
		for _, b := range uses[idx] {
			if liveOut[b] {
				continue
			}
			if lastUse[b] == idx {
				live -= sizeFn(b)
			}
		}

		var maxSub int64
		for _, sub := range instr.CalledComputations() {
			if p, ok := peaksByComputation[sub]; ok && p > maxSub {
				maxSub = p
			}
		}

		for _, b := range pts.BuffersDefinedByInstruction(instr) {
			live += sizeFn(b)
		}

		if live+maxSub > peak {
			peak = live + maxSub
		}
	}

	return peak, nil
}

// uniqueUses returns the deduplicated set of logical buffers instr reads,
// via points-to analysis on its operands.
func uniqueUses(instr *ir.Instruction, pts *pointsto.Analysis) []pointsto.LogicalBuffer {
	seen := make(map[pointsto.LogicalBuffer]bool)
	var out []pointsto.LogicalBuffer
	for _, operand := range instr.Operands() {
		for _, b := range pts.PointsToSet(operand) {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	return out
}
