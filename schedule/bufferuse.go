// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/pointsto"
)

// bufferUseIndex is the per-computation index built once before scheduling
// begins (component 4.A): for every instruction, the logical buffers it
// reads; for every buffer, how many not-yet-scheduled uses remain.
type bufferUseIndex struct {
	uses                map[int64][]pointsto.LogicalBuffer // keyed by instruction ID
	unscheduledUseCount map[pointsto.LogicalBuffer]int64
}

// newBufferUseIndex builds the buffer-use index for computation. Every
// buffer reachable from the root's points-to set (live-out buffers) gets
// one extra implicit use, accounting for the buffer outliving the
// computation.
func newBufferUseIndex(c *ir.Computation, pts *pointsto.Analysis) *bufferUseIndex {
	idx := &bufferUseIndex{
		uses:                make(map[int64][]pointsto.LogicalBuffer, c.InstructionCount()),
		unscheduledUseCount: make(map[pointsto.LogicalBuffer]int64),
	}

	for _, instr := range c.Instructions() {
		for _, b := range pts.BuffersDefinedByInstruction(instr) {
			if _, ok := idx.unscheduledUseCount[b]; !ok {
				idx.unscheduledUseCount[b] = 0
			}
		}
	}

	for _, instr := range c.Instructions() {
		seen := make(map[pointsto.LogicalBuffer]bool)
		var used []pointsto.LogicalBuffer
		for _, operand := range instr.Operands() {
			for _, b := range pts.PointsToSet(operand) {
				if seen[b] {
					continue
				}
				seen[b] = true
				used = append(used, b)
				idx.unscheduledUseCount[b]++
			}
		}
		idx.uses[instr.ID()] = used
	}

	for _, b := range pts.PointsToSet(c.Root()) {
		idx.unscheduledUseCount[b]++
	}

	return idx
}

// usesOf returns the deduplicated logical buffers instr reads.
func (idx *bufferUseIndex) usesOf(instr *ir.Instruction) []pointsto.LogicalBuffer {
	return idx.uses[instr.ID()]
}

// ignoreBuffer reports whether a buffer's defining instruction is a
// parameter or constant: such buffers contribute zero to bytes-freed and
// bytes-defined accounting (spec invariant: ignored instructions still
// appear in the emitted sequence, they just don't move the heuristics).
func ignoreBuffer(b pointsto.LogicalBuffer) bool {
	return b.Instruction.Opcode().IsIgnored()
}

// priority computes the list scheduler's priority pair for instr:
// bytes_freed_if_scheduled (freed minus defined minus the largest
// sub-computation peak instr calls) and its user count. Ignored buffers
// (parameter/constant) are excluded from freed and defined.
func priority(instr *ir.Instruction, bufIdx *bufferUseIndex, pts *pointsto.Analysis, sizeFn pointsto.SizeFunc, peaks PeakMap) (bytesFreed int64, userCount int) {
	var freed, defined, maxSub int64
	for _, b := range bufIdx.usesOf(instr) {
		if ignoreBuffer(b) {
			continue
		}
		if bufIdx.unscheduledUseCount[b] == 1 {
			freed += sizeFn(b)
		}
	}
	for _, b := range pts.BuffersDefinedByInstruction(instr) {
		if ignoreBuffer(b) {
			continue
		}
		defined += sizeFn(b)
	}
	for _, sub := range instr.CalledComputations() {
		if p, ok := peaks[sub]; ok && p > maxSub {
			maxSub = p
		}
	}
	return freed - defined - maxSub, instr.UserCount()
}
