// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"sort"

	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/pointsto"
	"golang.org/x/exp/slices"
)

// dfsAttrs holds the two cumulative attributes DFSMemoryScheduler computes
// per instruction, over its transitive operand closure.
type dfsAttrs struct {
	extraUsers int64
	totalSizes int64
}

// computeDFSAttrs computes extra_users and total_sizes (component 4.C) for
// every instruction of computation, applying both saturation caps: a
// running cumulative_total_size bounding total_sizes, and total_hlos
// bounding extra_users. Iterates computation.PostOrder(), which already
// visits every operand before its users, so each instruction's operand
// attributes are available by the time it is processed -- no extra
// recursion needed.
func computeDFSAttrs(computation *ir.Computation, pts *pointsto.Analysis, sizeFn pointsto.SizeFunc, totalHLOs int64) map[int64]dfsAttrs {
	attrs := make(map[int64]dfsAttrs, computation.InstructionCount())
	var cumulativeTotalSize int64

	for _, instr := range computation.PostOrder() {
		if instr.Opcode().IsIgnored() {
			attrs[instr.ID()] = dfsAttrs{}
			continue
		}

		var ownSize int64
		for _, b := range pts.BuffersDefinedByInstruction(instr) {
			ownSize += sizeFn(b)
		}
		cumulativeTotalSize += ownSize

		var extraUsers, totalSizes int64
		if n := instr.UserCount(); n > 0 {
			extraUsers = int64(n - 1)
		}
		totalSizes = ownSize

		seen := make(map[int64]bool, len(instr.Operands()))
		for _, operand := range instr.Operands() {
			if seen[operand.ID()] {
				continue
			}
			seen[operand.ID()] = true
			opAttrs := attrs[operand.ID()]
			extraUsers += opAttrs.extraUsers
			totalSizes += opAttrs.totalSizes
		}

		if totalSizes > cumulativeTotalSize {
			totalSizes = cumulativeTotalSize
		}
		if extraUsers > totalHLOs {
			extraUsers = totalHLOs
		}
		attrs[instr.ID()] = dfsAttrs{extraUsers: extraUsers, totalSizes: totalSizes}
	}
	return attrs
}

// DFSMemoryScheduler is the post-order scheduler with operand-visit
// tiebreaking by transitive fan-out then transitive size then name
// (component 4.C).
func DFSMemoryScheduler(computation *ir.Computation, pts *pointsto.Analysis, sizeFn pointsto.SizeFunc, peaks PeakMap) (Sequence, error) {
	attrs := computeDFSAttrs(computation, pts, sizeFn, computation.Module().NumUniqueInstructionIDs())

	less := func(a, b *ir.Instruction) bool {
		aa, ba := attrs[a.ID()], attrs[b.ID()]
		if aa.extraUsers != ba.extraUsers {
			return aa.extraUsers > ba.extraUsers
		}
		if aa.totalSizes != ba.totalSizes {
			return aa.totalSizes > ba.totalSizes
		}
		return a.Name() < b.Name()
	}

	visited := make(map[int64]bool, computation.InstructionCount())
	out := make(Sequence, 0, computation.InstructionCount())

	var visit func(instr *ir.Instruction)
	visit = func(instr *ir.Instruction) {
		if visited[instr.ID()] {
			return
		}
		visited[instr.ID()] = true

		for _, pred := range instr.ControlPredecessors() {
			visit(pred)
		}

		operands := slices.Clone(instr.Operands())
		sort.SliceStable(operands, func(i, j int) bool { return less(operands[i], operands[j]) })
		for _, operand := range operands {
			visit(operand)
		}

		out = append(out, instr)
	}

	for _, instr := range computation.Instructions() {
		visit(instr)
	}
	return out, nil
}
