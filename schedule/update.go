// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"github.com/gomlx/memsched/ir"
	"k8s.io/klog/v2"
)

// UpdateSchedule incrementally patches moduleSchedule in place so it is
// valid for module's current state, given idSchedule, a previously
// computed schedule encoded as instruction IDs (component 4.F).
//
// For each non-fusion computation: newly added instructions (ids absent
// from idSchedule) are inserted into the sequence as soon as all of their
// operands and control predecessors have been placed; deleted instructions
// (ids present in idSchedule but no longer in the module) are dropped; the
// relative order of surviving instructions is otherwise preserved exactly.
// After patching every computation, VerifySchedule is invoked.
func UpdateSchedule(module *ir.Module, idSchedule IDSchedule, moduleSchedule *ModuleSchedule) (err error) {
	defer recoverCorruption(&err)

	if moduleSchedule.Sequences == nil {
		moduleSchedule.Sequences = make(map[*ir.Computation]Sequence)
	}
	if idSchedule.BuildID != module.BuildID() {
		klog.V(1).InfoS("updating schedule against a different module build",
			"scheduleBuildID", idSchedule.BuildID, "moduleBuildID", module.BuildID())
	}

	for _, c := range module.NonFusionComputations() {
		priorIDs := idSchedule.Sequences[c]
		priorSet := make(map[int64]bool, len(priorIDs))
		for _, id := range priorIDs {
			priorSet[id] = true
		}

		scheduled := make(map[int64]bool, c.InstructionCount())
		pendingOperands := make(map[int64]int)
		newSeq := make(Sequence, 0, c.InstructionCount())
		var worklist []*ir.Instruction

		push := func(instr *ir.Instruction) { worklist = append(worklist, instr) }
		drain := func() {
			for len(worklist) > 0 {
				instr := worklist[0]
				worklist = worklist[1:]
				if scheduled[instr.ID()] {
					throwCorruption("update schedule: %s scheduled twice in computation %q", instr.ShortString(), c.Name())
				}
				scheduled[instr.ID()] = true
				newSeq = append(newSeq, instr)

				successors := make([]*ir.Instruction, 0, instr.UserCount()+len(instr.ControlSuccessors()))
				successors = append(successors, instr.Users()...)
				successors = append(successors, instr.ControlSuccessors()...)
				for _, s := range successors {
					remaining, isNew := pendingOperands[s.ID()]
					if !isNew {
						continue // only newly added instructions are tracked by a counter.
					}
					remaining--
					pendingOperands[s.ID()] = remaining
					if remaining == 0 {
						push(s)
					}
				}
			}
		}

		var newReady []*ir.Instruction
		for _, instr := range c.Instructions() {
			if priorSet[instr.ID()] {
				continue
			}
			n := len(instr.Operands()) + len(instr.ControlPredecessors())
			pendingOperands[instr.ID()] = n
			if n == 0 {
				newReady = append(newReady, instr)
			}
		}
		for _, instr := range newReady {
			push(instr)
		}
		drain()

		for _, id := range priorIDs {
			instr, ok := module.InstructionByID(id)
			if !ok || instr.Computation() != c || scheduled[instr.ID()] {
				continue // deleted, or already placed by the new-instruction cascade.
			}
			push(instr)
			drain()
		}

		if len(newSeq) != c.InstructionCount() {
			throwCorruption("update schedule: patched sequence has %d instructions but computation %q has %d",
				len(newSeq), c.Name(), c.InstructionCount())
		}
		moduleSchedule.Sequences[c] = newSeq
	}
	moduleSchedule.Module = module

	return VerifySchedule(module, moduleSchedule)
}
