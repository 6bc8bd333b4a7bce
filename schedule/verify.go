// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/schedule/schederrors"
)

// VerifySchedule checks that schedule is a valid schedule of module
// (component 4.G):
//
//  1. The set of scheduled computations equals the module's non-fusion
//     computations.
//  2. Every computation's sequence is a permutation of its instructions.
//  3. Every operand edge u->v inside a computation has position(u) < position(v).
//  4. Every control edge p->q inside a computation has position(p) < position(q).
//
// Returns an invariant-violation error identifying the offending
// computation or instruction on the first check that fails.
func VerifySchedule(module *ir.Module, schedule *ModuleSchedule) error {
	expected := module.NonFusionComputations()
	if len(schedule.Sequences) != len(expected) {
		return schederrors.Invariantf(
			"schedule has %d computations but module has %d non-fusion computations",
			len(schedule.Sequences), len(expected))
	}
	for _, c := range expected {
		if _, ok := schedule.Sequences[c]; !ok {
			return schederrors.Invariantf("computation %q is missing from the schedule", c.Name())
		}
	}

	for _, c := range expected {
		seq := schedule.Sequences[c]
		if len(seq) != c.InstructionCount() {
			return schederrors.Invariantf(
				"computation %q: sequence has %d instructions, expected %d",
				c.Name(), len(seq), c.InstructionCount())
		}

		position := make(map[int64]int, len(seq))
		for idx, instr := range seq {
			if instr.Computation() != c {
				return schederrors.Invariantf(
					"computation %q: sequence contains %s, which belongs to computation %q",
					c.Name(), instr.ShortString(), instr.Computation().Name())
			}
			if _, dup := position[instr.ID()]; dup {
				return schederrors.Invariantf(
					"computation %q: %s appears more than once in the sequence", c.Name(), instr.ShortString())
			}
			position[instr.ID()] = idx
		}
		for _, instr := range c.Instructions() {
			if _, ok := position[instr.ID()]; !ok {
				return schederrors.Invariantf(
					"computation %q: %s is missing from the sequence", c.Name(), instr.ShortString())
			}
		}

		for _, instr := range c.Instructions() {
			for _, operand := range instr.Operands() {
				if position[operand.ID()] >= position[instr.ID()] {
					return schederrors.Invariantf(
						"computation %q: operand edge %s -> %s is not respected by the schedule",
						c.Name(), operand.ShortString(), instr.ShortString())
				}
			}
			for _, pred := range instr.ControlPredecessors() {
				if position[pred.ID()] >= position[instr.ID()] {
					return schederrors.Invariantf(
						"computation %q: control edge %s -> %s is not respected by the schedule",
						c.Name(), pred.ShortString(), instr.ShortString())
				}
			}
		}
	}
	return nil
}
