// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "github.com/pkg/errors"

// Computation is a set of instructions forming a DAG under operand and
// control edges, with a distinguished root instruction. A Computation
// marked as a fusion computation is skipped by the scheduler's module
// driver and rejected with an error by ScheduleOneComputation.
type Computation struct {
	module   *Module
	name     string
	isFusion bool

	instructions []*Instruction
	byID         map[int64]*Instruction
	root         *Instruction

	postOrder []*Instruction // cached, invalidated on structural edits.
}

// Module returns the module this computation belongs to.
func (c *Computation) Module() *Module { return c.module }

// Name returns the computation's display name.
func (c *Computation) Name() string { return c.name }

// IsFusion reports whether this is a fusion computation, excluded from
// scheduling.
func (c *Computation) IsFusion() bool { return c.isFusion }

// MarkFusion marks this computation as a fusion computation.
func (c *Computation) MarkFusion() { c.isFusion = true }

// Instructions returns the computation's instructions in the order they
// were added.
func (c *Computation) Instructions() []*Instruction { return c.instructions }

// InstructionCount returns the number of instructions in the computation.
func (c *Computation) InstructionCount() int { return len(c.instructions) }

// Root returns the computation's distinguished root instruction.
func (c *Computation) Root() *Instruction { return c.root }

// SetRoot sets the computation's distinguished root instruction. instr must
// already belong to this computation.
func (c *Computation) SetRoot(instr *Instruction) {
	c.root = instr
}

// InstructionByID looks up an instruction of this computation by its
// module-wide unique id.
func (c *Computation) InstructionByID(id int64) (*Instruction, bool) {
	instr, ok := c.byID[id]
	return instr, ok
}

// AddInstruction creates and appends a new instruction with the given
// operands, wiring up the operands' Users() automatically. The new
// instruction becomes the computation's root until superseded, matching
// the common case of building a straight-line computation by appending.
func (c *Computation) AddInstruction(name string, op Opcode, operands ...*Instruction) *Instruction {
	instr := &Instruction{
		id:          c.module.nextInstructionID(),
		name:        name,
		op:          op,
		computation: c,
		operands:    append([]*Instruction{}, operands...),
	}
	for _, operand := range operands {
		operand.users = append(operand.users, instr)
	}
	c.instructions = append(c.instructions, instr)
	c.byID[instr.id] = instr
	c.module.registerInstruction(instr)
	c.root = instr
	c.invalidatePostOrder()
	return instr
}

// AddTuple creates an OpTuple instruction packing elements into a single
// multi-buffer result, one logical buffer per element at consecutive shape
// indices.
func (c *Computation) AddTuple(name string, elements ...*Instruction) *Instruction {
	instr := c.AddInstruction(name, OpTuple, elements...)
	instr.numShapeIndices = len(elements)
	return instr
}

// AddGetTupleElement creates an OpGetTupleElement instruction reading index
// out of tuple's result.
func (c *Computation) AddGetTupleElement(name string, tuple *Instruction, index int) *Instruction {
	instr := c.AddInstruction(name, OpGetTupleElement, tuple)
	instr.tupleIndex = index
	return instr
}

// AddCall creates an OpCall instruction invoking callee with the given
// operands.
func (c *Computation) AddCall(name string, callee *Computation, operands ...*Instruction) *Instruction {
	instr := c.AddInstruction(name, OpCall, operands...)
	instr.calledComps = append(instr.calledComps, callee)
	return instr
}

func (c *Computation) invalidatePostOrder() {
	c.postOrder = nil
}

// PostOrder returns a deterministic topological order over this
// computation's instructions: every operand and control predecessor of an
// instruction appears before it. Ties among otherwise-independent
// instructions are broken by insertion order, so the result is stable for
// a fixed sequence of AddInstruction/AddControlEdge calls.
func (c *Computation) PostOrder() []*Instruction {
	if c.postOrder != nil {
		return c.postOrder
	}
	visited := make(map[int64]bool, len(c.instructions))
	order := make([]*Instruction, 0, len(c.instructions))
	var visit func(instr *Instruction)
	visit = func(instr *Instruction) {
		if visited[instr.id] {
			return
		}
		visited[instr.id] = true
		for _, operand := range instr.operands {
			visit(operand)
		}
		for _, pred := range instr.controlPredecessors {
			visit(pred)
		}
		order = append(order, instr)
	}
	for _, instr := range c.instructions {
		visit(instr)
	}
	c.postOrder = order
	return order
}

// Validate checks basic structural well-formedness: a root is set and
// belongs to the computation, and every instruction's operands/control
// predecessors belong to the same computation (cross-computation edges are
// not supported -- only CalledComputations() crosses computation
// boundaries).
func (c *Computation) Validate() error {
	if c.root == nil {
		return errors.Errorf("computation %q has no root instruction", c.name)
	}
	if _, ok := c.byID[c.root.id]; !ok {
		return errors.Errorf("computation %q's root does not belong to it", c.name)
	}
	for _, instr := range c.instructions {
		for _, operand := range instr.operands {
			if operand.computation != c {
				return errors.Errorf("instruction %s has operand %s from a different computation",
					instr.ShortString(), operand.ShortString())
			}
		}
		for _, pred := range instr.controlPredecessors {
			if pred.computation != c {
				return errors.Errorf("instruction %s has control predecessor %s from a different computation",
					instr.ShortString(), pred.ShortString())
			}
		}
	}
	return nil
}
