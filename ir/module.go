// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "github.com/google/uuid"

// Module is an ordered collection of computations. IDs assigned to
// instructions are unique across the whole module, not just within a
// single computation, so they remain a valid key after a computation is
// mutated and re-scheduled.
type Module struct {
	name    string
	buildID uuid.UUID

	computations []*Computation
	nextID       int64

	instructionsByID map[int64]*Instruction
}

// NewModule creates an empty module. BuildID is a fresh random stamp,
// useful for UpdateSchedule callers to notice they are patching a schedule
// against a module generation that differs from the one it was originally
// computed for.
func NewModule(name string) *Module {
	return &Module{
		name:             name,
		buildID:          uuid.New(),
		instructionsByID: make(map[int64]*Instruction),
	}
}

// Name returns the module's display name.
func (m *Module) Name() string { return m.name }

// BuildID returns the module's build stamp.
func (m *Module) BuildID() uuid.UUID { return m.buildID }

// NewComputation creates a new, empty computation owned by this module and
// appends it to Computations().
func (m *Module) NewComputation(name string) *Computation {
	c := &Computation{
		module: m,
		name:   name,
		byID:   make(map[int64]*Instruction),
	}
	m.computations = append(m.computations, c)
	return c
}

// Computations returns every computation in the module, in the order they
// were created.
func (m *Module) Computations() []*Computation { return m.computations }

// NonFusionComputations returns every computation in the module that is
// not marked as a fusion computation, in creation order.
func (m *Module) NonFusionComputations() []*Computation {
	out := make([]*Computation, 0, len(m.computations))
	for _, c := range m.computations {
		if !c.isFusion {
			out = append(out, c)
		}
	}
	return out
}

// ComputationPostOrder returns the module's computations ordered so that
// every sub-computation a computation calls (directly or transitively)
// appears before it. This is the order the scheduler driver processes
// computations in, so a caller's peak-memory map already has its callees'
// peaks recorded (see CalledComputations() on Instruction).
func (m *Module) ComputationPostOrder() []*Computation {
	visited := make(map[*Computation]bool, len(m.computations))
	order := make([]*Computation, 0, len(m.computations))
	var visit func(c *Computation)
	visit = func(c *Computation) {
		if visited[c] {
			return
		}
		visited[c] = true
		for _, instr := range c.instructions {
			for _, sub := range instr.calledComps {
				visit(sub)
			}
		}
		order = append(order, c)
	}
	for _, c := range m.computations {
		visit(c)
	}
	return order
}

// NumUniqueInstructionIDs returns the total number of unique instruction
// IDs ever assigned in this module -- used by the DFS scheduler's
// saturation arithmetic as an upper bound on fan-out sums.
func (m *Module) NumUniqueInstructionIDs() int64 { return m.nextID }

// InstructionByID looks up any instruction in the module, regardless of
// which computation owns it, by its unique id.
func (m *Module) InstructionByID(id int64) (*Instruction, bool) {
	instr, ok := m.instructionsByID[id]
	return instr, ok
}

func (m *Module) nextInstructionID() int64 {
	m.nextID++
	return m.nextID
}

func (m *Module) registerInstruction(instr *Instruction) {
	m.instructionsByID[instr.id] = instr
}
