// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"testing"

	"github.com/gomlx/memsched/heapsim"
	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/pointsto"
	"github.com/gomlx/memsched/schedule/schederrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sizesOf(sizes map[string]int64) pointsto.SizeFunc {
	return func(b pointsto.LogicalBuffer) int64 { return sizes[b.Instruction.Name()] }
}

func positionsOf(seq Sequence) map[int64]int {
	pos := make(map[int64]int, len(seq))
	for i, instr := range seq {
		pos[instr.ID()] = i
	}
	return pos
}

func assertRespectsEdges(t *testing.T, c *ir.Computation, seq Sequence) {
	t.Helper()
	require.Len(t, seq, c.InstructionCount())
	pos := positionsOf(seq)
	for _, instr := range c.Instructions() {
		_, ok := pos[instr.ID()]
		require.True(t, ok, "missing %s", instr.ShortString())
		for _, operand := range instr.Operands() {
			assert.Less(t, pos[operand.ID()], pos[instr.ID()])
		}
		for _, pred := range instr.ControlPredecessors() {
			assert.Less(t, pos[pred.ID()], pos[instr.ID()])
		}
	}
}

// S2: a single linear chain, every buffer size 1. All three schedulers
// (and the selector) must return peak 1.
func TestLinearChainAllAlgorithmsPeakOne(t *testing.T) {
	m := ir.NewModule("m")
	c := m.NewComputation("main")
	a := c.AddInstruction("a", ir.OpParameter)
	b := c.AddInstruction("b", ir.OpGeneric, a)
	cc := c.AddInstruction("c", ir.OpGeneric, b)
	d := c.AddInstruction("d", ir.OpGeneric, cc)
	c.SetRoot(d)

	pts := pointsto.Run(m)
	sizeFn := sizesOf(map[string]int64{"a": 1, "b": 1, "c": 1, "d": 1})

	for _, algo := range []struct {
		name string
		fn   Algorithm
	}{
		{"list", ListMemoryScheduler},
		{"dfs", DFSMemoryScheduler},
		{"post-order", PostOrderMemoryScheduler},
		{"default", DefaultMemoryScheduler},
	} {
		t.Run(algo.name, func(t *testing.T) {
			seq, err := algo.fn(c, pts, sizeFn, PeakMap{})
			require.NoError(t, err)
			assertRespectsEdges(t, c, seq)
			peak, err := heapsim.MinimumMemoryForComputation(c, seq, pts, sizeFn, nil)
			require.NoError(t, err)
			assert.EqualValues(t, 1, peak)
		})
	}

	seq, err := ScheduleOneComputation(c, sizeFn)
	require.NoError(t, err)
	assertRespectsEdges(t, c, seq)
	peak, err := heapsim.MinimumMemoryForComputation(c, seq, pts, sizeFn, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, peak)
}

// S3: diamond. Whichever sequence the selector picks, its reported peak
// must match the heap simulator's number for that exact sequence, and
// operand edges must be honored.
func TestDiamondSelectorPeakMatchesSimulator(t *testing.T) {
	m := ir.NewModule("m")
	c := m.NewComputation("main")
	a := c.AddInstruction("a", ir.OpParameter)
	b := c.AddInstruction("b", ir.OpGeneric, a)
	cc := c.AddInstruction("c", ir.OpGeneric, a)
	d := c.AddInstruction("d", ir.OpGeneric, b, cc)
	c.SetRoot(d)

	pts := pointsto.Run(m)
	sizeFn := sizesOf(map[string]int64{"a": 3, "b": 3, "c": 1, "d": 1})

	seq, err := DefaultMemoryScheduler(c, pts, sizeFn, PeakMap{})
	require.NoError(t, err)
	assertRespectsEdges(t, c, seq)

	ms, err := ScheduleComputationsInModule(m, sizeFn, nil)
	require.NoError(t, err)
	assertRespectsEdges(t, c, ms.Sequences[c])
	simPeak, err := heapsim.MinimumMemoryForComputation(c, ms.Sequences[c], pts, sizeFn, nil)
	require.NoError(t, err)
	assert.Equal(t, simPeak, ms.Peaks[c])
}

// S4: a parameter feeding an addition. The bytes-freed priority of the
// addition must exclude the parameter's buffer entirely, so an enormous
// parameter buffer size has no bearing on the scheduling decision.
func TestIgnoredInstructionsExcludedFromPriority(t *testing.T) {
	m := ir.NewModule("m")
	c := m.NewComputation("main")
	a := c.AddInstruction("a", ir.OpParameter)
	b := c.AddInstruction("b", ir.OpGeneric, a)
	c.SetRoot(b)

	pts := pointsto.Run(m)
	bufIdx := newBufferUseIndex(c, pts)

	tiny := sizesOf(map[string]int64{"a": 1, "b": 1})
	huge := sizesOf(map[string]int64{"a": 1_000_000, "b": 1})

	freedTiny, _ := priority(b, bufIdx, pts, tiny, PeakMap{})
	freedHuge, _ := priority(b, bufIdx, pts, huge, PeakMap{})
	assert.Equal(t, freedTiny, freedHuge, "parameter buffer size must not affect bytes_freed_if_scheduled")
}

// S5: incremental update after inserting a new instruction.
func TestUpdateScheduleInsertion(t *testing.T) {
	m := ir.NewModule("m")
	c := m.NewComputation("main")
	a := c.AddInstruction("a", ir.OpParameter)
	b := c.AddInstruction("b", ir.OpGeneric, a)
	cc := c.AddInstruction("c", ir.OpGeneric, b)
	c.SetRoot(cc)

	sizeFn := sizesOf(map[string]int64{"a": 1, "b": 1, "c": 1})
	schedule, err := ScheduleComputationsInModule(m, sizeFn, PostOrderMemoryScheduler)
	require.NoError(t, err)
	idSchedule, err := ComputeIdSchedule(schedule)
	require.NoError(t, err)

	x := c.AddInstruction("x", ir.OpGeneric, a)
	cc2 := c.AddInstruction("c2", ir.OpGeneric, b, x)
	c.SetRoot(cc2)

	err = UpdateSchedule(m, idSchedule, schedule)
	require.NoError(t, err)
	assertRespectsEdges(t, c, schedule.Sequences[c])

	pos := positionsOf(schedule.Sequences[c])
	assert.Less(t, pos[a.ID()], pos[x.ID()])
	assert.Less(t, pos[x.ID()], pos[cc2.ID()])
}

// S6: incremental update after deleting an instruction. The ir package has
// no delete primitive, so this test builds the "before" and "after" module
// generations directly and drives UpdateSchedule with an ID schedule whose
// ids no longer resolve in the new module, exercising the "no longer
// exists" skip path.
func TestUpdateScheduleDeletion(t *testing.T) {
	before := ir.NewModule("before")
	bc := before.NewComputation("main")
	a := bc.AddInstruction("a", ir.OpParameter)
	b := bc.AddInstruction("b", ir.OpGeneric, a)
	cInstr := bc.AddInstruction("c", ir.OpGeneric, b)
	d := bc.AddInstruction("d", ir.OpGeneric, cInstr)
	bc.SetRoot(d)
	deletedID := cInstr.ID()

	sizeFn := sizesOf(map[string]int64{"a": 1, "b": 1, "c": 1, "d": 1})
	beforeSchedule, err := ScheduleComputationsInModule(before, sizeFn, PostOrderMemoryScheduler)
	require.NoError(t, err)
	idSchedule, err := ComputeIdSchedule(beforeSchedule)
	require.NoError(t, err)

	after := ir.NewModule("after")
	ac := after.NewComputation("main")
	a2 := ac.AddInstruction("a", ir.OpParameter)
	b2 := ac.AddInstruction("b", ir.OpGeneric, a2)
	d2 := ac.AddInstruction("d", ir.OpGeneric, b2)
	ac.SetRoot(d2)
	require.NotEqual(t, deletedID, b2.ID())

	afterSchedule := &ModuleSchedule{Module: after, Sequences: map[*ir.Computation]Sequence{}}
	// Re-key idSchedule's per-computation sequence onto the new computation
	// object: computations are not shared across module generations built
	// from scratch as in this test, only across in-place mutation of one
	// module -- so thread the prior sequence under the new computation.
	reKeyed := IDSchedule{BuildID: idSchedule.BuildID, Sequences: map[*ir.Computation][]int64{
		ac: idSchedule.Sequences[bc],
	}}

	err = UpdateSchedule(after, reKeyed, afterSchedule)
	require.NoError(t, err)
	assertRespectsEdges(t, ac, afterSchedule.Sequences[ac])
	assert.Len(t, afterSchedule.Sequences[ac], 3)
}

// Universal property 6: DefaultMemoryScheduler's reported peak is <= the
// peak of each individual algorithm, on the literature counterexample
// graph (S1) where List and the optimal ordering genuinely diverge.
func TestDefaultSchedulerNeverWorseThanIndividualAlgorithms(t *testing.T) {
	m := ir.NewModule("m")
	c := m.NewComputation("main")
	a := c.AddInstruction("a", ir.OpParameter)
	b := c.AddInstruction("b", ir.OpGeneric, a)
	d := c.AddInstruction("d", ir.OpGeneric, a)
	e := c.AddInstruction("e", ir.OpGeneric, a)
	cc := c.AddInstruction("c", ir.OpGeneric, b)
	f := c.AddInstruction("f", ir.OpGeneric, d, e)
	g := c.AddInstruction("g", ir.OpGeneric, cc, f)
	c.SetRoot(g)

	pts := pointsto.Run(m)
	sizeFn := sizesOf(map[string]int64{
		"a": 1, "b": 2, "d": 1, "e": 1, "c": 2, "f": 2, "g": 1,
	})

	algos := map[string]Algorithm{
		"list":       ListMemoryScheduler,
		"dfs":        DFSMemoryScheduler,
		"post-order": PostOrderMemoryScheduler,
	}
	peaks := make(map[string]int64, len(algos))
	for name, algo := range algos {
		seq, err := algo(c, pts, sizeFn, PeakMap{})
		require.NoError(t, err)
		assertRespectsEdges(t, c, seq)
		peak, err := minimumMemoryForTest(c, seq, pts, sizeFn)
		require.NoError(t, err)
		peaks[name] = peak
	}

	defaultSeq, err := DefaultMemoryScheduler(c, pts, sizeFn, PeakMap{})
	require.NoError(t, err)
	defaultPeak, err := minimumMemoryForTest(c, defaultSeq, pts, sizeFn)
	require.NoError(t, err)

	for name, peak := range peaks {
		assert.LessOrEqual(t, defaultPeak, peak, "default scheduler must not exceed %s's peak", name)
	}
}

// Determinism: running any scheduler twice on the same inputs yields
// identical sequences.
func TestSchedulersAreDeterministic(t *testing.T) {
	m := ir.NewModule("m")
	c := m.NewComputation("main")
	a := c.AddInstruction("a", ir.OpParameter)
	b := c.AddInstruction("b", ir.OpGeneric, a)
	d := c.AddInstruction("d", ir.OpGeneric, a)
	e := c.AddInstruction("e", ir.OpGeneric, b, d)
	c.SetRoot(e)

	pts := pointsto.Run(m)
	sizeFn := sizesOf(map[string]int64{"a": 1, "b": 1, "d": 1, "e": 1})

	for name, algo := range map[string]Algorithm{
		"list": ListMemoryScheduler, "dfs": DFSMemoryScheduler, "post-order": PostOrderMemoryScheduler,
	} {
		t.Run(name, func(t *testing.T) {
			seq1, err := algo(c, pts, sizeFn, PeakMap{})
			require.NoError(t, err)
			seq2, err := algo(c, pts, sizeFn, PeakMap{})
			require.NoError(t, err)
			require.Equal(t, len(seq1), len(seq2))
			for i := range seq1 {
				assert.Equal(t, seq1[i].ID(), seq2[i].ID())
			}
		})
	}
}

func TestVerifyScheduleCatchesMissingInstruction(t *testing.T) {
	m := ir.NewModule("m")
	c := m.NewComputation("main")
	a := c.AddInstruction("a", ir.OpParameter)
	b := c.AddInstruction("b", ir.OpGeneric, a)
	c.SetRoot(b)

	bad := &ModuleSchedule{Module: m, Sequences: map[*ir.Computation]Sequence{c: {a}}}
	err := VerifySchedule(m, bad)
	require.Error(t, err)
	assert.True(t, schederrors.Is(err, schederrors.KindInvariant))
}

func TestScheduleOneComputationRejectsFusion(t *testing.T) {
	m := ir.NewModule("m")
	c := m.NewComputation("fused")
	c.MarkFusion()
	a := c.AddInstruction("a", ir.OpParameter)
	c.SetRoot(a)

	_, err := ScheduleOneComputation(c, sizesOf(map[string]int64{"a": 1}))
	require.Error(t, err)
	assert.True(t, schederrors.Is(err, schederrors.KindPrecondition))
}

func TestSubcomputationPeaksPropagateBottomUp(t *testing.T) {
	m := ir.NewModule("m")
	callee := m.NewComputation("callee")
	p := callee.AddInstruction("p", ir.OpParameter)
	big := callee.AddInstruction("big", ir.OpGeneric, p)
	callee.SetRoot(big)

	caller := m.NewComputation("caller")
	arg := caller.AddInstruction("arg", ir.OpParameter)
	call := caller.AddCall("call", callee, arg)
	root := caller.AddInstruction("root", ir.OpGeneric, call)
	caller.SetRoot(root)

	sizeFn := sizesOf(map[string]int64{"p": 1, "big": 100, "arg": 1, "call": 1, "root": 1})
	schedule, err := ScheduleComputationsInModule(m, sizeFn, nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, schedule.Peaks[caller], schedule.Peaks[callee])
}

func minimumMemoryForTest(c *ir.Computation, seq Sequence, pts *pointsto.Analysis, sizeFn pointsto.SizeFunc) (int64, error) {
	return heapsim.MinimumMemoryForComputation(c, seq, pts, sizeFn, nil)
}
