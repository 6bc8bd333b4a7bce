// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package schedule implements a memory-minimizing instruction scheduler
// over the ir package's data model: a priority list scheduler, a DFS
// scheduler, a plain post-order scheduler, the selection meta-scheduler
// that runs all three and keeps the lowest-peak result (consulting
// package heapsim), and an incremental updater that patches a schedule
// after the module has been mutated.
package schedule

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/memsched/heapsim"
	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/pointsto"
	"github.com/gomlx/memsched/schedule/schederrors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sequence is a total order over a computation's instructions: each
// instruction in the computation appears exactly once.
type Sequence []*ir.Instruction

// PeakMap records, for computations already scheduled, the peak
// simultaneously-live bytes their schedule requires. The module driver
// grows this map monotonically as it walks computations in post-order, so
// a caller's peak already accounts for the computations it calls by the
// time the caller itself is scheduled.
type PeakMap map[*ir.Computation]int64

// ModuleSchedule is the result of scheduling every non-fusion computation
// in a module: each computation's chosen sequence, and the peak memory
// that sequence requires.
type ModuleSchedule struct {
	Module    *ir.Module
	Sequences map[*ir.Computation]Sequence
	Peaks     PeakMap
}

// IDSchedule projects a ModuleSchedule to persistable instruction IDs, so
// it stays usable across in-place mutation of the module (see
// ComputeIdSchedule / UpdateSchedule). Sequences is keyed by computation
// object, so a computation of a module rebuilt from scratch has no entry
// unless the caller re-keys it. BuildID
// is the module generation it was computed against, used by UpdateSchedule
// only as a diagnostic hint.
type IDSchedule struct {
	BuildID   uuid.UUID
	Sequences map[*ir.Computation][]int64
}

// Algorithm is a scheduling algorithm: given a computation, the module's
// points-to analysis, the buffer-size oracle, and the peaks already
// recorded for its called sub-computations, it produces a sequence or an
// error. ListMemoryScheduler, DFSMemoryScheduler, PostOrderMemoryScheduler,
// and DefaultMemoryScheduler are all valid Algorithm values.
type Algorithm func(computation *ir.Computation, pts *pointsto.Analysis, sizeFn pointsto.SizeFunc, peaks PeakMap) (Sequence, error)

// DefaultMemoryScheduler is the selection meta-scheduler (component 4.E):
// it runs ListMemoryScheduler, DFSMemoryScheduler, and
// PostOrderMemoryScheduler, asks package heapsim for the peak memory each
// resulting sequence requires, and keeps whichever is lowest. Ties are
// broken in the order List, DFS, Post-Order.
func DefaultMemoryScheduler(computation *ir.Computation, pts *pointsto.Analysis, sizeFn pointsto.SizeFunc, peaks PeakMap) (Sequence, error) {
	candidates := []struct {
		name string
		algo Algorithm
	}{
		{"list", ListMemoryScheduler},
		{"dfs", DFSMemoryScheduler},
		{"post-order", PostOrderMemoryScheduler},
	}

	var best Sequence
	var bestPeak int64
	var bestName string
	found := false

	for _, candidate := range candidates {
		seq, err := candidate.algo(computation, pts, sizeFn, peaks)
		if err != nil {
			return nil, errors.Wrapf(err, "%s scheduler failed for computation %q", candidate.name, computation.Name())
		}
		peak, err := heapsim.MinimumMemoryForComputation(computation, seq, pts, sizeFn, peaks)
		if err != nil {
			return nil, schederrors.Upstream(errors.Wrapf(err, "heap simulator failed for %s scheduler on computation %q", candidate.name, computation.Name()))
		}
		if !found || peak < bestPeak {
			best, bestPeak, bestName, found = seq, peak, candidate.name, true
		}
	}

	klog.V(1).InfoS("selected schedule", "computation", computation.Name(), "algorithm", bestName, "peakBytes", humanize.Bytes(uint64(bestPeak)))
	return best, nil
}

// ScheduleComputationsInModule is the primary driver (component 4.E's
// module driver): it walks every non-fusion computation of module in
// module post-order, scheduling each with algorithm (or
// DefaultMemoryScheduler if algorithm is nil), and records each
// computation's peak memory so that callers see their callees' cost via
// PeakMap. Fusion computations are skipped entirely.
func ScheduleComputationsInModule(module *ir.Module, sizeFn pointsto.SizeFunc, algorithm Algorithm) (schedule *ModuleSchedule, err error) {
	defer recoverCorruption(&err)

	if algorithm == nil {
		algorithm = DefaultMemoryScheduler
	}
	pts := pointsto.Run(module)

	result := &ModuleSchedule{
		Module:    module,
		Sequences: make(map[*ir.Computation]Sequence),
		Peaks:     make(PeakMap),
	}
	for _, c := range module.ComputationPostOrder() {
		if c.IsFusion() {
			continue
		}
		seq, algErr := algorithm(c, pts, sizeFn, result.Peaks)
		if algErr != nil {
			return nil, errors.Wrapf(algErr, "scheduling computation %q", c.Name())
		}
		peak, simErr := heapsim.MinimumMemoryForComputation(c, seq, pts, sizeFn, result.Peaks)
		if simErr != nil {
			return nil, schederrors.Upstream(errors.Wrapf(simErr, "heap simulator failed for computation %q", c.Name()))
		}
		result.Sequences[c] = seq
		result.Peaks[c] = peak
	}
	return result, nil
}

// ScheduleOneComputation is a single-computation convenience wrapper
// (spec §6): it runs points-to analysis on computation's parent module and
// schedules computation alone, with an empty peak map (so any
// sub-computations it calls contribute no peak). Returns a precondition-violation
// error if computation is a fusion computation.
func ScheduleOneComputation(computation *ir.Computation, sizeFn pointsto.SizeFunc) (seq Sequence, err error) {
	defer recoverCorruption(&err)

	if computation.IsFusion() {
		return nil, schederrors.Preconditionf("cannot schedule fusion computation %q directly", computation.Name())
	}
	pts := pointsto.Run(computation.Module())
	return DefaultMemoryScheduler(computation, pts, sizeFn, PeakMap{})
}

// ComputeIdSchedule projects schedule to a persistable IDSchedule.
func ComputeIdSchedule(schedule *ModuleSchedule) (IDSchedule, error) {
	ids := IDSchedule{Sequences: make(map[*ir.Computation][]int64, len(schedule.Sequences))}
	if schedule.Module != nil {
		ids.BuildID = schedule.Module.BuildID()
	}
	for c, seq := range schedule.Sequences {
		seqIDs := make([]int64, len(seq))
		for i, instr := range seq {
			seqIDs[i] = instr.ID()
		}
		ids.Sequences[c] = seqIDs
	}
	return ids, nil
}
