// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"container/heap"

	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/pointsto"
	"github.com/gomlx/memsched/schedule/schederrors"
	"k8s.io/klog/v2"
)

// corruption is raised with panic by throwCorruption when the scheduler's
// internal bookkeeping is found to be inconsistent -- a use count or
// pending-predecessor count that would go negative, or an emitted sequence
// of the wrong length. These indicate a bug in this package, not bad input,
// so they are raised as panics rather than threaded through as errors, and
// recovered into a *schederrors.Error only at the public entry point.
type corruption struct{ err error }

func throwCorruption(format string, args ...interface{}) {
	panic(corruption{err: schederrors.Invariantf(format, args...)})
}

// recoverCorruption should be deferred at every public entry point that may
// call into code reachable from throwCorruption. It turns a corruption
// panic into a returned error and lets any other panic propagate.
func recoverCorruption(errOut *error) {
	e := recover()
	if e == nil {
		return
	}
	c, ok := e.(corruption)
	if !ok {
		panic(e)
	}
	*errOut = c.err
}

// readyEntry is one instruction in the list scheduler's ready set: eligible
// to be scheduled because every operand and control predecessor has already
// been placed.
type readyEntry struct {
	instr      *ir.Instruction
	bytesFreed int64
	userCount  int
	seq        int // insertion order, the deterministic final tiebreaker
	index      int // maintained by container/heap
}

// readyQueue is a max-heap over readyEntry, ordered by Priority: highest
// bytesFreed first, then highest userCount, then earliest insertion order.
// Grounded on the Go compiler's own SSA scheduler
// (cmd/compile/internal/ssa/schedule.go's ValHeap), which solves the same
// "greedy priority schedule of a value DAG with live re-scoring" problem
// with a container/heap instead of an ordered multimap.
type readyQueue []*readyEntry

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.bytesFreed != b.bytesFreed {
		return a.bytesFreed > b.bytesFreed
	}
	if a.userCount != b.userCount {
		return a.userCount > b.userCount
	}
	return a.seq < b.seq
}

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *readyQueue) Push(x any) {
	e := x.(*readyEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// ListMemoryScheduler is the priority-queue greedy scheduler (component
// 4.B): at each step it schedules the ready instruction that frees the most
// bytes relative to what it defines and the sub-computations it calls,
// breaking ties by user count and then by insertion order.
func ListMemoryScheduler(computation *ir.Computation, pts *pointsto.Analysis, sizeFn pointsto.SizeFunc, peaks PeakMap) (seq Sequence, err error) {
	defer recoverCorruption(&err)

	bufIdx := newBufferUseIndex(computation, pts)
	pending := make(map[int64]int, computation.InstructionCount())
	for _, instr := range computation.Instructions() {
		pending[instr.ID()] = len(instr.Operands()) + len(instr.ControlPredecessors())
	}

	pq := make(readyQueue, 0, computation.InstructionCount())
	heap.Init(&pq)
	handles := make(map[int64]*readyEntry, computation.InstructionCount())
	nextSeq := 0

	push := func(instr *ir.Instruction) {
		bytesFreed, userCount := priority(instr, bufIdx, pts, sizeFn, peaks)
		e := &readyEntry{instr: instr, bytesFreed: bytesFreed, userCount: userCount, seq: nextSeq}
		nextSeq++
		heap.Push(&pq, e)
		handles[instr.ID()] = e
	}

	for _, instr := range computation.Instructions() {
		if pending[instr.ID()] == 0 {
			push(instr)
		}
	}

	out := make(Sequence, 0, computation.InstructionCount())
	for pq.Len() > 0 {
		best := heap.Pop(&pq).(*readyEntry)
		delete(handles, best.instr.ID())
		out = append(out, best.instr)

		dirty := false
		for _, b := range bufIdx.usesOf(best.instr) {
			c, ok := bufIdx.unscheduledUseCount[b]
			if !ok || c <= 0 {
				throwCorruption("list scheduler: use count for buffer %s underflowed while scheduling %s", b, best.instr.ShortString())
			}
			c--
			bufIdx.unscheduledUseCount[b] = c
			if c == 1 {
				dirty = true
			}
		}

		successors := make([]*ir.Instruction, 0, best.instr.UserCount()+len(best.instr.ControlSuccessors()))
		successors = append(successors, best.instr.Users()...)
		successors = append(successors, best.instr.ControlSuccessors()...)
		for _, s := range successors {
			p, ok := pending[s.ID()]
			if !ok || p <= 0 {
				throwCorruption("list scheduler: pending-predecessor count for %s underflowed", s.ShortString())
			}
			p--
			pending[s.ID()] = p
			if p == 0 {
				push(s)
			}
		}

		if dirty {
			for _, operand := range best.instr.Operands() {
				for _, user := range operand.Users() {
					e, ok := handles[user.ID()]
					if !ok {
						continue // not in the ready set yet.
					}
					bytesFreed, userCount := priority(user, bufIdx, pts, sizeFn, peaks)
					if bytesFreed != e.bytesFreed || userCount != e.userCount {
						e.bytesFreed, e.userCount = bytesFreed, userCount
						heap.Fix(&pq, e.index)
					}
				}
			}
		}
	}

	if len(out) != computation.InstructionCount() {
		throwCorruption("list scheduler: emitted %d instructions for computation %q with %d", len(out), computation.Name(), computation.InstructionCount())
	}
	klog.V(2).InfoS("list scheduler finished", "computation", computation.Name(), "count", len(out))
	return out, nil
}
