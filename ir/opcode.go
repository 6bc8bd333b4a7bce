// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

// Opcode identifies the kind of operation an Instruction performs.
//
// Only two values carry scheduling significance: OpParameter and OpConstant
// mark "ignored" instructions whose buffers do not count towards the
// bytes-freed/bytes-defined accounting used by the scheduling heuristics.
// Every other opcode participates identically in scheduling regardless of
// its specific value -- the scheduler never switches on opcode beyond the
// ignored check and the tuple/get-tuple-element aliasing points-to analysis
// needs to resolve.
type Opcode string

const (
	// OpParameter marks an instruction that reads a computation argument.
	OpParameter Opcode = "parameter"
	// OpConstant marks an instruction whose buffer is a compile-time constant.
	OpConstant Opcode = "constant"
	// OpTuple packs its operands' values into a single multi-buffer result,
	// one logical buffer per operand, at consecutive shape indices.
	OpTuple Opcode = "tuple"
	// OpGetTupleElement reads TupleIndex() out of its single tuple operand.
	// It defines no buffer of its own: its points-to set aliases the
	// corresponding element of the operand's points-to set.
	OpGetTupleElement Opcode = "get-tuple-element"
	// OpCall invokes a sub-computation; CalledComputations() on the
	// instruction names it.
	OpCall Opcode = "call"
	// OpGeneric is a catch-all opcode for ordinary, non-ignored operations
	// (arithmetic, reshapes, and so on) where the specific operation kind
	// has no bearing on scheduling.
	OpGeneric Opcode = "op"
)

// IsIgnored reports whether instructions of this opcode are excluded from
// the bytes-freed/bytes-defined scheduling heuristics, though never from
// the emitted sequence.
func (op Opcode) IsIgnored() bool {
	return op == OpParameter || op == OpConstant
}
