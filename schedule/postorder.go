// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/pointsto"
)

// PostOrderMemoryScheduler returns the computation's instruction post-order
// verbatim (component 4.D). No heuristic; kept as the cheapest fallback and
// as a baseline DefaultMemoryScheduler always compares against.
func PostOrderMemoryScheduler(computation *ir.Computation, _ *pointsto.Analysis, _ pointsto.SizeFunc, _ PeakMap) (Sequence, error) {
	order := computation.PostOrder()
	out := make(Sequence, len(order))
	copy(out, order)
	return out, nil
}
