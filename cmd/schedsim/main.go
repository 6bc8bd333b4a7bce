// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Command schedsim loads a toy IR module from a textual edge-list
// description and runs the memory-minimizing scheduler over it, printing
// the sequence and peak memory for each computation. The name of the
// algorithm the default selector picked is not printed.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/memsched/ir"
	"github.com/gomlx/memsched/pointsto"
	"github.com/gomlx/memsched/schedule"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

var (
	inputPath string
	algoName  string
)

func main() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	rootCmd := &cobra.Command{
		Use:   "schedsim",
		Short: "Schedule a toy IR module for minimum peak memory",
		RunE:  run,
	}
	rootCmd.Flags().StringVarP(&inputPath, "input", "i", "", "path to a textual DAG description (required)")
	rootCmd.Flags().StringVarP(&algoName, "algorithm", "a", "default", "scheduling algorithm: default, list, dfs, post-order")
	_ = rootCmd.MarkFlagRequired("input")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	algorithm, err := algorithmByName(algoName)
	if err != nil {
		return err
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", inputPath)
	}
	defer f.Close()

	module, sizes, err := parseModule(f)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", inputPath)
	}
	// An instruction with an explicit size= token wins; otherwise fall back
	// to the shape/dtype it was given, if any.
	sizeFn := func(b pointsto.LogicalBuffer) int64 {
		if n, ok := sizes[b.Instruction.Name()]; ok {
			return n
		}
		return pointsto.ShapeSizeFunc(b)
	}

	result, err := schedule.ScheduleComputationsInModule(module, sizeFn, algorithm)
	if err != nil {
		return errors.Wrap(err, "scheduling module")
	}

	for _, c := range module.NonFusionComputations() {
		seq := result.Sequences[c]
		names := make([]string, len(seq))
		for i, instr := range seq {
			names[i] = instr.Name()
		}
		fmt.Printf("computation %s: peak %s\n  order: %s\n",
			c.Name(), humanize.Bytes(uint64(result.Peaks[c])), strings.Join(names, " -> "))
	}
	return nil
}

func algorithmByName(name string) (schedule.Algorithm, error) {
	switch name {
	case "", "default":
		return schedule.DefaultMemoryScheduler, nil
	case "list":
		return schedule.ListMemoryScheduler, nil
	case "dfs":
		return schedule.DFSMemoryScheduler, nil
	case "post-order":
		return schedule.PostOrderMemoryScheduler, nil
	default:
		return nil, errors.Errorf("unknown algorithm %q", name)
	}
}

// parseModule reads a toy textual format:
//
//	computation <name>
//	instr <name> <opcode> [operand ...] (size=<bytes> | dtype=<name> [dims=<d1>x<d2>...])
//	root <name>
//
// opcode is one of parameter, constant, or op. An instruction's buffer size
// comes from an explicit size= token, or is derived from a dtype=/dims=
// pair via pointsto.ShapeSizeFunc if size= is absent. Each "computation"
// line starts a new block; blank lines and lines starting with "#" are
// ignored. This is scaffolding for
// exercising the scheduler end-to-end, not a serialization format for real
// IR.
func parseModule(r io.Reader) (*ir.Module, map[string]int64, error) {
	scanner := bufio.NewScanner(r)
	module := ir.NewModule("schedsim")
	sizes := make(map[string]int64)
	var current *ir.Computation
	byName := make(map[string]*ir.Instruction)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "computation":
			if len(fields) != 2 {
				return nil, nil, errors.Errorf("computation line needs exactly one name: %q", line)
			}
			current = module.NewComputation(fields[1])
			byName = make(map[string]*ir.Instruction)
		case "instr":
			if current == nil {
				return nil, nil, errors.Errorf("instr line before any computation: %q", line)
			}
			instr, size, hasSize, err := parseInstr(fields[1:], current, byName)
			if err != nil {
				return nil, nil, err
			}
			byName[instr.Name()] = instr
			if hasSize {
				sizes[instr.Name()] = size
			}
		case "root":
			if current == nil || len(fields) != 2 {
				return nil, nil, errors.Errorf("malformed root line: %q", line)
			}
			instr, ok := byName[fields[1]]
			if !ok {
				return nil, nil, errors.Errorf("root refers to unknown instruction %q", fields[1])
			}
			current.SetRoot(instr)
		default:
			return nil, nil, errors.Errorf("unrecognized line: %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return module, sizes, nil
}

func parseInstr(fields []string, current *ir.Computation, byName map[string]*ir.Instruction) (instr *ir.Instruction, size int64, hasSize bool, err error) {
	if len(fields) < 3 {
		return nil, 0, false, errors.Errorf("instr needs at least name, opcode, and size= or dtype=: %v", fields)
	}
	name, opcodeName := fields[0], fields[1]
	var operands []*ir.Instruction
	var dtype dtypes.DType
	var dims []int
	hasDType := false

	for _, tok := range fields[2:] {
		switch {
		case strings.HasPrefix(tok, "size="):
			n, parseErr := strconv.ParseInt(strings.TrimPrefix(tok, "size="), 10, 64)
			if parseErr != nil {
				return nil, 0, false, errors.Wrapf(parseErr, "parsing size for %s", name)
			}
			size, hasSize = n, true
		case strings.HasPrefix(tok, "dtype="):
			dtype, err = dtypeByName(strings.TrimPrefix(tok, "dtype="))
			if err != nil {
				return nil, 0, false, errors.Wrapf(err, "parsing dtype for %s", name)
			}
			hasDType = true
		case strings.HasPrefix(tok, "dims="):
			dims, err = parseDims(strings.TrimPrefix(tok, "dims="))
			if err != nil {
				return nil, 0, false, errors.Wrapf(err, "parsing dims for %s", name)
			}
		default:
			operand, ok := byName[tok]
			if !ok {
				return nil, 0, false, errors.Errorf("instruction %s refers to unknown operand %s", name, tok)
			}
			operands = append(operands, operand)
		}
	}

	var opcode ir.Opcode
	switch opcodeName {
	case "parameter":
		opcode = ir.OpParameter
	case "constant":
		opcode = ir.OpConstant
	case "op":
		opcode = ir.OpGeneric
	default:
		return nil, 0, false, errors.Errorf("unknown opcode %q for instruction %s", opcodeName, name)
	}

	instr = current.AddInstruction(name, opcode, operands...)
	if hasDType {
		instr.SetShape(ir.MakeShape(dtype, dims...))
	}
	if !hasSize && !hasDType {
		return nil, 0, false, errors.Errorf("instruction %s needs either size= or dtype=", name)
	}
	return instr, size, hasSize, nil
}

func dtypeByName(name string) (dtypes.DType, error) {
	switch strings.ToLower(name) {
	case "f32", "float32":
		return dtypes.F32, nil
	case "f64", "float64":
		return dtypes.F64, nil
	case "bf16", "bfloat16":
		return dtypes.BF16, nil
	case "i32", "int32":
		return dtypes.Int32, nil
	case "i64", "int64":
		return dtypes.Int64, nil
	case "bool":
		return dtypes.Bool, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
	}
}

func parseDims(spec string) ([]int, error) {
	parts := strings.Split(spec, "x")
	dims := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing dimension %q", p)
		}
		dims[i] = n
	}
	return dims, nil
}
