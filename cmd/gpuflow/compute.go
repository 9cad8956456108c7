package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuflow/internal/scenario"
)

func newComputeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Multiply [0, count) by factor on the GPU",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, k := a.cfg.Compute.Count, a.cfg.Compute.Factor
			return a.withRunner(cmd.Context(), func(r *scenario.Runner) error {
				got, err := r.Multiply(cmd.Context(), n, k)
				if err != nil {
					return err
				}
				for i, v := range got {
					if v != uint32(i)*k {
						return fmt.Errorf("verify: dst[%d] = %d, want %d", i, v, uint32(i)*k)
					}
				}
				a.printf("multiplied %d values by %d\n", n, k)
				a.printSample(got)
				return nil
			})
		},
	}
	cmd.Flags().Uint32("count", 0, "number of elements")
	cmd.Flags().Uint32("factor", 0, "multiplier")
	_ = a.v.BindPFlag("compute.count", cmd.Flags().Lookup("count"))
	_ = a.v.BindPFlag("compute.factor", cmd.Flags().Lookup("factor"))
	return cmd
}

func newCopyCmd(a *app) *cobra.Command {
	var n uint32
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy [0, count) between two buffers and verify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRunner(cmd.Context(), func(r *scenario.Runner) error {
				got, err := r.Copy(cmd.Context(), n)
				if err != nil {
					return err
				}
				for i, v := range got {
					if v != uint32(i) {
						return fmt.Errorf("verify: dst[%d] = %d, want %d", i, v, i)
					}
				}
				a.printf("copied %d values (%d bytes)\n", len(got), len(got)*4)
				a.printSample(got)
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&n, "count", 64, "number of elements")
	return cmd
}

// printSample prints the first few values of a readback.
func (a *app) printSample(v []uint32) {
	const sampleLen = 8
	for i, x := range v {
		if i == sampleLen {
			a.printf("... %d more\n", len(v)-sampleLen)
			break
		}
		a.printf("dst[%d] = %d\n", i, x)
	}
}
