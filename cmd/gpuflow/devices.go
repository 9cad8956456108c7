package main

import (
	"github.com/spf13/cobra"

	"github.com/gogpu/gpuflow"
)

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List adapters of the registered drivers",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			adapters := gpuflow.Adapters(a.cfg.Device.Driver)
			if len(adapters) == 0 {
				return gpuflow.ErrNoDevice
			}
			for i, info := range adapters {
				a.printf("%d: %s [%s] %s\n", i, info.Name, info.Driver, info.Type)
				if info.Limits.MemoryBytes > 0 {
					a.printf("   memory: %d bytes\n", info.Limits.MemoryBytes)
				}
				a.printf("   max buffer: %d bytes\n", info.Limits.MaxBufferSize)
				if info.Features != 0 {
					a.printf("   features: %s\n", info.Features)
				}
				for _, f := range info.QueueFamilies {
					a.printf("   queue family %d: %d queue(s), %s\n", f.Index, f.Count, f.Caps)
				}
			}
			return nil
		},
	}
}
