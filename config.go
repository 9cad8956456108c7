package gpuflow

import "fmt"

// Config selects and configures the device of a DeviceContext.
type Config struct {
	// Driver names the driver to use. Empty walks the registered drivers
	// in priority order.
	Driver string

	// Adapter, if set, restricts selection to adapters whose name contains
	// it (case-insensitive).
	Adapter string

	// Capabilities the execution queue must support. Zero accepts any
	// queue family.
	Capabilities Capabilities

	// Features to enable on the device. Pipelines may only require
	// features enabled here.
	Features Features

	// MemoryBudget caps the bytes the allocator hands out. Zero uses the
	// adapter's reported memory, or DefaultMemoryBudget if unknown.
	MemoryBudget uint64

	// Label names the context in logs.
	Label string
}

// DefaultMemoryBudget is used when neither Config nor the adapter
// provides a memory size.
const DefaultMemoryBudget = 256 << 20

// DefaultConfig returns a configuration requesting a queue that can do
// graphics, compute and transfers on any driver.
func DefaultConfig() Config {
	return Config{
		Capabilities: CapGraphics | CapCompute | CapTransfer,
		Label:        "gpuflow",
	}
}

// Validate checks the configuration for values no device could satisfy.
func (c Config) Validate() error {
	if c.Capabilities&^capsAll != 0 {
		return fmt.Errorf("%w: unknown queue capabilities 0x%x", ErrUnsupportedConfiguration, uint8(c.Capabilities&^capsAll))
	}
	if c.Features&^featuresAll != 0 {
		return fmt.Errorf("%w: unknown features %v", ErrUnsupportedConfiguration, c.Features&^featuresAll)
	}
	return nil
}
