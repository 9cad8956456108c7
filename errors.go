package gpuflow

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuflow/driver"
)

// Errors returned by gpuflow. Returned errors wrap one of these with
// context; test with errors.Is.
var (
	// ErrNoDevice is returned when no adapter can be opened.
	ErrNoDevice = errors.New("gpuflow: no suitable device")

	// ErrQueueUnavailable is returned when adapters exist but none has a
	// queue family with the required capabilities.
	ErrQueueUnavailable = errors.New("gpuflow: no queue family with required capabilities")

	// ErrAllocation is returned when a buffer or image cannot be created.
	ErrAllocation = errors.New("gpuflow: allocation failed")

	// ErrPipelineCompilation is returned for shader or pipeline construction
	// failures.
	ErrPipelineCompilation = errors.New("gpuflow: pipeline compilation failed")

	// ErrUnsupportedConfiguration is returned when a configuration needs
	// features or formats the device does not provide.
	ErrUnsupportedConfiguration = errors.New("gpuflow: unsupported configuration")

	// ErrInvalidOperation is returned when an operation is rejected at
	// record or call time.
	ErrInvalidOperation = errors.New("gpuflow: invalid operation")

	// ErrSubmission is returned when a command sequence cannot be submitted.
	ErrSubmission = errors.New("gpuflow: submission failed")

	// ErrTimeout is returned by Wait when the timeout elapses first. The
	// fence stays pending and may be waited on again.
	ErrTimeout = errors.New("gpuflow: wait timed out")

	// ErrDeviceLost is returned once the device has stopped executing work.
	// The DeviceContext is unusable afterwards.
	ErrDeviceLost = errors.New("gpuflow: device lost")

	// ErrPrematureRead is returned by Read before completion of the work
	// writing the buffer has been observed.
	ErrPrematureRead = errors.New("gpuflow: read before completion was observed")

	// ErrDeviceClosed is returned when using a closed DeviceContext.
	ErrDeviceClosed = errors.New("gpuflow: device context closed")

	// ErrResourceReleased is returned when using a resource after its last
	// reference was released.
	ErrResourceReleased = fmt.Errorf("%w: resource released", ErrInvalidOperation)

	// ErrResourceBusy is returned when mutating a resource that a pending
	// submission uses.
	ErrResourceBusy = fmt.Errorf("%w: resource in use by a pending submission", ErrInvalidOperation)
)

// ConfigError describes a rejected pipeline configuration.
type ConfigError struct {
	// Object names what was being built, e.g. "graphics pipeline".
	Object string

	// Field is the configuration field at fault, e.g. "Attachment.Format".
	Field string

	Reason string

	// Err is the taxonomy error, possibly wrapping a driver error.
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %s: %s", e.Err, e.Object, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// OperationError describes an operation rejected while recording.
type OperationError struct {
	// Op is the operation name, e.g. "CopyBuffer".
	Op string

	// Index is the position of the operation inside its Record batch.
	Index int

	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("gpuflow: %s (operation %d): %v", e.Op, e.Index, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// invalidf returns an ErrInvalidOperation with context.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// mapDriverErr translates a driver error into the gpuflow taxonomy.
// fallback is used when the driver error has no specific mapping.
func mapDriverErr(err, fallback error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driver.ErrDeviceLost):
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	case errors.Is(err, driver.ErrDestroyed):
		return fmt.Errorf("%w: %w", ErrDeviceClosed, err)
	case errors.Is(err, driver.ErrOutOfMemory):
		return fmt.Errorf("%w: %w", ErrAllocation, err)
	case errors.Is(err, driver.ErrNoKernel):
		return fmt.Errorf("%w: %w", ErrPipelineCompilation, err)
	default:
		return fmt.Errorf("%w: %w", fallback, err)
	}
}
