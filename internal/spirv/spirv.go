// Package spirv reflects the resource interface of SPIR-V shader modules:
// entry points, workgroup sizes, descriptor bindings and vertex inputs.
//
// Only the instructions needed for reflection are decoded; everything else
// is skipped by word count.
package spirv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalid is returned for malformed SPIR-V.
var ErrInvalid = errors.New("spirv: invalid module")

// MagicNumber starts every SPIR-V module.
const MagicNumber = 0x07230203

const headerWords = 5

// Opcodes used by reflection.
const (
	OpName              = 5
	OpEntryPoint        = 15
	OpExecutionMode     = 16
	OpTypeImage         = 25
	OpTypeSampler       = 26
	OpTypeSampledImage  = 27
	OpTypeArray         = 28
	OpTypeRuntimeArray  = 29
	OpTypeStruct        = 30
	OpTypePointer       = 32
	OpVariable          = 59
	OpDecorate          = 71
	OpMemberDecorate    = 72
	opFunction          = 54
	executionLocalSize  = 17
	imageSampledStorage = 2
)

// ExecutionModel is the pipeline stage of an entry point.
type ExecutionModel uint32

// Execution models.
const (
	ExecutionModelVertex    ExecutionModel = 0
	ExecutionModelFragment  ExecutionModel = 4
	ExecutionModelGLCompute ExecutionModel = 5
)

func (m ExecutionModel) String() string {
	switch m {
	case ExecutionModelVertex:
		return "vertex"
	case ExecutionModelFragment:
		return "fragment"
	case ExecutionModelGLCompute:
		return "compute"
	default:
		return fmt.Sprintf("model(%d)", uint32(m))
	}
}

// StorageClass is where a variable lives.
type StorageClass uint32

// Storage classes.
const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassInput           StorageClass = 1
	StorageClassUniform         StorageClass = 2
	StorageClassOutput          StorageClass = 3
	StorageClassStorageBuffer   StorageClass = 12
)

// Decorations.
const (
	DecorationBlock         = 2
	DecorationBufferBlock   = 3
	DecorationBuiltIn       = 11
	DecorationNonWritable   = 24
	DecorationNonReadable   = 25
	DecorationLocation      = 30
	DecorationBinding       = 33
	DecorationDescriptorSet = 34
)

// Words converts a little-endian (or byte-swapped big-endian) SPIR-V blob
// into words.
func Words(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrInvalid, len(b))
	}
	if len(b) < headerWords*4 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalid, len(b))
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch {
	case binary.LittleEndian.Uint32(b) == MagicNumber:
	case binary.BigEndian.Uint32(b) == MagicNumber:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrInvalid, binary.LittleEndian.Uint32(b))
	}

	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = order.Uint32(b[i*4:])
	}
	return words, nil
}

// Bytes encodes words as a little-endian blob.
func Bytes(words []uint32) []byte {
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}
