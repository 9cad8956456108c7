package driver

// Command is one recorded queue operation.
type Command interface {
	isCommand()
}

// Resource binds a buffer or an image to a slot.
type Resource struct {
	Slot   Slot
	Buffer Buffer
	Image  Image
}

// CopyBuffer copies Size bytes from the start of Src to the start of Dst.
type CopyBuffer struct {
	Src, Dst Buffer
	Size     uint64
}

// CopyImageToBuffer copies every texel of Src into Dst, tightly packed
// row by row.
type CopyImageToBuffer struct {
	Src Image
	Dst Buffer
}

// ClearImage fills Image with Color.
type ClearImage struct {
	Image Image
	Color Color
}

// Dispatch runs a compute pipeline over Groups workgroups.
type Dispatch struct {
	Pipeline  Pipeline
	Resources []Resource
	Groups    [3]uint32
}

// Draw runs a graphics pipeline into Target as one render pass.
type Draw struct {
	Pipeline    Pipeline
	Resources   []Resource
	Target      Image
	ClearColor  Color
	Vertices    Buffer
	FirstVertex uint32
	VertexCount uint32
}

func (*CopyBuffer) isCommand()        {}
func (*CopyImageToBuffer) isCommand() {}
func (*ClearImage) isCommand()        {}
func (*Dispatch) isCommand()          {}
func (*Draw) isCommand()              {}

// RequiredCaps returns the queue capabilities needed to execute c.
func RequiredCaps(c Command) QueueCaps {
	switch c.(type) {
	case *Dispatch:
		return QueueCompute
	case *Draw:
		return QueueGraphics
	default:
		return QueueTransfer
	}
}
