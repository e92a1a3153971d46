package core

// TypeTag identifies the Go type stored in an arena slot.
// Tags key the per-type free lists and let resolution reject mistyped handles.
type TypeTag uint32

// Reserved tags used by the storage engine itself.
const (
	TypeNone TypeTag = iota
	TypeArrayObject
	TypeArraySegment
	TypeArrayData
	TypeBytes
)

// Tags of the database objects that live in container pools.
const (
	TypeCell TypeTag = 64 + iota
	TypeNet
	TypePin
	TypeInst
	TypeLayer
	TypeVia
	TypeWire
	TypeTimingView
	TypeParasiticNode
)

// TypeUser is the first tag free for callers to define.
const TypeUser TypeTag = 1024

var tagNames = map[TypeTag]string{
	TypeNone:          "none",
	TypeArrayObject:   "array",
	TypeArraySegment:  "array_segment",
	TypeArrayData:     "array_data",
	TypeBytes:         "bytes",
	TypeCell:          "cell",
	TypeNet:           "net",
	TypePin:           "pin",
	TypeInst:          "inst",
	TypeLayer:         "layer",
	TypeVia:           "via",
	TypeWire:          "wire",
	TypeTimingView:    "timing_view",
	TypeParasiticNode: "parasitic_node",
}

func (t TypeTag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	if t >= TypeUser {
		return "user"
	}
	return "unknown"
}
