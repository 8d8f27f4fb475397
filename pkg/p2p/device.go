package p2p

import "ucxp2p/pkg/native"

// DeviceKind says where a caller's buffer lives. It is not checked against
// the buffer itself.
type DeviceKind int

const (
    DeviceCPU DeviceKind = iota
    DeviceCUDA
    DeviceHIP
    DeviceOther
)

func (d DeviceKind) String() string {
    switch d {
    case DeviceCPU:
        return "cpu"
    case DeviceCUDA:
        return "cuda"
    case DeviceHIP:
        return "hip"
    default:
        return "other"
    }
}

// MemoryType maps the device kind to the native memory type.
func (d DeviceKind) MemoryType() native.MemoryType {
    switch d {
    case DeviceCPU:
        return native.MemoryTypeHost
    case DeviceCUDA:
        return native.MemoryTypeCUDA
    case DeviceHIP:
        return native.MemoryTypeROCm
    default:
        return native.MemoryTypeUnknown
    }
}
