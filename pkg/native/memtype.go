package native

import (
    "fmt"
    "strings"
)

// MemoryType classifies where a buffer lives (ucs_memory_type_t).
type MemoryType int

const (
    MemoryTypeHost MemoryType = iota
    MemoryTypeCUDA
    MemoryTypeCUDAManaged
    MemoryTypeROCm
    MemoryTypeROCmManaged
    MemoryTypeUnknown
)

func (m MemoryType) String() string {
    switch m {
    case MemoryTypeHost:
        return "host"
    case MemoryTypeCUDA:
        return "cuda"
    case MemoryTypeCUDAManaged:
        return "cuda-managed"
    case MemoryTypeROCm:
        return "rocm"
    case MemoryTypeROCmManaged:
        return "rocm-managed"
    default:
        return "unknown"
    }
}

// ParseMemoryType accepts the names produced by MemoryType.String.
func ParseMemoryType(s string) (MemoryType, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "host", "cpu":
        return MemoryTypeHost, nil
    case "cuda":
        return MemoryTypeCUDA, nil
    case "cuda-managed", "cuda_managed":
        return MemoryTypeCUDAManaged, nil
    case "rocm", "hip":
        return MemoryTypeROCm, nil
    case "rocm-managed", "rocm_managed":
        return MemoryTypeROCmManaged, nil
    case "unknown":
        return MemoryTypeUnknown, nil
    default:
        return MemoryTypeUnknown, fmt.Errorf("unknown memory type %q", s)
    }
}
