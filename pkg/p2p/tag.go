package p2p

// Tag is the 64-bit matching key of a message. Receives match on tag bits
// only; callers that need to tell senders apart encode the sender rank in
// the upper half with MakeTag.
type Tag uint64

const (
    // TagMaskFull matches the whole tag.
    TagMaskFull uint64 = ^uint64(0)
    // TagMaskAnyRank ignores the rank half of a tag built by MakeTag.
    TagMaskAnyRank uint64 = 0x00000000ffffffff
)

// MakeTag packs a sender rank and a user tag into one Tag.
func MakeTag(rank, tag uint32) Tag { return Tag(uint64(rank)<<32 | uint64(tag)) }

// Rank returns the rank half of t.
func (t Tag) Rank() uint32 { return uint32(uint64(t) >> 32) }

// Value returns the user half of t.
func (t Tag) Value() uint32 { return uint32(t) }
