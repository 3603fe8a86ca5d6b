package tcpstack

import (
	"github.com/google/netstack/tcpip/seqnum"
)

const (
	seqSpace     = uint64(1) << 32
	halfSeqSpace = uint64(1) << 31
)

// Wrap turns an absolute stream index into the 32-bit value that goes on the wire.
func Wrap(n uint64, isn seqnum.Value) seqnum.Value {
	return isn.Add(seqnum.Size(uint32(n)))
}

// Unwrap finds the absolute index that wraps to v and sits closest to checkpoint.
// If two candidates are equally close we take the smaller one.
func Unwrap(v seqnum.Value, isn seqnum.Value, checkpoint uint64) uint64 {
	offset := uint64(isn.Size(v))
	candidate := (checkpoint &^ (seqSpace - 1)) | offset

	if candidate > checkpoint {
		if candidate-checkpoint >= halfSeqSpace && candidate >= seqSpace {
			return candidate - seqSpace
		}
		return candidate
	}

	if checkpoint-candidate > halfSeqSpace && candidate+seqSpace > candidate {
		return candidate + seqSpace
	}
	return candidate
}
