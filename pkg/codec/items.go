package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/driftmc/driftsync/pkg/player"
	"github.com/klauspost/compress/zstd"
)

// Inventory blobs are a one-byte format version followed by a
// zstd-compressed JSON array of stacks. The version byte lets the
// format evolve without ambiguity against rows written by older
// builds.
const itemBlobVersion = 1

// EncodeStacks serializes a container's stacks to a compressed blob.
// A nil slice encodes to nil, preserving "never stored" in the row.
func EncodeStacks(stacks []*player.ItemStack) ([]byte, error) {
	if stacks == nil {
		return nil, nil
	}
	b, err := json.Marshal(stacks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stacks: %v", err)
	}

	compressed := bytes.NewBuffer([]byte{itemBlobVersion})
	compWriter, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %v", err)
	}
	if _, err := compWriter.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress stacks: %v", err)
	}
	if err := compWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %v", err)
	}

	return compressed.Bytes(), nil
}

// DecodeStacks parses an inventory blob. Nil and empty blobs decode
// to nil; any structural failure returns a DecodeError so callers can
// degrade to "absent" instead of failing the load.
func DecodeStacks(blob []byte) ([]*player.ItemStack, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if blob[0] != itemBlobVersion {
		return nil, &DecodeError{Kind: "item stacks", Err: fmt.Errorf("unknown blob version %d", blob[0])}
	}

	compReader, err := zstd.NewReader(bytes.NewReader(blob[1:]))
	if err != nil {
		return nil, &DecodeError{Kind: "item stacks", Err: err}
	}
	defer compReader.Close()
	b, err := io.ReadAll(compReader)
	if err != nil {
		return nil, &DecodeError{Kind: "item stacks", Err: err}
	}

	var stacks []*player.ItemStack
	if err := json.Unmarshal(b, &stacks); err != nil {
		return nil, &DecodeError{Kind: "item stacks", Err: err}
	}
	return stacks, nil
}
