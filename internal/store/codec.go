package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// encode and decode centralize the msgpack row encoding used by every
// record family, the same wire format the teacher uses for KV-stored
// values throughout pkg/kv and pkg/memory.
func encode(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return b, nil
}

func decode(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}
