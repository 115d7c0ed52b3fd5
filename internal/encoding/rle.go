package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes per-node wall masks as base64(varint pairs).
// The pairs are (mask, run_len) repeated, in node index order.
func EncodeRLE(masks []byte) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(masks) {
		m := masks[i]
		run := 1
		for j := i + 1; j < len(masks) && masks[j] == m; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(m))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. want is the expected mask count; the
// decoded runs must add up to exactly that many.
func DecodeRLE(b64 string, want int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, want)
	for i := 0; i < len(raw); {
		m, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if m > 0xFF {
			return nil, fmt.Errorf("wall mask too large: %d", m)
		}
		if run == 0 || run > uint64(want-len(out)) {
			return nil, fmt.Errorf("run of %d overflows %d masks", run, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, byte(m))
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d masks, want %d", len(out), want)
	}
	return out, nil
}
