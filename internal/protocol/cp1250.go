package protocol

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// encodeCP1250 transcodes a Go string (UTF-8) into Windows-1250 bytes.
// Codepoints outside Latin-2 are lossily replaced with the charmap's
// substitute byte (0x1A) per encoding.ReplaceUnsupported — the wire
// contract takes precedence
// over Unicode round-tripping (spec §9).
func encodeCP1250(s string) []byte {
	enc := encoding.ReplaceUnsupported(charmap.Windows1250.NewEncoder())
	out, _ := enc.Bytes([]byte(s))
	return out
}

// decodeCP1250 transcodes Windows-1250 bytes into a Go string,
// replacing any byte with no Windows-1250 mapping.
func decodeCP1250(b []byte) string {
	out, _ := charmap.Windows1250.NewDecoder().Bytes(b)
	return string(out)
}
