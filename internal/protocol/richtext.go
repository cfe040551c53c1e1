package protocol

import "encoding/binary"

const richTextFlag = 0x02

// decodeRichText parses an optional rich-text trailer from remaining.
// It never errors: a missing or malformed trailer just yields no
// entries, per spec §4.1's "malformed tail tolerated" rule. The
// caller passes the exact remaining slice for the packet body; any
// bytes not consumed by a valid trailer are the caller's to discard.
func decodeRichText(remaining []byte) (entries []RichTextEntry, ok bool) {
	if len(remaining) < 3 || remaining[0] != richTextFlag {
		return nil, false
	}

	formatsLen := binary.LittleEndian.Uint16(remaining[1:3])
	body := remaining[3:]
	if int(formatsLen) > len(body) {
		formatsLen = uint16(len(body))
	}
	body = body[:formatsLen]

	for len(body) > 0 {
		if len(body) < 3 {
			break
		}
		position := binary.LittleEndian.Uint16(body[0:2])
		font := body[2]
		body = body[3:]

		if font&FontImage != 0 {
			skip := 10
			if skip > len(body) {
				skip = len(body)
			}
			body = body[skip:]
			continue
		}

		entry := RichTextEntry{Position: position, Font: font}
		if font&FontColorFollow != 0 {
			if len(body) < 3 {
				break
			}
			copy(entry.RGB[:], body[:3])
			entry.HasRGB = true
			body = body[3:]
		}
		entries = append(entries, entry)
	}

	return entries, true
}

// EncodeRichText renders entries as a standalone rich-text trailer,
// the form persisted as QueuedMessage.Formatting. It returns nil for
// an empty entry list.
func EncodeRichText(entries []RichTextEntry) []byte {
	return encodeRichText(nil, entries)
}

// DecodeRichText parses a standalone rich-text trailer previously
// produced by EncodeRichText.
func DecodeRichText(data []byte) []RichTextEntry {
	entries, _ := decodeRichText(data)
	return entries
}

// encodeRichText appends the rich-text trailer for entries to out, or
// appends nothing if entries is empty.
func encodeRichText(out []byte, entries []RichTextEntry) []byte {
	if len(entries) == 0 {
		return out
	}

	body := make([]byte, 0, len(entries)*4)
	for _, e := range entries {
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], e.Position)
		body = append(body, buf[0], buf[1], e.Font)
		if e.Font&FontColorFollow != 0 && e.HasRGB {
			body = append(body, e.RGB[0], e.RGB[1], e.RGB[2])
		}
	}

	out = append(out, richTextFlag)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(body)))
	out = append(out, lenBuf[0], lenBuf[1])
	out = append(out, body...)
	return out
}
