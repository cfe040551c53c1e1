package protocol

import (
	"bytes"
	"encoding/binary"
)

const headerSize = 8

// Decode consumes at most one frame from buf. It returns the decoded
// frame and the number of bytes consumed. If buf does not yet contain
// a full frame it returns ErrNeedMore and 0 bytes consumed — callers
// must not advance their read cursor in that case. mode resolves the
// PacketAmbiguous0B direction ambiguity (spec §3).
func Decode(buf []byte, mode Mode) (*Frame, int, error) {
	if len(buf) < headerSize {
		return nil, 0, ErrNeedMore
	}

	typ := PacketType(binary.LittleEndian.Uint32(buf[0:4]))
	length := binary.LittleEndian.Uint32(buf[4:8])

	total := headerSize + int(length)
	if len(buf) < total {
		return nil, 0, ErrNeedMore
	}
	body := buf[headerSize:total]

	payload, err := decodeBody(typ, body, mode)
	if err != nil {
		return nil, 0, err
	}
	return &Frame{Type: typ, Payload: payload}, total, nil
}

func decodeBody(typ PacketType, body []byte, mode Mode) (interface{}, error) {
	switch typ {
	case PacketWelcome:
		return decodeWelcome(body)
	case PacketNewStatus:
		return decodeNewStatus(body)
	case PacketLoginOk:
		return LoginOk{}, nil
	case PacketSendMsgAck:
		return decodeSendMsgAck(body)
	case PacketPong:
		return Pong{}, nil
	case PacketPing:
		return PingPacket{}, nil
	case PacketLoginFailed:
		return LoginFailed{}, nil
	case PacketRecvMsg:
		return decodeRecvMsg(body)
	case PacketAmbiguous0B:
		if mode == ModeServer {
			return decodeSendMessage(body)
		}
		return Disconnect{}, nil
	case PacketNotifyLast:
		entries, err := decodeContactEntries(body)
		if err != nil {
			return nil, err
		}
		return NotifyLast{Entries: entries}, nil
	case PacketStatus60: // shares 0x000F with NotifyFirst; direction picks the meaning
		if mode == ModeServer {
			entries, err := decodeContactEntries(body)
			if err != nil {
				return nil, err
			}
			return NotifyFirst{Entries: entries}, nil
		}
		return decodeStatus60(body)
	case PacketNotifyReply60:
		return decodeNotifyReply60(body)
	case PacketListEmpty:
		return ListEmpty{}, nil
	case PacketLogin60:
		return decodeLogin60(body)
	default:
		return nil, &ErrUnsupportedPacket{Type: uint32(typ)}
	}
}

// Encode appends the wire bytes for f to out and returns the extended
// slice. Each packet kind is responsible for consuming/producing the
// exact byte layout in spec §3/§4.1.
func Encode(out []byte, f Frame) ([]byte, error) {
	body, err := encodeBody(f)
	if err != nil {
		return nil, err
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(f.Type))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(body)))
	out = append(out, header[:]...)
	out = append(out, body...)
	return out, nil
}

func encodeBody(f Frame) ([]byte, error) {
	switch p := f.Payload.(type) {
	case Welcome:
		return encodeWelcome(p), nil
	case NewStatusPacket:
		return encodeNewStatus(p), nil
	case LoginOk:
		return nil, nil
	case SendMsgAck:
		return encodeSendMsgAck(p), nil
	case Pong:
		return nil, nil
	case PingPacket:
		return nil, nil
	case LoginFailed:
		return nil, nil
	case RecvMsg:
		return encodeRecvMsg(p), nil
	case SendMessage:
		return encodeSendMessage(p), nil
	case Disconnect:
		return nil, nil
	case NotifyFirst:
		return encodeContactEntries(p.Entries), nil
	case NotifyLast:
		return encodeContactEntries(p.Entries), nil
	case Status60:
		return encodeContactStatusNoSize(p.Contact), nil
	case NotifyReply60:
		return encodeNotifyReply60(p), nil
	case ListEmpty:
		return nil, nil
	case Login60:
		return encodeLogin60(p), nil
	default:
		return nil, &ErrMalformed{Reason: "unknown payload type for encode"}
	}
}

// --- description + optional time tail (Login60, NewStatus, Status60 no-size) ---

func readDescAndTime(remaining []byte) (desc string, hasDescr bool, t uint32, hasTime bool) {
	if len(remaining) == 0 {
		return "", false, 0, false
	}

	idx := bytes.IndexByte(remaining, 0x00)
	var descBytes, rest []byte
	if idx < 0 {
		descBytes = remaining
		rest = nil
	} else {
		descBytes = remaining[:idx]
		rest = remaining[idx+1:]
	}

	if len(descBytes) == 0 {
		desc, hasDescr = "", false
	} else {
		desc, hasDescr = decodeCP1250(descBytes), true
	}

	if len(rest) >= 4 {
		t = binary.LittleEndian.Uint32(rest[:4])
		hasTime = true
	}
	return desc, hasDescr, t, hasTime
}

func writeDescAndTime(out []byte, desc string, hasDescr bool, t uint32, hasTime bool) []byte {
	if !hasDescr {
		return out
	}
	out = append(out, encodeCP1250(desc)...)
	out = append(out, 0x00)
	if hasTime {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], t)
		out = append(out, buf[:]...)
	}
	return out
}

// --- Welcome ---

func decodeWelcome(body []byte) (Welcome, error) {
	if len(body) < 4 {
		return Welcome{}, &ErrMalformed{Reason: "welcome: short body"}
	}
	return Welcome{Seed: binary.LittleEndian.Uint32(body[0:4])}, nil
}

func encodeWelcome(w Welcome) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, w.Seed)
	return buf
}

// --- NewStatus ---

func decodeNewStatus(body []byte) (NewStatusPacket, error) {
	if len(body) < 4 {
		return NewStatusPacket{}, &ErrMalformed{Reason: "new_status: short body"}
	}
	status := Status(binary.LittleEndian.Uint32(body[0:4]))
	desc, hasDescr, t, hasTime := readDescAndTime(body[4:])
	return NewStatusPacket{Status: status, Description: desc, HasDescr: hasDescr, Time: t, HasTime: hasTime}, nil
}

func encodeNewStatus(p NewStatusPacket) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(p.Status))
	return writeDescAndTime(out, p.Description, p.HasDescr, p.Time, p.HasTime)
}

// --- SendMsgAck ---

func decodeSendMsgAck(body []byte) (SendMsgAck, error) {
	if len(body) < 12 {
		return SendMsgAck{}, &ErrMalformed{Reason: "send_msg_ack: short body"}
	}
	return SendMsgAck{
		Status:    AckStatus(binary.LittleEndian.Uint32(body[0:4])),
		Recipient: UIN(binary.LittleEndian.Uint32(body[4:8])),
		Seq:       binary.LittleEndian.Uint32(body[8:12]),
	}, nil
}

func encodeSendMsgAck(p SendMsgAck) []byte {
	out := make([]byte, 12)
	binary.LittleEndian.PutUint32(out[0:4], uint32(p.Status))
	binary.LittleEndian.PutUint32(out[4:8], uint32(p.Recipient))
	binary.LittleEndian.PutUint32(out[8:12], p.Seq)
	return out
}

// --- RecvMsg / SendMessage (shared message-with-NUL-and-richtext layout) ---

func decodeRecvMsg(body []byte) (RecvMsg, error) {
	if len(body) < 16 {
		return RecvMsg{}, &ErrMalformed{Reason: "recv_msg: short body"}
	}
	sender := UIN(binary.LittleEndian.Uint32(body[0:4]))
	seq := binary.LittleEndian.Uint32(body[4:8])
	t := binary.LittleEndian.Uint32(body[8:12])
	class := MessageClass(binary.LittleEndian.Uint32(body[12:16]))

	msg, rest := splitNULTerminated(body[16:])
	entries, hasFormat := decodeRichText(rest)

	return RecvMsg{
		Sender:     sender,
		Seq:        seq,
		Time:       t,
		Class:      class,
		Message:    decodeCP1250(msg),
		Formatting: entries,
		HasFormat:  hasFormat,
	}, nil
}

func encodeRecvMsg(p RecvMsg) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:4], uint32(p.Sender))
	binary.LittleEndian.PutUint32(out[4:8], p.Seq)
	binary.LittleEndian.PutUint32(out[8:12], p.Time)
	binary.LittleEndian.PutUint32(out[12:16], uint32(p.Class))
	out = append(out, encodeCP1250(p.Message)...)
	out = append(out, 0x00)
	if p.HasFormat {
		out = encodeRichText(out, p.Formatting)
	}
	return out
}

// decodeSendMessage parses a client's relay request. Per spec §8's
// scenario 6, an empty or truncated body (as short as the bare 0x000B
// header with no payload at all) is not an error: each field defaults
// to zero when the bytes for it aren't present, and Class defaults to
// the Msg class rather than zero.
func decodeSendMessage(body []byte) (SendMessage, error) {
	var recipient UIN
	var seq uint32
	class := ClassMsg

	rest := body
	if v, r, ok := readUint32(rest); ok {
		recipient = UIN(v)
		rest = r
	} else {
		rest = nil
	}
	if v, r, ok := readUint32(rest); ok {
		seq = v
		rest = r
	} else {
		rest = nil
	}
	if v, r, ok := readUint32(rest); ok {
		class = MessageClass(v)
		rest = r
	} else {
		rest = nil
	}

	msg, tail := splitNULTerminated(rest)
	entries, hasFormat := decodeRichText(tail)

	return SendMessage{
		Recipient:  recipient,
		Seq:        seq,
		Class:      class,
		Message:    decodeCP1250(msg),
		Formatting: entries,
		HasFormat:  hasFormat,
	}, nil
}

// readUint32 reads a little-endian uint32 off the front of body,
// reporting ok=false without consuming anything if fewer than 4 bytes
// remain.
func readUint32(body []byte) (value uint32, rest []byte, ok bool) {
	if len(body) < 4 {
		return 0, body, false
	}
	return binary.LittleEndian.Uint32(body[0:4]), body[4:], true
}

func encodeSendMessage(p SendMessage) []byte {
	out := make([]byte, 12)
	binary.LittleEndian.PutUint32(out[0:4], uint32(p.Recipient))
	binary.LittleEndian.PutUint32(out[4:8], p.Seq)
	binary.LittleEndian.PutUint32(out[8:12], uint32(p.Class))
	out = append(out, encodeCP1250(p.Message)...)
	out = append(out, 0x00)
	if p.HasFormat {
		out = encodeRichText(out, p.Formatting)
	}
	return out
}

func splitNULTerminated(remaining []byte) (field, rest []byte) {
	idx := bytes.IndexByte(remaining, 0x00)
	if idx < 0 {
		return remaining, nil
	}
	return remaining[:idx], remaining[idx+1:]
}

// --- NotifyFirst / NotifyLast contact entry arrays ---

const contactEntrySize = 5 // u32 uin + u8 type

func decodeContactEntries(body []byte) ([]ContactEntry, error) {
	var entries []ContactEntry
	for len(body) >= contactEntrySize {
		uin := UIN(binary.LittleEndian.Uint32(body[0:4]))
		typ := ContactType(body[4])
		entries = append(entries, ContactEntry{UIN: uin, Type: typ})
		body = body[contactEntrySize:]
	}
	return entries, nil
}

func encodeContactEntries(entries []ContactEntry) []byte {
	out := make([]byte, 0, len(entries)*contactEntrySize)
	for _, e := range entries {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(e.UIN))
		out = append(out, buf[:]...)
		out = append(out, byte(e.Type))
	}
	return out
}

// --- contact status record (Status60 no-size form & NotifyReply60 sized form) ---

const contactStatusBaseSize = 14

func decodeContactStatusBase(body []byte) (ContactStatus, error) {
	if len(body) < contactStatusBaseSize {
		return ContactStatus{}, &ErrMalformed{Reason: "contact_status: short base record"}
	}
	uin, flags := SplitUINFlags(binary.LittleEndian.Uint32(body[0:4]))
	cs := ContactStatus{
		UIN:    uin,
		Flags:  flags,
		Status: Status(body[4]),
	}
	copy(cs.RemoteIP[:], body[5:9])
	cs.RemotePort = binary.LittleEndian.Uint16(body[9:11])
	cs.Version = body[11]
	cs.ImageSize = body[12]
	cs.Unknown = body[13]
	return cs, nil
}

func encodeContactStatusBase(cs ContactStatus) []byte {
	out := make([]byte, contactStatusBaseSize)
	binary.LittleEndian.PutUint32(out[0:4], PackUINFlags(cs.UIN, cs.Flags))
	out[4] = byte(cs.Status)
	copy(out[5:9], cs.RemoteIP[:])
	binary.LittleEndian.PutUint16(out[9:11], cs.RemotePort)
	out[11] = cs.Version
	out[12] = cs.ImageSize
	out[13] = cs.Unknown
	return out
}

func decodeStatus60(body []byte) (Status60, error) {
	cs, err := decodeContactStatusBase(body)
	if err != nil {
		return Status60{}, err
	}
	if cs.Status.HasDescription() {
		desc, hasDescr, t, hasTime := readDescAndTime(body[contactStatusBaseSize:])
		cs.Description, cs.HasDescr, cs.Time, cs.HasTime = desc, hasDescr, t, hasTime
	}
	return Status60{Contact: cs}, nil
}

func encodeContactStatusNoSize(cs ContactStatus) []byte {
	out := encodeContactStatusBase(cs)
	if !cs.Status.HasDescription() {
		return out
	}
	return writeDescAndTime(out, cs.Description, cs.HasDescr, cs.Time, cs.HasTime)
}

// decodeContactStatusSized decodes one NotifyReply60 record and
// returns the number of bytes consumed (base + optional size byte +
// optional description/time tail), per spec §4.1's sized-form rules.
func decodeContactStatusSized(body []byte) (ContactStatus, int, error) {
	cs, err := decodeContactStatusBase(body)
	if err != nil {
		return ContactStatus{}, 0, err
	}
	consumed := contactStatusBaseSize

	if !cs.Status.HasDescription() {
		return cs, consumed, nil
	}
	if len(body) < consumed+1 {
		return cs, consumed, nil
	}
	descSize := body[consumed]
	consumed++

	if descSize == 0 {
		return cs, consumed, nil
	}

	hasTime := descSize >= 5
	var descLen int
	if hasTime {
		descLen = int(descSize) - 5
	} else {
		descLen = int(descSize) - 1
	}
	if descLen < 0 {
		descLen = 0
	}

	tail := body[consumed:]
	if descLen > len(tail) {
		descLen = len(tail)
	}
	descBytes := tail[:descLen]
	rest := tail[descLen:]

	if len(descBytes) > 0 {
		cs.Description, cs.HasDescr = decodeCP1250(descBytes), true
	}
	consumed += descLen
	if len(rest) > 0 { // skip NUL terminator
		consumed++
		rest = rest[1:]
	}
	if hasTime && len(rest) >= 4 {
		cs.Time = binary.LittleEndian.Uint32(rest[:4])
		cs.HasTime = true
		consumed += 4
	}

	return cs, consumed, nil
}

func encodeContactStatusSized(cs ContactStatus) []byte {
	out := encodeContactStatusBase(cs)
	if !cs.Status.HasDescription() {
		return out
	}

	descBytes := encodeCP1250(cs.Description)
	descSize := 0
	if cs.HasDescr {
		descSize = len(descBytes) + 1
		if cs.HasTime {
			descSize += 4
		}
	}

	out = append(out, byte(descSize))
	if descSize == 0 {
		return out
	}
	out = append(out, descBytes...)
	out = append(out, 0x00)
	if cs.HasTime {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], cs.Time)
		out = append(out, buf[:]...)
	}
	return out
}

func decodeNotifyReply60(body []byte) (NotifyReply60, error) {
	var contacts []ContactStatus
	for len(body) >= contactStatusBaseSize {
		cs, consumed, err := decodeContactStatusSized(body)
		if err != nil {
			return NotifyReply60{}, err
		}
		contacts = append(contacts, cs)
		if consumed <= 0 || consumed > len(body) {
			break
		}
		body = body[consumed:]
	}
	return NotifyReply60{Contacts: contacts}, nil
}

func encodeNotifyReply60(p NotifyReply60) []byte {
	var out []byte
	for _, cs := range p.Contacts {
		out = append(out, encodeContactStatusSized(cs)...)
	}
	return out
}

// --- Login60 ---

const login60HeaderSize = 31

func decodeLogin60(body []byte) (Login60, error) {
	if len(body) < login60HeaderSize {
		return Login60{}, &ErrMalformed{Reason: "login60: short header"}
	}
	l := Login60{
		UIN:     UIN(binary.LittleEndian.Uint32(body[0:4])),
		Hash:    binary.LittleEndian.Uint32(body[4:8]),
		Status:  Status(binary.LittleEndian.Uint32(body[8:12])),
		Version: binary.LittleEndian.Uint32(body[12:16]),
	}
	l.Unknown1 = body[16]
	copy(l.LocalIP[:], body[17:21])
	l.LocalPort = binary.LittleEndian.Uint16(body[21:23])
	copy(l.ExternalIP[:], body[23:27])
	l.ExternalPort = binary.LittleEndian.Uint16(body[27:29])
	l.ImageSize = body[29]
	l.Unknown2 = body[30]

	desc, hasDescr, t, hasTime := readDescAndTime(body[login60HeaderSize:])
	l.Description, l.HasDescr, l.Time, l.HasTime = desc, hasDescr, t, hasTime
	return l, nil
}

func encodeLogin60(l Login60) []byte {
	out := make([]byte, login60HeaderSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(l.UIN))
	binary.LittleEndian.PutUint32(out[4:8], l.Hash)
	binary.LittleEndian.PutUint32(out[8:12], uint32(l.Status))
	binary.LittleEndian.PutUint32(out[12:16], l.Version)
	out[16] = l.Unknown1
	copy(out[17:21], l.LocalIP[:])
	binary.LittleEndian.PutUint16(out[21:23], l.LocalPort)
	copy(out[23:27], l.ExternalIP[:])
	binary.LittleEndian.PutUint16(out[27:29], l.ExternalPort)
	out[29] = l.ImageSize
	out[30] = l.Unknown2

	return writeDescAndTime(out, l.Description, l.HasDescr, l.Time, l.HasTime)
}
