package protocol

// Frame is a fully decoded wire frame: a packet type tag plus exactly
// one payload struct. Callers recover the concrete payload with a type
// assertion or type switch on Payload — the packet set is a closed sum
// type, not a base class.
type Frame struct {
	Type    PacketType
	Payload interface{}
}

// Welcome is the first frame the server sends (S->C).
type Welcome struct {
	Seed uint32
}

// NewStatusPacket is a client's status change announcement (C->S).
type NewStatusPacket struct {
	Status      Status
	Description string
	HasDescr    bool
	Time        uint32
	HasTime     bool
}

// LoginOk is sent after successful authentication (S->C, empty body).
type LoginOk struct{}

// SendMsgAck acknowledges a relayed message (S->C).
type SendMsgAck struct {
	Status    AckStatus
	Recipient UIN
	Seq       uint32
}

// Pong replies to a client Ping (S->C, empty body).
type Pong struct{}

// PingPacket is a client keepalive (C->S, empty body).
type PingPacket struct{}

// LoginFailed is sent when authentication fails (S->C, empty body).
type LoginFailed struct{}

// RecvMsg delivers a relayed message to its recipient (S->C).
type RecvMsg struct {
	Sender      UIN
	Seq         uint32
	Time        uint32
	Class       MessageClass
	Message     string
	Formatting  []RichTextEntry
	HasFormat   bool
}

// SendMessage is a client's request to relay a message to another user
// (C->S; this is the ModeServer interpretation of PacketAmbiguous0B).
type SendMessage struct {
	Recipient  UIN
	Seq        uint32
	Class      MessageClass
	Message    string
	Formatting []RichTextEntry
	HasFormat  bool
}

// Disconnect tells a client its session has ended (S->C, empty body;
// this is the ModeClient interpretation of PacketAmbiguous0B).
type Disconnect struct{}

// ContactEntry is one element of a NotifyFirst/NotifyLast array.
type ContactEntry struct {
	UIN  UIN
	Type ContactType
}

// NotifyFirst is the first chunk of a client's contact list (C->S).
type NotifyFirst struct {
	Entries []ContactEntry
}

// NotifyLast is the final chunk of a client's contact list (C->S).
type NotifyLast struct {
	Entries []ContactEntry
}

// ContactStatus is a single contact's presence projection, shared by
// the Status60 (no size prefix) and NotifyReply60 (size-prefixed) wire
// forms; which form a given Frame uses is determined by its PacketType.
type ContactStatus struct {
	UIN         UIN
	Flags       uint8
	Status      Status
	RemoteIP    [4]byte
	RemotePort  uint16
	Version     uint8
	ImageSize   uint8
	Unknown     uint8
	Description string
	HasDescr    bool
	Time        uint32
	HasTime     bool
}

// Status60 is a single contact-status push sent when a watched user's
// presence changes (S->C, no size prefix).
type Status60 struct {
	Contact ContactStatus
}

// NotifyReply60 is the initial batch of contact statuses sent after a
// client uploads its contact list (S->C, size-prefixed records).
type NotifyReply60 struct {
	Contacts []ContactStatus
}

// ListEmpty tells the server the client's contact list is empty (C->S,
// empty body).
type ListEmpty struct{}

// Login60 is the client's authentication request (C->S).
type Login60 struct {
	UIN           UIN
	Hash          uint32
	Status        Status
	Version       uint32
	Unknown1      uint8
	LocalIP       [4]byte
	LocalPort     uint16
	ExternalIP    [4]byte
	ExternalPort  uint16
	ImageSize     uint8
	Unknown2      uint8
	Description   string
	HasDescr      bool
	Time          uint32
	HasTime       bool
}

// RichTextEntry is one formatting run in a rich-text trailer.
type RichTextEntry struct {
	Position uint16
	Font     uint8
	RGB      [3]byte
	HasRGB   bool
}
