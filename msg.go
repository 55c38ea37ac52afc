package nlink

import (
	"fmt"

	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// msg.c

const (
	nlmFCapped  = 0x100 // NLM_F_CAPPED
	nlmFAckTLVs = 0x200 // NLM_F_ACK_TLVS
)

const (
	NLMSGERR_ATTR_UNUSED = iota
	NLMSGERR_ATTR_MSG
	NLMSGERR_ATTR_OFFS
	NLMSGERR_ATTR_COOKIE
)

var extAckPolicy = MapPolicy{
	Prefix: "NLMSGERR_ATTR",
	Names: map[uint16]string{
		NLMSGERR_ATTR_MSG:    "MSG",
		NLMSGERR_ATTR_OFFS:   "OFFS",
		NLMSGERR_ATTR_COOKIE: "COOKIE",
	},
	Rule: map[uint16]Policy{
		NLMSGERR_ATTR_MSG:    NLA_NUL_STRING,
		NLMSGERR_ATTR_OFFS:   NLA_U32,
		NLMSGERR_ATTR_COOKIE: NLA_BINARY,
	},
}

// Message is one netlink message: the nlmsghdr and the payload following it.
type Message struct {
	Header unix.NlMsghdr
	Data   []byte
}

// NewRequest builds a request message. NLM_F_REQUEST is always set; the
// sequence number is filled in by the hub.
func NewRequest(mtype uint16, flags uint16, payload []byte, attrs AttrList) Message {
	data := make([]byte, NLMSG_ALIGN(len(payload)))
	copy(data, payload)
	data = append(data, attrs.Bytes()...)
	return Message{
		Header: unix.NlMsghdr{
			Type:  mtype,
			Flags: flags | unix.NLM_F_REQUEST,
		},
		Data: data,
	}
}

// Bytes encodes the message. Header.Len is derived from Data.
func (self Message) Bytes() []byte {
	buf := make([]byte, unix.NLMSG_HDRLEN+NLMSG_ALIGN(len(self.Data)))
	hdr := self.Header
	hdr.Len = uint32(unix.NLMSG_HDRLEN + len(self.Data))
	putHeader(buf, hdr)
	copy(buf[unix.NLMSG_HDRLEN:], self.Data)
	return buf
}

func (self Message) String() string {
	return fmt.Sprintf("nlmsg(type=%d flags=%#x seq=%d pid=%d len=%d)",
		self.Header.Type, self.Header.Flags, self.Header.Seq, self.Header.Pid, len(self.Data))
}

func putHeader(b []byte, hdr unix.NlMsghdr) {
	nlenc.PutUint32(b[0:4], hdr.Len)
	nlenc.PutUint16(b[4:6], hdr.Type)
	nlenc.PutUint16(b[6:8], hdr.Flags)
	nlenc.PutUint32(b[8:12], hdr.Seq)
	nlenc.PutUint32(b[12:16], hdr.Pid)
}

func parseHeader(b []byte) unix.NlMsghdr {
	return unix.NlMsghdr{
		Len:   nlenc.Uint32(b[0:4]),
		Type:  nlenc.Uint16(b[4:6]),
		Flags: nlenc.Uint16(b[6:8]),
		Seq:   nlenc.Uint32(b[8:12]),
		Pid:   nlenc.Uint32(b[12:16]),
	}
}

// ParseMessages splits a datagram into messages in receipt order. On a
// header/length inconsistency the messages before the bad one are returned
// together with an NLE_MSG_TOOSHORT error.
func ParseMessages(buf []byte) ([]Message, error) {
	msgs, _, err := splitMessages(buf)
	return msgs, err
}

// splitMessages is ParseMessages that also reports the sequence number of a
// malformed message when its header is intact, 0 otherwise.
func splitMessages(buf []byte) ([]Message, uint32, error) {
	var msgs []Message
	for len(buf) > 0 {
		if len(buf) < unix.NLMSG_HDRLEN {
			return msgs, 0, errors.Wrapf(NLE_MSG_TOOSHORT, "%d trailing bytes", len(buf))
		}
		hdr := parseHeader(buf)
		if hdr.Len < unix.NLMSG_HDRLEN || int(hdr.Len) > len(buf) {
			return msgs, hdr.Seq, errors.Wrapf(NLE_MSG_TOOSHORT, "seq=%d declares %d bytes, %d available",
				hdr.Seq, hdr.Len, len(buf))
		}
		msgs = append(msgs, Message{
			Header: hdr,
			Data:   buf[unix.NLMSG_HDRLEN:hdr.Len],
		})
		next := NLMSG_ALIGN(int(hdr.Len))
		if next > len(buf) {
			next = len(buf)
		}
		buf = buf[next:]
	}
	return msgs, 0, nil
}

// Err reports the terminal condition a control message carries. It returns
// nil for data messages, NLMSG_DONE and the NLMSG_ERROR acknowledgement
// (code 0).
func (self Message) Err() error {
	switch self.Header.Type {
	case unix.NLMSG_ERROR:
		if len(self.Data) < 4 {
			return errors.Wrapf(NLE_MSG_TOOSHORT, "seq=%d: nlmsgerr of %d bytes", self.Header.Seq, len(self.Data))
		}
		code := int32(nlenc.Uint32(self.Data[0:4]))
		if code == 0 {
			return nil
		}
		kerr := &KernelError{Code: code}
		if self.Header.Flags&nlmFAckTLVs != 0 {
			kerr.parseExtAck(self.Header.Flags, self.Data[4:])
		}
		return kerr
	case unix.NLMSG_DONE:
		if self.Header.Flags&unix.NLM_F_DUMP_INTR != 0 {
			return errors.Wrapf(NLE_DUMP_INTR, "seq=%d", self.Header.Seq)
		}
		// a dump that fails midway reports the error in the DONE payload
		if len(self.Data) >= 4 {
			if code := int32(nlenc.Uint32(self.Data[0:4])); code < 0 {
				return &KernelError{Code: code}
			}
		}
	case unix.NLMSG_OVERRUN:
		return errors.Wrapf(NLE_MSG_OVERFLOW, "seq=%d", self.Header.Seq)
	}
	return nil
}

// KernelError is a request the kernel rejected with a negative errno.
type KernelError struct {
	Code   int32
	Msg    string // extended ack message, if any
	Offset uint32 // extended ack offset of the offending attribute
}

func (self *KernelError) Error() string {
	s := fmt.Sprintf("netlink error %d (%s)", self.Code, unix.Errno(-self.Code).Error())
	if self.Msg != "" {
		s += ": " + self.Msg
	}
	return s
}

func (self *KernelError) Unwrap() error {
	return unix.Errno(-self.Code)
}

// parseExtAck reads the TLVs following the echoed request header. Malformed
// extended acks are ignored; the errno alone is still meaningful.
func (self *KernelError) parseExtAck(flags uint16, b []byte) {
	if len(b) < unix.NLMSG_HDRLEN {
		return
	}
	off := unix.NLMSG_HDRLEN
	if flags&nlmFCapped == 0 {
		off = NLMSG_ALIGN(int(parseHeader(b).Len))
	}
	if off > len(b) {
		return
	}
	attrs, err := extAckPolicy.Parse(b[off:])
	if err != nil {
		return
	}
	if v, ok := attrs.Get(NLMSGERR_ATTR_MSG).(string); ok {
		self.Msg = v
	}
	if v, ok := attrs.Get(NLMSGERR_ATTR_OFFS).(uint32); ok {
		self.Offset = v
	}
}
