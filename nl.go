// Package nlink implements a rtnetlink client for link queries.
//
// This grew out of nlgo, a golang port of libnl. For basic concept, please
// have a look at the libnl documentation http://www.infradead.org/~tgr/libnl/ .
//
// Requests are multiplexed over a single NETLINK_ROUTE socket by sequence
// number (see RtHub), and response payloads are decoded by attribute
// policies (see MapPolicy).
package nlink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func align(size, tick int) int {
	return (size + tick - 1) &^ (tick - 1)
}

func NLMSG_ALIGN(size int) int {
	return align(size, unix.NLMSG_ALIGNTO)
}

func NLA_ALIGN(size int) int {
	return align(size, unix.NLA_ALIGNTO)
}

var NLA_HDRLEN int = NLA_ALIGN(unix.SizeofNlAttr)

const NLA_TYPE_MASK = ^uint16(unix.NLA_F_NESTED | unix.NLA_F_NET_BYTEORDER)

// Attr represents single netlink attribute package.
//
// Value holds one of uint8, uint16, uint32, uint64, their signed variants,
// bool (flag), string, []byte or AttrList (nested). Attributes a policy does
// not know keep their raw bytes, or an AttrList when NLA_F_NESTED is set.
type Attr struct {
	Header unix.NlAttr
	Value  interface{}
}

func (self Attr) Field() uint16 {
	return self.Header.Type & NLA_TYPE_MASK
}

func (self Attr) Nested() bool {
	return self.Header.Type&unix.NLA_F_NESTED != 0
}

// Bytes encodes the attribute, recomputing Header.Len from Value.
func (self Attr) Bytes() []byte {
	netOrder := self.Header.Type&unix.NLA_F_NET_BYTEORDER != 0

	var value []byte
	switch v := self.Value.(type) {
	case uint8:
		value = []byte{v}
	case int8:
		value = []byte{uint8(v)}
	case uint16:
		value = put16(v, netOrder)
	case int16:
		value = put16(uint16(v), netOrder)
	case uint32:
		value = put32(v, netOrder)
	case int32:
		value = put32(uint32(v), netOrder)
	case uint64:
		value = put64(v, netOrder)
	case int64:
		value = put64(uint64(v), netOrder)
	case bool:
		// NLA_FLAG has no payload
	case string:
		// always NUL terminated, one byte longer than an NLA_STRING
		// that arrived without the terminator
		value = nlenc.Bytes(v)
	case []byte:
		value = v
	case AttrList:
		value = v.Bytes()
	}
	length := NLA_HDRLEN + len(value)
	buf := make([]byte, NLA_ALIGN(length))
	nlenc.PutUint16(buf[0:2], uint16(length))
	nlenc.PutUint16(buf[2:4], self.Header.Type)
	copy(buf[NLA_HDRLEN:], value)
	return buf
}

func put16(v uint16, netOrder bool) []byte {
	b := make([]byte, 2)
	if netOrder {
		binary.BigEndian.PutUint16(b, v)
	} else {
		nlenc.PutUint16(b, v)
	}
	return b
}

func put32(v uint32, netOrder bool) []byte {
	b := make([]byte, 4)
	if netOrder {
		binary.BigEndian.PutUint32(b, v)
	} else {
		nlenc.PutUint32(b, v)
	}
	return b
}

func put64(v uint64, netOrder bool) []byte {
	b := make([]byte, 8)
	if netOrder {
		binary.BigEndian.PutUint64(b, v)
	} else {
		nlenc.PutUint64(b, v)
	}
	return b
}

type AttrList []Attr

// Get returns the value of the first attribute of the field, nil if absent.
func (self AttrList) Get(field uint16) interface{} {
	for _, attr := range []Attr(self) {
		if attr.Field() == field {
			return attr.Value
		}
	}
	return nil
}

// GetAll returns the values of every attribute of the field in order.
func (self AttrList) GetAll(field uint16) []interface{} {
	var ret []interface{}
	for _, attr := range []Attr(self) {
		if attr.Field() == field {
			ret = append(ret, attr.Value)
		}
	}
	return ret
}

func (self AttrList) Bytes() []byte {
	var ret []byte
	for _, attr := range []Attr(self) {
		ret = append(ret, attr.Bytes()...)
	}
	return ret
}

type Policy interface {
	Parse([]byte) (AttrList, error)
}

// nextAttr splits the first attribute off buf.
func nextAttr(buf []byte) (hdr unix.NlAttr, value []byte, rest []byte, err error) {
	if len(buf) < NLA_HDRLEN {
		err = errors.Wrapf(NLE_RANGE, "%d trailing bytes", len(buf))
		return
	}
	hdr.Len = nlenc.Uint16(buf[0:2])
	hdr.Type = nlenc.Uint16(buf[2:4])
	if int(hdr.Len) < NLA_HDRLEN || int(hdr.Len) > len(buf) {
		err = errors.Wrapf(NLE_RANGE, "attribute %d declares %d bytes, %d available",
			hdr.Type&NLA_TYPE_MASK, hdr.Len, len(buf))
		return
	}
	value = buf[NLA_HDRLEN:hdr.Len]
	next := NLA_ALIGN(int(hdr.Len))
	if next > len(buf) {
		next = len(buf)
	}
	rest = buf[next:]
	return
}

// SimplePolicy represents non-nested netlink attribute policy.
type SimplePolicy uint16

const (
	NLA_UNSPEC SimplePolicy = iota
	NLA_U8
	NLA_U16
	NLA_U32
	NLA_U64
	NLA_STRING
	NLA_FLAG
	NLA_MSECS
	NLA_NESTED
	NLA_NESTED_COMPAT
	NLA_NUL_STRING
	NLA_BINARY
	NLA_S8
	NLA_S16
	NLA_S32
	NLA_S64
)

func (self SimplePolicy) Parse(nla []byte) (AttrList, error) {
	if attr, err := self.ParseOne(nla); err != nil {
		return nil, err
	} else {
		return []Attr{attr}, nil
	}
}

// ParseOne decodes the single attribute at the head of nla.
func (self SimplePolicy) ParseOne(nla []byte) (Attr, error) {
	hdr, value, _, err := nextAttr(nla)
	if err != nil {
		return Attr{}, err
	}
	return self.decode(hdr, value)
}

func (self SimplePolicy) decode(hdr unix.NlAttr, value []byte) (attr Attr, err error) {
	attr.Header = hdr
	field := hdr.Type & NLA_TYPE_MASK
	netOrder := hdr.Type&unix.NLA_F_NET_BYTEORDER != 0

	sized := func(n int) bool {
		if len(value) != n {
			err = errors.Wrapf(NLE_RANGE, "attribute %d: want %d bytes, got %d", field, n, len(value))
			return false
		}
		return true
	}
	u16 := func() uint16 {
		if netOrder {
			return binary.BigEndian.Uint16(value)
		}
		return nlenc.Uint16(value)
	}
	u32 := func() uint32 {
		if netOrder {
			return binary.BigEndian.Uint32(value)
		}
		return nlenc.Uint32(value)
	}
	u64 := func() uint64 {
		if netOrder {
			return binary.BigEndian.Uint64(value)
		}
		return nlenc.Uint64(value)
	}

	switch self {
	default:
		err = errors.Wrapf(NLE_INVAL, "attribute %d: policy %d", field, self)
	case NLA_U8:
		if sized(1) {
			attr.Value = value[0]
		}
	case NLA_S8:
		if sized(1) {
			attr.Value = int8(value[0])
		}
	case NLA_U16:
		if sized(2) {
			attr.Value = u16()
		}
	case NLA_S16:
		if sized(2) {
			attr.Value = int16(u16())
		}
	case NLA_U32:
		if sized(4) {
			attr.Value = u32()
		}
	case NLA_S32:
		if sized(4) {
			attr.Value = int32(u32())
		}
	case NLA_U64, NLA_MSECS:
		if sized(8) {
			attr.Value = u64()
		}
	case NLA_S64:
		if sized(8) {
			attr.Value = int64(u64())
		}
	case NLA_STRING, NLA_NUL_STRING:
		// the terminator and anything after it are dropped; Bytes writes
		// a terminator back whether or not one was received
		if i := bytes.IndexByte(value, 0); i >= 0 {
			value = value[:i]
		}
		if !utf8.Valid(value) {
			err = errors.Wrapf(NLE_PARSE_ERR, "attribute %d: string is not valid UTF-8", field)
		} else {
			attr.Value = string(value)
		}
	case NLA_BINARY:
		attr.Value = value
	case NLA_FLAG:
		attr.Value = true
	case NLA_NESTED, NLA_NESTED_COMPAT:
		attr.Value, err = opaquePolicy.Parse(value)
	}
	return
}

// ListPolicy decodes a nested set whose entries all follow the same policy.
type ListPolicy struct {
	Nested Policy
}

func (self ListPolicy) Parse(buf []byte) (AttrList, error) {
	var ret []Attr
	for len(buf) > 0 {
		hdr, value, rest, err := nextAttr(buf)
		if err != nil {
			return nil, err
		}
		switch policy := self.Nested.(type) {
		case SimplePolicy:
			if attr, err := policy.decode(hdr, value); err != nil {
				return nil, err
			} else {
				ret = append(ret, attr)
			}
		default:
			if attrs, err := self.Nested.Parse(value); err != nil {
				return nil, err
			} else {
				ret = append(ret, Attr{
					Header: hdr,
					Value:  attrs,
				})
			}
		}
		buf = rest
	}
	return ret, nil
}

func (self ListPolicy) Dump(attrs AttrList) string {
	var comps []string
	for _, attr := range []Attr(attrs) {
		comps = append(comps, fmt.Sprintf("%d: %s", attr.Field(), dumpValue(self.Nested, attr.Value)))
	}
	return fmt.Sprintf("[%s]", strings.Join(comps, ", "))
}

// opaquePolicy keeps every attribute: raw bytes, or a recursive decode when
// NLA_F_NESTED is set.
var opaquePolicy Policy = MapPolicy{Prefix: "?"}

type MapPolicy struct {
	Prefix string
	Names  map[uint16]string
	Rule   map[uint16]Policy
}

func (self MapPolicy) Parse(buf []byte) (AttrList, error) {
	var ret []Attr
	for len(buf) > 0 {
		hdr, value, rest, err := nextAttr(buf)
		if err != nil {
			return nil, err
		}
		attr := Attr{Header: hdr}
		if p, ok := self.Rule[hdr.Type&NLA_TYPE_MASK]; ok {
			switch policy := p.(type) {
			case SimplePolicy:
				if fattr, err := policy.decode(hdr, value); err != nil {
					return nil, err
				} else {
					attr = fattr
				}
			default:
				if attrs, err := p.Parse(value); err != nil {
					return nil, err
				} else {
					attr.Value = attrs
				}
			}
		} else if hdr.Type&unix.NLA_F_NESTED == 0 {
			attr.Value = value
		} else if attrs, err := opaquePolicy.Parse(value); err != nil {
			return nil, err
		} else {
			attr.Value = attrs
		}
		ret = append(ret, attr)
		buf = rest
	}
	return ret, nil
}

func (self MapPolicy) Dump(attrs AttrList) string {
	var comps []string
	for _, attr := range []Attr(attrs) {
		field := attr.Field()
		name := fmt.Sprintf("?(%d)", field)
		if n, ok := self.Names[field]; ok {
			name = n
		}
		comps = append(comps, fmt.Sprintf("%s: %s", name, dumpValue(self.Rule[field], attr.Value)))
	}
	return fmt.Sprintf("%s(%s)", self.Prefix, strings.Join(comps, ", "))
}

func dumpValue(p Policy, value interface{}) string {
	if attrs, ok := value.(AttrList); ok {
		switch policy := p.(type) {
		case MapPolicy:
			return policy.Dump(attrs)
		case ListPolicy:
			return policy.Dump(attrs)
		default:
			return opaquePolicy.(MapPolicy).Dump(attrs)
		}
	}
	return fmt.Sprintf("%#v", value)
}

// error.h

type NlError int

// Codes keep their libnl values.
const (
	NLE_SUCCESS        NlError = 0
	NLE_FAILURE        NlError = 1
	NLE_BAD_SOCK       NlError = 3
	NLE_INVAL          NlError = 7
	NLE_RANGE          NlError = 8
	NLE_OBJ_NOTFOUND   NlError = 12
	NLE_MSG_OVERFLOW   NlError = 17
	NLE_MSG_TRUNC      NlError = 18
	NLE_MSG_TOOSHORT   NlError = 21
	NLE_PROTO_MISMATCH NlError = 26
	NLE_PARSE_ERR      NlError = 30
	NLE_DUMP_INTR      NlError = 33
)

func (self NlError) Error() string {
	switch self {
	default:
		return "Unspecific failure"
	case NLE_SUCCESS:
		return "Success"
	case NLE_BAD_SOCK:
		return "Netlink connection closed"
	case NLE_INVAL:
		return "Invalid input data or parameter"
	case NLE_RANGE:
		return "Attribute truncated"
	case NLE_OBJ_NOTFOUND:
		return "Object not found"
	case NLE_MSG_OVERFLOW:
		return "Kernel reported message overflow"
	case NLE_MSG_TRUNC:
		return "Kernel reported truncated message"
	case NLE_MSG_TOOSHORT:
		return "Malformed netlink message"
	case NLE_PROTO_MISMATCH:
		return "Protocol invariant violated"
	case NLE_PARSE_ERR:
		return "Invalid attribute encoding"
	case NLE_DUMP_INTR:
		return "Dump inconsistency detected, interrupted"
	}
}
