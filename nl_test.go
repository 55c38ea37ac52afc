package nlink

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func rawAttr(typ uint16, value []byte) []byte {
	return Attr{Header: unix.NlAttr{Type: typ}, Value: value}.Bytes()
}

func TestAlign(t *testing.T) {
	for in, want := range map[int]int{0: 0, 1: 4, 4: 4, 5: 8, 16: 16, 17: 20} {
		if got := NLMSG_ALIGN(in); got != want {
			t.Errorf("NLMSG_ALIGN(%d) = %d, want %d", in, got, want)
		}
		if got := NLA_ALIGN(in); got != want {
			t.Errorf("NLA_ALIGN(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestAttrBytesPadding(t *testing.T) {
	b := Attr{Header: unix.NlAttr{Type: unix.IFLA_IFNAME}, Value: "lo"}.Bytes()
	want := []byte{7, 0, 3, 0, 'l', 'o', 0, 0}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("IFLA_IFNAME mismatch (-want +got):\n%s", diff)
	}
}

func TestMapPolicyUnknownAttributes(t *testing.T) {
	policy := MapPolicy{
		Prefix: "T",
		Rule: map[uint16]Policy{
			1: NLA_U32,
		},
	}
	inner := rawAttr(7, []byte{1, 2})
	buf := append(Attr{Header: unix.NlAttr{Type: 1}, Value: uint32(42)}.Bytes(),
		rawAttr(99, []byte{0xde, 0xad, 0xbe})...)
	buf = append(buf, rawAttr(100|unix.NLA_F_NESTED, inner)...)

	attrs, err := policy.Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 3 {
		t.Fatalf("got %d attributes, want 3", len(attrs))
	}
	if v, ok := attrs.Get(1).(uint32); !ok || v != 42 {
		t.Errorf("field 1 = %#v, want uint32(42)", attrs.Get(1))
	}
	if diff := cmp.Diff([]byte{0xde, 0xad, 0xbe}, attrs.Get(99)); diff != "" {
		t.Errorf("unknown raw attribute (-want +got):\n%s", diff)
	}
	nested, ok := attrs.Get(100).(AttrList)
	if !ok {
		t.Fatalf("field 100 = %#v, want AttrList", attrs.Get(100))
	}
	if diff := cmp.Diff([]byte{1, 2}, nested.Get(7)); diff != "" {
		t.Errorf("nested unknown attribute (-want +got):\n%s", diff)
	}
	if !attrs[2].Nested() || attrs[2].Field() != 100 {
		t.Errorf("nested header = %+v", attrs[2].Header)
	}
}

func TestParseTruncated(t *testing.T) {
	whole := rawAttr(unix.IFLA_MTU, []byte{0, 0, 1, 0})
	for _, c := range []struct {
		name string
		buf  []byte
	}{
		{"length beyond buffer", whole[:6]},
		{"trailing bytes", append(append([]byte{}, whole...), 1, 2)},
		{"length below header", []byte{2, 0, 4, 0}},
	} {
		t.Run(c.name, func(t *testing.T) {
			_, err := RouteLinkPolicy.Parse(c.buf)
			if !errors.Is(err, NLE_RANGE) {
				t.Errorf("err = %v, want NLE_RANGE", err)
			}
		})
	}
}

func TestSimplePolicySizes(t *testing.T) {
	_, err := NLA_U32.ParseOne(rawAttr(1, []byte{1, 2}))
	if !errors.Is(err, NLE_RANGE) {
		t.Errorf("short u32: err = %v, want NLE_RANGE", err)
	}
	_, err = NLA_U8.ParseOne(rawAttr(1, []byte{1, 2}))
	if !errors.Is(err, NLE_RANGE) {
		t.Errorf("long u8: err = %v, want NLE_RANGE", err)
	}
}

func TestNetByteOrder(t *testing.T) {
	attr, err := NLA_U16.ParseOne(rawAttr(1|unix.NLA_F_NET_BYTEORDER, []byte{0x12, 0x34}))
	if err != nil {
		t.Fatal(err)
	}
	if attr.Value != uint16(0x1234) {
		t.Errorf("value = %#v, want 0x1234", attr.Value)
	}
	if attr.Field() != 1 {
		t.Errorf("field = %d, want 1", attr.Field())
	}
}

func TestStrings(t *testing.T) {
	attr, err := NLA_NUL_STRING.ParseOne(rawAttr(1, []byte("eth0\x00junk")))
	if err != nil {
		t.Fatal(err)
	}
	if attr.Value != "eth0" {
		t.Errorf("value = %q, want eth0", attr.Value)
	}

	attr, err = NLA_STRING.ParseOne(rawAttr(1, []byte("br0")))
	if err != nil {
		t.Fatal(err)
	}
	if attr.Value != "br0" {
		t.Errorf("value = %q, want br0", attr.Value)
	}

	_, err = NLA_NUL_STRING.ParseOne(rawAttr(1, []byte{0xff, 0xfe, 0}))
	if !errors.Is(err, NLE_PARSE_ERR) {
		t.Errorf("invalid utf-8: err = %v, want NLE_PARSE_ERR", err)
	}
}

func TestStringReencode(t *testing.T) {
	terminated := rawAttr(3, []byte("abc\x00"))
	attr, err := NLA_STRING.ParseOne(terminated)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(terminated, attr.Bytes()); diff != "" {
		t.Errorf("terminated string (-want +got):\n%s", diff)
	}

	attr, err = NLA_STRING.ParseOne(rawAttr(3, []byte("abc")))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(terminated, attr.Bytes()); diff != "" {
		t.Errorf("unterminated string gains a NUL (-want +got):\n%s", diff)
	}
}

func TestGetAllKeepsOrder(t *testing.T) {
	attrs := AttrList{
		{Header: unix.NlAttr{Type: 2}, Value: uint16(10)},
		{Header: unix.NlAttr{Type: 1}, Value: uint16(1)},
		{Header: unix.NlAttr{Type: 2}, Value: uint16(20)},
	}
	if diff := cmp.Diff([]interface{}{uint16(10), uint16(20)}, attrs.GetAll(2)); diff != "" {
		t.Errorf("GetAll (-want +got):\n%s", diff)
	}
	if attrs.Get(3) != nil {
		t.Errorf("Get of absent field = %#v", attrs.Get(3))
	}
}

func TestNlErrorWrapping(t *testing.T) {
	err := errors.Wrap(NLE_BAD_SOCK, "hub closed")
	if !errors.Is(err, NLE_BAD_SOCK) {
		t.Errorf("errors.Is lost NLE_BAD_SOCK through %v", err)
	}
	if errors.Is(err, NLE_RANGE) {
		t.Errorf("%v matched NLE_RANGE", err)
	}
}

func TestLinkAttributesReencode(t *testing.T) {
	in := AttrList{
		{Header: unix.NlAttr{Type: IFLA_IFNAME}, Value: "eth0"},
		{Header: unix.NlAttr{Type: IFLA_MTU}, Value: uint32(1500)},
		{Header: unix.NlAttr{Type: IFLA_OPERSTATE}, Value: uint8(IF_OPER_UP)},
		{Header: unix.NlAttr{Type: IFLA_LINKINFO | unix.NLA_F_NESTED}, Value: AttrList{
			{Header: unix.NlAttr{Type: IFLA_INFO_KIND}, Value: "dummy"},
		}},
		{Header: unix.NlAttr{Type: 250}, Value: []byte{9, 9, 9}},
	}.Bytes()

	attrs, err := RouteLinkPolicy.Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, attrs.Bytes()); diff != "" {
		t.Errorf("re-encoded stream (-want +got):\n%s", diff)
	}
}

func TestNestedKeepsInnerOrder(t *testing.T) {
	buf := Attr{Header: unix.NlAttr{Type: 5 | unix.NLA_F_NESTED}, Value: AttrList{
		{Header: unix.NlAttr{Type: 2}, Value: uint32(20)},
		{Header: unix.NlAttr{Type: 1}, Value: uint32(10)},
	}}.Bytes()

	attrs, err := MapPolicy{Prefix: "T"}.Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 1 {
		t.Fatalf("got %d top-level attributes, want 1", len(attrs))
	}
	inner, ok := attrs[0].Value.(AttrList)
	if !ok || len(inner) != 2 {
		t.Fatalf("nested value = %#v", attrs[0].Value)
	}
	var fields []uint16
	for _, attr := range inner {
		fields = append(fields, attr.Field())
	}
	if diff := cmp.Diff([]uint16{2, 1}, fields); diff != "" {
		t.Errorf("inner order (-want +got):\n%s", diff)
	}
}
