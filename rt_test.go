package nlink_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hkwi/nlink"
	"github.com/hkwi/nlink/nltest"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// This basic rtnetlink example lists up link interfaces.
func Example() {
	hub, err := nlink.NewRtHub(nil)
	if err != nil {
		panic(err)
	}
	defer hub.Close()

	req := nlink.IfInfomsg{Family: unix.AF_UNSPEC}
	stream, err := hub.Request(unix.RTM_GETLINK, unix.NLM_F_DUMP, req.Bytes(), nil)
	if err != nil {
		panic(err)
	}
	defer stream.Close()
	for {
		msg, err := stream.Next(context.Background())
		if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		if link, err := nlink.ParseLinkMessage(msg); err != nil {
			log.Print("skipping ", msg, ": ", err)
		} else {
			log.Print("ifinfomsg=", link.IfInfomsg, " attrs=", link)
		}
	}
}

func nested(typ uint16, attrs ...nlink.Attr) nlink.Attr {
	return nlink.Attr{Header: unix.NlAttr{Type: typ | unix.NLA_F_NESTED}, Value: nlink.AttrList(attrs)}
}

func vlanInfo(flags, vid uint16) nlink.Attr {
	b := make([]byte, nlink.SizeofBridgeVlanInfo)
	nlenc.PutUint16(b[0:2], flags)
	nlenc.PutUint16(b[2:4], vid)
	return nlink.Attr{Header: unix.NlAttr{Type: nlink.IFLA_BRIDGE_VLAN_INFO}, Value: b}
}

func TestParseLinkMessage(t *testing.T) {
	stats := make([]byte, nlink.SizeofRtnlLinkStats64)
	nlenc.PutUint64(stats[0:8], 5)   // rx_packets
	nlenc.PutUint64(stats[16:24], 9) // rx_bytes

	attrs := append(nltest.LinkAttrs("veth0", 9000),
		nlink.Attr{Header: unix.NlAttr{Type: nlink.IFLA_ADDRESS}, Value: []byte{2, 0, 0, 0, 0, 1}},
		nlink.Attr{Header: unix.NlAttr{Type: nlink.IFLA_OPERSTATE}, Value: uint8(nlink.IF_OPER_UP)},
		nlink.Attr{Header: unix.NlAttr{Type: nlink.IFLA_LINKINFO}, Value: nlink.AttrList{
			{Header: unix.NlAttr{Type: nlink.IFLA_INFO_KIND}, Value: "veth"},
		}},
		nlink.Attr{Header: unix.NlAttr{Type: nlink.IFLA_STATS64}, Value: stats},
		nlink.Attr{Header: unix.NlAttr{Type: 200}, Value: []byte{1}},
	)
	msg := nltest.Link(1, 0, nlink.IfInfomsg{Family: unix.AF_UNSPEC, Index: 4, Flags: unix.IFF_UP}, attrs)

	link, err := nlink.ParseLinkMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if link.Index != 4 || link.Flags != unix.IFF_UP {
		t.Errorf("ifinfomsg = %+v", link.IfInfomsg)
	}
	if name, ok := link.Name(); !ok || name != "veth0" {
		t.Errorf("name = %q, %v", name, ok)
	}
	if link.MTU() != 9000 {
		t.Errorf("mtu = %d", link.MTU())
	}
	if diff := cmp.Diff(net.HardwareAddr{2, 0, 0, 0, 0, 1}, link.HardwareAddr()); diff != "" {
		t.Errorf("address (-want +got):\n%s", diff)
	}
	if link.OperState() != nlink.IF_OPER_UP {
		t.Errorf("operstate = %v", link.OperState())
	}
	if link.Kind() != "veth" {
		t.Errorf("kind = %q", link.Kind())
	}
	st, err := link.Stats64()
	if err != nil {
		t.Fatal(err)
	}
	if st.RxPackets != 5 || st.RxBytes != 9 {
		t.Errorf("stats = %+v", st)
	}
	if diff := cmp.Diff([]byte{1}, link.Attrs.Get(200)); diff != "" {
		t.Errorf("unknown attribute (-want +got):\n%s", diff)
	}
	if vlans, err := link.BridgeVlans(); err != nil || vlans != nil {
		t.Errorf("vlans of AF_UNSPEC link = %v, %v", vlans, err)
	}
}

func TestParseBridgeLink(t *testing.T) {
	attrs := append(nltest.LinkAttrs("br0", 1500),
		nested(nlink.IFLA_AF_SPEC,
			nlink.Attr{Header: unix.NlAttr{Type: nlink.IFLA_BRIDGE_FLAGS}, Value: uint16(0)},
			vlanInfo(nlink.BRIDGE_VLAN_INFO_PVID|nlink.BRIDGE_VLAN_INFO_UNTAGGED, 1),
			vlanInfo(0, 100),
		),
	)
	msg := nltest.Link(1, 0, nlink.IfInfomsg{Family: unix.AF_BRIDGE, Index: 5}, attrs)

	link, err := nlink.ParseLinkMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	spec, ok := link.AfSpecBridge()
	if !ok {
		t.Fatalf("no IFLA_AF_SPEC in %v", link)
	}
	if spec.Get(nlink.IFLA_BRIDGE_FLAGS) != uint16(0) {
		t.Errorf("IFLA_BRIDGE_FLAGS = %#v", spec.Get(nlink.IFLA_BRIDGE_FLAGS))
	}
	vlans, err := link.BridgeVlans()
	if err != nil {
		t.Fatal(err)
	}
	want := []nlink.BridgeVlanInfo{
		{Flags: nlink.BRIDGE_VLAN_INFO_PVID | nlink.BRIDGE_VLAN_INFO_UNTAGGED, Vid: 1},
		{Flags: 0, Vid: 100},
	}
	if diff := cmp.Diff(want, vlans); diff != "" {
		t.Errorf("vlans (-want +got):\n%s", diff)
	}
}

func TestParseRouteAfSpec(t *testing.T) {
	attrs := append(nltest.LinkAttrs("eth0", 1500),
		nested(nlink.IFLA_AF_SPEC,
			nested(unix.AF_INET, nlink.Attr{Header: unix.NlAttr{Type: 1}, Value: []byte{0, 0, 0, 0}}),
			nested(unix.AF_INET6, nlink.Attr{Header: unix.NlAttr{Type: 2}, Value: uint32(7)}),
		),
	)
	link, err := nlink.ParseLinkMessage(nltest.Link(1, 0, nlink.IfInfomsg{Index: 2}, attrs))
	if err != nil {
		t.Fatal(err)
	}
	spec, ok := link.Attrs.Get(nlink.IFLA_AF_SPEC).(nlink.AttrList)
	if !ok || len(spec) != 2 {
		t.Fatalf("IFLA_AF_SPEC = %#v", link.Attrs.Get(nlink.IFLA_AF_SPEC))
	}
	if _, ok := link.AfSpecBridge(); ok {
		t.Error("AfSpecBridge on AF_UNSPEC link")
	}
}

func TestParseLinkMessageErrors(t *testing.T) {
	short := nlink.Attr{Header: unix.NlAttr{Type: nlink.IFLA_MTU}, Value: uint16(1500)}
	for _, c := range []struct {
		name string
		msg  nlink.Message
		want error
	}{
		{
			"wrong type",
			nlink.Message{Header: unix.NlMsghdr{Type: unix.RTM_NEWADDR}, Data: make([]byte, 16)},
			nlink.NLE_INVAL,
		},
		{
			"short ifinfomsg",
			nlink.Message{Header: unix.NlMsghdr{Type: unix.RTM_NEWLINK}, Data: make([]byte, 8)},
			nlink.NLE_MSG_TOOSHORT,
		},
		{
			"attribute size",
			nltest.Link(1, 0, nlink.IfInfomsg{Index: 3}, nlink.AttrList{short}),
			nlink.NLE_RANGE,
		},
		{
			"invalid name",
			nltest.Link(1, 0, nlink.IfInfomsg{Index: 3}, nlink.AttrList{
				{Header: unix.NlAttr{Type: nlink.IFLA_IFNAME}, Value: []byte{0xc3, 0x28, 0}},
			}),
			nlink.NLE_PARSE_ERR,
		},
	} {
		t.Run(c.name, func(t *testing.T) {
			_, err := nlink.ParseLinkMessage(c.msg)
			if !errors.Is(err, c.want) {
				t.Errorf("err = %v, want %v", err, c.want)
			}
		})
	}
}

func TestLinkString(t *testing.T) {
	link, err := nlink.ParseLinkMessage(nltest.Link(1, 0, nlink.IfInfomsg{Index: 1}, nltest.LinkAttrs("lo", 65536)))
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("IFLA(IFNAME: %#v, MTU: %#v)", "lo", uint32(65536))
	if got := link.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
