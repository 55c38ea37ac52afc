package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hkwi/nlink"
	"github.com/hkwi/nlink/nltest"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

func testHub(t *testing.T) *nlink.RtHub {
	t.Helper()
	lo := func(seq uint32, flags uint16) nlink.Message {
		return nltest.Link(seq, flags, nlink.IfInfomsg{Index: 1, Flags: unix.IFF_UP | unix.IFF_LOOPBACK}, nltest.LinkAttrs("lo", 65536))
	}
	vlan := make([]byte, nlink.SizeofBridgeVlanInfo)
	nlenc.PutUint16(vlan[0:2], nlink.BRIDGE_VLAN_INFO_PVID)
	nlenc.PutUint16(vlan[2:4], 1)
	port := func(seq uint32) nlink.Message {
		return nltest.Link(seq, unix.NLM_F_MULTI, nlink.IfInfomsg{Family: unix.AF_BRIDGE, Index: 4},
			append(nltest.LinkAttrs("veth1", 1500), nlink.Attr{
				Header: unix.NlAttr{Type: nlink.IFLA_AF_SPEC},
				Value: nlink.AttrList{
					{Header: unix.NlAttr{Type: nlink.IFLA_BRIDGE_VLAN_INFO}, Value: vlan},
				},
			}))
	}

	conn := nltest.Dial(func(req nlink.Message) ([][]nlink.Message, error) {
		seq := req.Header.Seq
		info, err := nlink.ParseIfInfomsg(req.Data)
		if err != nil {
			return nil, err
		}
		switch {
		case req.Header.Flags&unix.NLM_F_DUMP == 0:
			return [][]nlink.Message{{lo(seq, 0)}}, nil
		case info.Family == unix.AF_BRIDGE:
			return [][]nlink.Message{{port(seq), nltest.Done(seq)}}, nil
		default:
			return [][]nlink.Message{{lo(seq, unix.NLM_F_MULTI), nltest.Done(seq)}}, nil
		}
	})

	cfg := nlink.DefaultConfig
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := nlink.NewRtHubTransport(conn, &cfg)
	t.Cleanup(func() { hub.Close() })
	return hub
}

func TestRunQueries(t *testing.T) {
	hub := testHub(t)
	c := DefaultConfig

	var out bytes.Buffer
	if err := runQueries(context.Background(), hub, &c, &out, demoQueries(&c)); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"*** retrieving link with index 1 ***",
		"found link with index 1 (name = lo)",
		`*** retrieving link named "lo" ***`,
		"found link lo",
		"*** dumping links ***",
		"found link 1 (lo) [UP,LOOPBACK]",
		"found interface 4 with bridge vlans [{Flags:2 Vid:1}]",
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestRunQueriesClosedHub(t *testing.T) {
	hub := testHub(t)
	hub.Close()
	c := DefaultConfig

	var out bytes.Buffer
	err := runQueries(context.Background(), hub, &c, &out, demoQueries(&c)[2:3])
	if err == nil {
		t.Fatal("expected an error from a closed hub")
	}
	if !strings.HasPrefix(out.String(), "*** dumping links ***") {
		t.Errorf("output = %q", out.String())
	}
}
