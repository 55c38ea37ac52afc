// rtlink provides RTM_*LINK util

package rtlink

import (
	"context"
	"log/slog"
	"math"

	"github.com/hkwi/nlink"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Criteria selects the links of a RTM_GETLINK query. Index 0 and an empty
// Name leave the respective match unset; with neither set the query dumps
// every link.
type Criteria struct {
	Index      uint32
	Name       string
	Family     uint8  // ifinfomsg family, AF_UNSPEC unless FilterMask is set
	FilterMask uint32 // IFLA_EXT_MASK, RTEXT_FILTER_*
}

func MatchIndex(index uint32) Criteria {
	return Criteria{Index: index}
}

func MatchName(name string) Criteria {
	return Criteria{Name: name}
}

func DumpAll() Criteria {
	return Criteria{}
}

// BridgeVlanCriteria dumps the bridge ports together with their VLAN
// membership, carried in IFLA_AF_SPEC.
func BridgeVlanCriteria() Criteria {
	return Criteria{Family: unix.AF_BRIDGE, FilterMask: nlink.RTEXT_FILTER_BRVLAN}
}

func (c Criteria) WithFilterMask(mask uint32) Criteria {
	c.FilterMask = mask
	return c
}

func (c Criteria) Dump() bool {
	return c.Index == 0 && c.Name == ""
}

func (c Criteria) request() (flags uint16, payload []byte, attrs nlink.AttrList) {
	info := nlink.IfInfomsg{
		Family: c.Family,
		Index:  int32(c.Index),
	}
	if c.FilterMask != 0 && info.Family == unix.AF_UNSPEC {
		info.Family = unix.AF_BRIDGE
	}
	if c.Name != "" {
		attrs = append(attrs, nlink.Attr{
			Header: unix.NlAttr{Type: nlink.IFLA_IFNAME},
			Value:  c.Name,
		})
	}
	if c.FilterMask != 0 {
		attrs = append(attrs, nlink.Attr{
			Header: unix.NlAttr{Type: nlink.IFLA_EXT_MASK},
			Value:  c.FilterMask,
		})
	}
	if c.Dump() {
		flags |= unix.NLM_F_DUMP
	}
	return flags, info.Bytes(), attrs
}

// Links is the lazy result of Get.
type Links struct {
	stream  *nlink.Stream
	dump    bool
	log     *slog.Logger
	skipped int
}

// Get sends one RTM_GETLINK for c. The replies are read with Links.Next.
// ifinfomsg carries a signed index, so Index above math.MaxInt32 fails with
// NLE_RANGE.
func Get(hub *nlink.RtHub, c Criteria) (*Links, error) {
	if c.Index > math.MaxInt32 {
		return nil, errors.Wrapf(nlink.NLE_RANGE, "RTM_GETLINK index %d", c.Index)
	}
	flags, payload, attrs := c.request()
	stream, err := hub.Request(unix.RTM_GETLINK, flags, payload, attrs)
	if err != nil {
		return nil, errors.Wrap(err, "RTM_GETLINK")
	}
	return &Links{
		stream: stream,
		dump:   c.Dump(),
		log:    hub.Logger().With("seq", stream.Seq()),
	}, nil
}

// Next returns the next link, io.EOF once the result is complete. In a dump,
// unusable records are logged and skipped: a short ifinfomsg, undecodable
// attributes or a message that is not a link.
func (self *Links) Next(ctx context.Context) (nlink.LinkMessage, error) {
	for {
		msg, err := self.stream.Next(ctx)
		if err != nil {
			return nlink.LinkMessage{}, err
		}
		if msg.Header.Type != unix.RTM_NEWLINK {
			self.log.Debug("unexpected reply", "msg", msg)
			continue
		}
		link, err := nlink.ParseLinkMessage(msg)
		if err == nil {
			return link, nil
		}
		if self.dump && skippable(err) {
			self.skipped++
			self.log.Warn("skipping link record", "err", err)
			continue
		}
		return nlink.LinkMessage{}, err
	}
}

func skippable(err error) bool {
	for _, e := range []nlink.NlError{nlink.NLE_RANGE, nlink.NLE_PARSE_ERR, nlink.NLE_MSG_TOOSHORT, nlink.NLE_INVAL} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Skipped counts the records Next dropped.
func (self *Links) Skipped() int {
	return self.skipped
}

func (self *Links) Close() {
	self.stream.Close()
}
