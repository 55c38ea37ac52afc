package nlink

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	IFLA_UNSPEC = iota
	IFLA_ADDRESS
	IFLA_BROADCAST
	IFLA_IFNAME
	IFLA_MTU
	IFLA_LINK // used with 8021q, for example
	IFLA_QDISC
	IFLA_STATS
	IFLA_COST
	IFLA_PRIORITY
	IFLA_MASTER
	IFLA_WIRELESS
	IFLA_PROTINFO
	IFLA_TXQLEN
	IFLA_MAP
	IFLA_WEIGHT
	IFLA_OPERSTATE
	IFLA_LINKMODE
	IFLA_LINKINFO
	IFLA_NET_NS_PID
	IFLA_IFALIAS
	IFLA_NUM_VF
	IFLA_VFINFO_LIST
	IFLA_STATS64
	IFLA_VF_PORTS
	IFLA_PORT_SELF
	IFLA_AF_SPEC
	IFLA_GROUP
	IFLA_NET_NS_FD
	IFLA_EXT_MASK
	IFLA_PROMISCUITY
	IFLA_NUM_TX_QUEUES
	IFLA_NUM_RX_QUEUES
	IFLA_CARRIER
	IFLA_PHYS_PORT_ID
	IFLA_CARRIER_CHANGES
	IFLA_PHYS_SWITCH_ID
	IFLA_LINK_NETNSID
	IFLA_PHYS_PORT_NAME
	IFLA_PROTO_DOWN
	IFLA_GSO_MAX_SEGS
	IFLA_GSO_MAX_SIZE
	IFLA_PAD
	IFLA_XDP
	IFLA_EVENT
	IFLA_NEW_NETNSID
	IFLA_TARGET_NETNSID
	IFLA_CARRIER_UP_COUNT
	IFLA_CARRIER_DOWN_COUNT
	IFLA_NEW_IFINDEX
	IFLA_MIN_MTU
	IFLA_MAX_MTU
	IFLA_PROP_LIST
	IFLA_ALT_IFNAME
	IFLA_PERM_ADDRESS
)

const (
	IFLA_INFO_UNSPEC = iota
	IFLA_INFO_KIND
	IFLA_INFO_DATA
	IFLA_INFO_XSTATS
	IFLA_INFO_SLAVE_KIND
	IFLA_INFO_SLAVE_DATA
)

const (
	IFLA_VF_UNSPEC = iota
	IFLA_VF_MAC
	IFLA_VF_VLAN
	IFLA_VF_TX_RATE
	IFLA_VF_SPOOFCHK
	IFLA_VF_LINK_STATE
	IFLA_VF_RATE
)

// IFLA_AF_SPEC contents of AF_BRIDGE link messages.
const (
	IFLA_BRIDGE_FLAGS = iota
	IFLA_BRIDGE_MODE
	IFLA_BRIDGE_VLAN_INFO
	IFLA_BRIDGE_VLAN_TUNNEL_INFO
	IFLA_BRIDGE_MRP
	IFLA_BRIDGE_CFM
	IFLA_BRIDGE_MST
)

const (
	BRIDGE_VLAN_INFO_MASTER = 1 << iota
	BRIDGE_VLAN_INFO_PVID
	BRIDGE_VLAN_INFO_UNTAGGED
	BRIDGE_VLAN_INFO_RANGE_BEGIN
	BRIDGE_VLAN_INFO_RANGE_END
	BRIDGE_VLAN_INFO_BRENTRY
	BRIDGE_VLAN_INFO_ONLY_OPTS
)

// IFLA_EXT_MASK values.
const (
	RTEXT_FILTER_VF = 1 << iota
	RTEXT_FILTER_BRVLAN
	RTEXT_FILTER_BRVLAN_COMPRESSED
	RTEXT_FILTER_SKIP_STATS
	RTEXT_FILTER_MRP
	RTEXT_FILTER_CFM_CONFIG
	RTEXT_FILTER_CFM_STATUS
	RTEXT_FILTER_MST
)

// OperState is the RFC 2863 state carried in IFLA_OPERSTATE.
type OperState uint8

const (
	IF_OPER_UNKNOWN OperState = iota
	IF_OPER_NOTPRESENT
	IF_OPER_DOWN
	IF_OPER_LOWERLAYERDOWN
	IF_OPER_TESTING
	IF_OPER_DORMANT
	IF_OPER_UP
)

func (self OperState) String() string {
	switch self {
	case IF_OPER_NOTPRESENT:
		return "notpresent"
	case IF_OPER_DOWN:
		return "down"
	case IF_OPER_LOWERLAYERDOWN:
		return "lowerlayerdown"
	case IF_OPER_TESTING:
		return "testing"
	case IF_OPER_DORMANT:
		return "dormant"
	case IF_OPER_UP:
		return "up"
	default:
		return "unknown"
	}
}

var IFLA_itoa = map[uint16]string{
	IFLA_ADDRESS:            "ADDRESS",
	IFLA_BROADCAST:          "BROADCAST",
	IFLA_IFNAME:             "IFNAME",
	IFLA_MTU:                "MTU",
	IFLA_LINK:               "LINK",
	IFLA_QDISC:              "QDISC",
	IFLA_STATS:              "STATS",
	IFLA_MASTER:             "MASTER",
	IFLA_WIRELESS:           "WIRELESS",
	IFLA_PROTINFO:           "PROTINFO",
	IFLA_TXQLEN:             "TXQLEN",
	IFLA_MAP:                "MAP",
	IFLA_WEIGHT:             "WEIGHT",
	IFLA_OPERSTATE:          "OPERSTATE",
	IFLA_LINKMODE:           "LINKMODE",
	IFLA_LINKINFO:           "LINKINFO",
	IFLA_NET_NS_PID:         "NET_NS_PID",
	IFLA_IFALIAS:            "IFALIAS",
	IFLA_NUM_VF:             "NUM_VF",
	IFLA_VFINFO_LIST:        "VFINFO_LIST",
	IFLA_STATS64:            "STATS64",
	IFLA_VF_PORTS:           "VF_PORTS",
	IFLA_PORT_SELF:          "PORT_SELF",
	IFLA_AF_SPEC:            "AF_SPEC",
	IFLA_GROUP:              "GROUP",
	IFLA_NET_NS_FD:          "NET_NS_FD",
	IFLA_EXT_MASK:           "EXT_MASK",
	IFLA_PROMISCUITY:        "PROMISCUITY",
	IFLA_NUM_TX_QUEUES:      "NUM_TX_QUEUES",
	IFLA_NUM_RX_QUEUES:      "NUM_RX_QUEUES",
	IFLA_CARRIER:            "CARRIER",
	IFLA_PHYS_PORT_ID:       "PHYS_PORT_ID",
	IFLA_CARRIER_CHANGES:    "CARRIER_CHANGES",
	IFLA_PHYS_SWITCH_ID:     "PHYS_SWITCH_ID",
	IFLA_LINK_NETNSID:       "LINK_NETNSID",
	IFLA_PHYS_PORT_NAME:     "PHYS_PORT_NAME",
	IFLA_PROTO_DOWN:         "PROTO_DOWN",
	IFLA_GSO_MAX_SEGS:       "GSO_MAX_SEGS",
	IFLA_GSO_MAX_SIZE:       "GSO_MAX_SIZE",
	IFLA_XDP:                "XDP",
	IFLA_EVENT:              "EVENT",
	IFLA_CARRIER_UP_COUNT:   "CARRIER_UP_COUNT",
	IFLA_CARRIER_DOWN_COUNT: "CARRIER_DOWN_COUNT",
	IFLA_MIN_MTU:            "MIN_MTU",
	IFLA_MAX_MTU:            "MAX_MTU",
	IFLA_PROP_LIST:          "PROP_LIST",
	IFLA_ALT_IFNAME:         "ALT_IFNAME",
	IFLA_PERM_ADDRESS:       "PERM_ADDRESS",
}

var IFLA_INFO_itoa = map[uint16]string{
	IFLA_INFO_KIND:       "KIND",
	IFLA_INFO_DATA:       "DATA",
	IFLA_INFO_XSTATS:     "XSTATS",
	IFLA_INFO_SLAVE_KIND: "SLAVE_KIND",
	IFLA_INFO_SLAVE_DATA: "SLAVE_DATA",
}

var IFLA_VF_itoa = map[uint16]string{
	IFLA_VF_MAC:        "MAC",
	IFLA_VF_VLAN:       "VLAN",
	IFLA_VF_TX_RATE:    "TX_RATE",
	IFLA_VF_SPOOFCHK:   "SPOOFCHK",
	IFLA_VF_LINK_STATE: "LINK_STATE",
	IFLA_VF_RATE:       "RATE",
}

var IFLA_BRIDGE_itoa = map[uint16]string{
	IFLA_BRIDGE_FLAGS:            "FLAGS",
	IFLA_BRIDGE_MODE:             "MODE",
	IFLA_BRIDGE_VLAN_INFO:        "VLAN_INFO",
	IFLA_BRIDGE_VLAN_TUNNEL_INFO: "VLAN_TUNNEL_INFO",
	IFLA_BRIDGE_MRP:              "MRP",
	IFLA_BRIDGE_CFM:              "CFM",
	IFLA_BRIDGE_MST:              "MST",
}

var bridgeAfSpecPolicy = MapPolicy{
	Prefix: "IFLA_BRIDGE",
	Names:  IFLA_BRIDGE_itoa,
	Rule: map[uint16]Policy{
		IFLA_BRIDGE_FLAGS:     NLA_U16,
		IFLA_BRIDGE_MODE:      NLA_U16,
		IFLA_BRIDGE_VLAN_INFO: NLA_BINARY, // struct bridge_vlan_info
	},
}

func linkPolicy(afSpec Policy) MapPolicy {
	return MapPolicy{
		Prefix: "IFLA",
		Names:  IFLA_itoa,
		Rule: map[uint16]Policy{
			IFLA_IFNAME:    NLA_NUL_STRING,
			IFLA_ADDRESS:   NLA_BINARY,
			IFLA_BROADCAST: NLA_BINARY,
			IFLA_MAP:       NLA_BINARY,
			IFLA_MTU:       NLA_U32,
			IFLA_LINK:      NLA_U32,
			IFLA_MASTER:    NLA_U32,
			IFLA_CARRIER:   NLA_U8,
			IFLA_TXQLEN:    NLA_U32,
			IFLA_WEIGHT:    NLA_U32,
			IFLA_OPERSTATE: NLA_U8,
			IFLA_LINKMODE:  NLA_U8,
			IFLA_LINKINFO: MapPolicy{
				Prefix: "INFO",
				Names:  IFLA_INFO_itoa,
				Rule: map[uint16]Policy{
					IFLA_INFO_KIND:       NLA_NUL_STRING,
					IFLA_INFO_DATA:       NLA_BINARY, // depends on the kind
					IFLA_INFO_SLAVE_KIND: NLA_NUL_STRING,
					IFLA_INFO_SLAVE_DATA: NLA_BINARY, // depends on the kind
				},
			},
			IFLA_NET_NS_PID: NLA_U32,
			IFLA_NET_NS_FD:  NLA_U32,
			IFLA_IFALIAS:    NLA_NUL_STRING,
			IFLA_VFINFO_LIST: ListPolicy{
				Nested: MapPolicy{
					Prefix: "VF",
					Names:  IFLA_VF_itoa,
					Rule: map[uint16]Policy{
						IFLA_VF_MAC:        NLA_BINARY,
						IFLA_VF_VLAN:       NLA_BINARY,
						IFLA_VF_TX_RATE:    NLA_BINARY,
						IFLA_VF_SPOOFCHK:   NLA_BINARY,
						IFLA_VF_LINK_STATE: NLA_BINARY,
						IFLA_VF_RATE:       NLA_BINARY,
					},
				},
			},
			IFLA_AF_SPEC:            afSpec,
			IFLA_EXT_MASK:           NLA_U32,
			IFLA_PROMISCUITY:        NLA_U32,
			IFLA_NUM_TX_QUEUES:      NLA_U32,
			IFLA_NUM_RX_QUEUES:      NLA_U32,
			IFLA_PHYS_PORT_ID:       NLA_BINARY,
			IFLA_CARRIER_CHANGES:    NLA_U32,
			IFLA_PHYS_SWITCH_ID:     NLA_BINARY,
			IFLA_LINK_NETNSID:       NLA_S32,
			IFLA_PHYS_PORT_NAME:     NLA_NUL_STRING,
			IFLA_PROTO_DOWN:         NLA_U8,
			IFLA_GSO_MAX_SEGS:       NLA_U32,
			IFLA_GSO_MAX_SIZE:       NLA_U32,
			IFLA_CARRIER_UP_COUNT:   NLA_U32,
			IFLA_CARRIER_DOWN_COUNT: NLA_U32,
			IFLA_MIN_MTU:            NLA_U32,
			IFLA_MAX_MTU:            NLA_U32,
			IFLA_PROP_LIST: MapPolicy{
				Prefix: "PROP",
				Names:  IFLA_itoa,
				Rule: map[uint16]Policy{
					IFLA_ALT_IFNAME: NLA_NUL_STRING,
				},
			},
			IFLA_PERM_ADDRESS: NLA_BINARY,

			IFLA_QDISC:    NLA_NUL_STRING,
			IFLA_STATS:    NLA_BINARY, // struct rtnl_link_stats
			IFLA_STATS64:  NLA_BINARY, // struct rtnl_link_stats64
			IFLA_WIRELESS: NLA_BINARY,
			IFLA_NUM_VF:   NLA_U32,
			IFLA_GROUP:    NLA_U32,
		},
	}
}

// RouteLinkPolicy decodes link messages of any family but AF_BRIDGE, where
// IFLA_AF_SPEC holds one nested set per address family.
var RouteLinkPolicy MapPolicy = linkPolicy(ListPolicy{Nested: opaquePolicy})

// BridgeLinkPolicy decodes AF_BRIDGE link messages, the reply to requests
// carrying RTEXT_FILTER_BRVLAN.
var BridgeLinkPolicy MapPolicy = linkPolicy(bridgeAfSpecPolicy)

func LinkPolicy(family uint8) MapPolicy {
	if family == unix.AF_BRIDGE {
		return BridgeLinkPolicy
	}
	return RouteLinkPolicy
}

// LinkMessage is a decoded RTM_NEWLINK.
type LinkMessage struct {
	Header unix.NlMsghdr
	IfInfomsg
	Attrs AttrList
}

func ParseLinkMessage(msg Message) (LinkMessage, error) {
	ret := LinkMessage{Header: msg.Header}
	switch msg.Header.Type {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK, unix.RTM_GETLINK:
	default:
		return ret, errors.Wrapf(NLE_INVAL, "not a link message: %v", msg)
	}
	if info, err := ParseIfInfomsg(msg.Data); err != nil {
		return ret, err
	} else {
		ret.IfInfomsg = info
	}
	if attrs, err := LinkPolicy(ret.Family).Parse(msg.Data[NLMSG_ALIGN(SizeofIfInfomsg):]); err != nil {
		return ret, errors.Wrapf(err, "link %d", ret.Index)
	} else {
		ret.Attrs = attrs
	}
	return ret, nil
}

func (self LinkMessage) Name() (string, bool) {
	name, ok := self.Attrs.Get(IFLA_IFNAME).(string)
	return name, ok
}

func (self LinkMessage) HardwareAddr() net.HardwareAddr {
	if v, ok := self.Attrs.Get(IFLA_ADDRESS).([]byte); ok {
		return net.HardwareAddr(v)
	}
	return nil
}

func (self LinkMessage) MTU() uint32 {
	mtu, _ := self.Attrs.Get(IFLA_MTU).(uint32)
	return mtu
}

func (self LinkMessage) OperState() OperState {
	state, _ := self.Attrs.Get(IFLA_OPERSTATE).(uint8)
	return OperState(state)
}

// Kind is IFLA_INFO_KIND, "" for links without rtnl_link_ops (e.g. physical).
func (self LinkMessage) Kind() string {
	if info, ok := self.Attrs.Get(IFLA_LINKINFO).(AttrList); ok {
		kind, _ := info.Get(IFLA_INFO_KIND).(string)
		return kind
	}
	return ""
}

func (self LinkMessage) Stats64() (*RtnlLinkStats64, error) {
	if v, ok := self.Attrs.Get(IFLA_STATS64).([]byte); ok {
		return ParseLinkStats64(v)
	}
	return nil, errors.Wrap(NLE_OBJ_NOTFOUND, "IFLA_STATS64")
}

// AfSpecBridge returns the IFLA_AF_SPEC set of an AF_BRIDGE link message.
func (self LinkMessage) AfSpecBridge() (AttrList, bool) {
	if self.Family != unix.AF_BRIDGE {
		return nil, false
	}
	spec, ok := self.Attrs.Get(IFLA_AF_SPEC).(AttrList)
	return spec, ok
}

// BridgeVlans decodes every IFLA_BRIDGE_VLAN_INFO entry in kernel order.
func (self LinkMessage) BridgeVlans() ([]BridgeVlanInfo, error) {
	spec, ok := self.AfSpecBridge()
	if !ok {
		return nil, nil
	}
	var ret []BridgeVlanInfo
	for _, v := range spec.GetAll(IFLA_BRIDGE_VLAN_INFO) {
		b, _ := v.([]byte)
		if info, err := ParseBridgeVlanInfo(b); err != nil {
			return nil, err
		} else {
			ret = append(ret, info)
		}
	}
	return ret, nil
}

func (self LinkMessage) String() string {
	return LinkPolicy(self.Family).Dump(self.Attrs)
}
