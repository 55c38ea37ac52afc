package nlink

import (
	"bytes"
	"encoding/binary"

	"github.com/josharian/native"
	"github.com/pkg/errors"
)

// IfInfomsg is struct ifinfomsg, the fixed header of RTM_*LINK payloads.
type IfInfomsg struct {
	Family uint8
	_      uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

const SizeofIfInfomsg = 0x10

func (self IfInfomsg) Bytes() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, native.Endian, self)
	return buf.Bytes()
}

func ParseIfInfomsg(b []byte) (IfInfomsg, error) {
	var ret IfInfomsg
	if len(b) < SizeofIfInfomsg {
		return ret, errors.Wrapf(NLE_MSG_TOOSHORT, "ifinfomsg of %d bytes", len(b))
	}
	err := binary.Read(bytes.NewReader(b[:SizeofIfInfomsg]), native.Endian, &ret)
	return ret, err
}

// BridgeVlanInfo is struct bridge_vlan_info, carried in IFLA_BRIDGE_VLAN_INFO.
type BridgeVlanInfo struct {
	Flags uint16
	Vid   uint16
}

const SizeofBridgeVlanInfo = 0x4

func ParseBridgeVlanInfo(b []byte) (BridgeVlanInfo, error) {
	var ret BridgeVlanInfo
	if len(b) < SizeofBridgeVlanInfo {
		return ret, errors.Wrapf(NLE_RANGE, "bridge_vlan_info of %d bytes", len(b))
	}
	err := binary.Read(bytes.NewReader(b[:SizeofBridgeVlanInfo]), native.Endian, &ret)
	return ret, err
}

// RtnlLinkStats64 will be the contents for IFLA_STATS64.
type RtnlLinkStats64 struct {
	RxPackets  uint64
	TxPackets  uint64
	RxBytes    uint64
	TxBytes    uint64
	RxErrors   uint64
	TxErrors   uint64
	RxDropped  uint64
	TxDropped  uint64
	Multicast  uint64
	Collisions uint64
	// detailed rx_errors
	RxLengthErrors uint64
	RxOverErrors   uint64
	RxCrcErrors    uint64
	RxFrameErrors  uint64
	RxFifoErrors   uint64
	RxMissedErrors uint64
	// detailed tx_errors
	TxAbortedErrors   uint64
	TxCarrierErrors   uint64
	TxFifoErrors      uint64
	TxHeartbeatErrors uint64
	TxWindowErrors    uint64
	// cslip etc.
	RxCompressed uint64
	TxCompressed uint64
}

var SizeofRtnlLinkStats64 = binary.Size(RtnlLinkStats64{})

// ParseLinkStats64 decodes the leading fields newer kernels extend.
func ParseLinkStats64(b []byte) (*RtnlLinkStats64, error) {
	if len(b) < SizeofRtnlLinkStats64 {
		return nil, errors.Wrapf(NLE_RANGE, "rtnl_link_stats64 of %d bytes", len(b))
	}
	ret := &RtnlLinkStats64{}
	if err := binary.Read(bytes.NewReader(b[:SizeofRtnlLinkStats64]), native.Endian, ret); err != nil {
		return nil, err
	}
	return ret, nil
}
