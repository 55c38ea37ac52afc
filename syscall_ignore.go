//go:build ignore
// +build ignore

package nlink

/*
#include <linux/if_bridge.h>
#include <linux/if_link.h>
#include <linux/rtnetlink.h>
*/
import "C"

type IfInfomsg C.struct_ifinfomsg

type BridgeVlanInfo C.struct_bridge_vlan_info

type RtnlLinkStats64 C.struct_rtnl_link_stats64

const (
	SizeofIfInfomsg       = C.sizeof_struct_ifinfomsg
	SizeofBridgeVlanInfo  = C.sizeof_struct_bridge_vlan_info
	SizeofRtnlLinkStats64 = C.sizeof_struct_rtnl_link_stats64
)
