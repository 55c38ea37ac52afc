package rtlink

import (
	"fmt"
	"strings"
)

// IFF is the ifinfomsg flags word (net_device_flags).
type IFF uint32

const (
	IFF_UP IFF = 1 << iota
	IFF_BROADCAST
	IFF_DEBUG
	IFF_LOOPBACK
	IFF_POINTOPOINT
	IFF_NOTRAILERS
	IFF_RUNNING
	IFF_NOARP
	IFF_PROMISC
	IFF_ALLMULTI
	IFF_MASTER
	IFF_SLAVE
	IFF_MULTICAST
	IFF_PORTSEL
	IFF_AUTOMEDIA
	IFF_DYNAMIC
	IFF_LOWER_UP
	IFF_DORMANT
	IFF_ECHO
)

var names = []string{
	"UP",
	"BROADCAST",
	"DEBUG",
	"LOOPBACK",
	"POINTOPOINT",
	"NOTRAILERS",
	"RUNNING",
	"NOARP",
	"PROMISC",
	"ALLMULTI",
	"MASTER",
	"SLAVE",
	"MULTICAST",
	"PORTSEL",
	"AUTOMEDIA",
	"DYNAMIC",
	"LOWER_UP",
	"DORMANT",
	"ECHO",
}

func (self IFF) String() string {
	var ret []string
	for i := uint(0); i < 32; i++ {
		if self&(1<<i) == 0 {
			continue
		}
		if int(i) < len(names) {
			ret = append(ret, names[i])
		} else {
			ret = append(ret, fmt.Sprintf("%#x", uint32(1)<<i))
		}
	}
	return strings.Join(ret, ",")
}
