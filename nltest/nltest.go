// Package nltest provides an in-memory netlink transport for driving an
// nlink.RtHub without a kernel.
package nltest

import (
	"net"
	"sync"

	"github.com/hkwi/nlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

// Func answers one request with zero or more datagrams.
type Func func(req nlink.Message) ([][]nlink.Message, error)

// Conn implements nlink.Transport. Requests are handed to the Func and its
// replies queued for Receive in order.
type Conn struct {
	fn   Func
	rx   chan received
	quit chan struct{}
	once sync.Once

	lock     sync.Mutex
	requests []nlink.Message
}

type received struct {
	datagram []byte
	err      error
}

func Dial(fn Func) *Conn {
	return &Conn{
		fn:   fn,
		rx:   make(chan received, 128),
		quit: make(chan struct{}),
	}
}

func (self *Conn) Send(b []byte) error {
	msgs, err := nlink.ParseMessages(b)
	if err != nil {
		return err
	}
	for _, req := range msgs {
		self.lock.Lock()
		self.requests = append(self.requests, req)
		self.lock.Unlock()

		if self.fn == nil {
			continue
		}
		replies, err := self.fn(req)
		if err != nil {
			return err
		}
		for _, datagram := range replies {
			if err := self.Inject(Datagram(datagram...)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Inject queues a raw datagram, which need not be well formed.
func (self *Conn) Inject(datagram []byte) error {
	return self.queue(received{datagram: datagram})
}

// Fail makes the next Receive, in order with the injected datagrams, return
// err. unix.ENOBUFS stands for a receive buffer overrun.
func (self *Conn) Fail(err error) error {
	return self.queue(received{err: err})
}

func (self *Conn) queue(r received) error {
	select {
	case self.rx <- r:
		return nil
	case <-self.quit:
		return net.ErrClosed
	}
}

func (self *Conn) Receive() ([]byte, error) {
	select {
	case r := <-self.rx:
		return r.datagram, r.err
	case <-self.quit:
		return nil, net.ErrClosed
	}
}

func (self *Conn) Close() error {
	self.once.Do(func() {
		close(self.quit)
	})
	return nil
}

// Requests returns the requests sent so far.
func (self *Conn) Requests() []nlink.Message {
	self.lock.Lock()
	defer self.lock.Unlock()
	return append([]nlink.Message(nil), self.requests...)
}

// Datagram concatenates encoded messages.
func Datagram(msgs ...nlink.Message) []byte {
	var ret []byte
	for _, msg := range msgs {
		ret = append(ret, msg.Bytes()...)
	}
	return ret
}

// Done is the NLMSG_DONE closing a dump.
func Done(seq uint32) nlink.Message {
	return nlink.Message{
		Header: unix.NlMsghdr{
			Type:  unix.NLMSG_DONE,
			Flags: unix.NLM_F_MULTI,
			Seq:   seq,
		},
		Data: make([]byte, 4),
	}
}

// Error is the NLMSG_ERROR answering req, an acknowledgement when code is 0.
// The request header is echoed without payload.
func Error(req nlink.Message, code int32) nlink.Message {
	data := make([]byte, 4+unix.NLMSG_HDRLEN)
	nlenc.PutUint32(data[0:4], uint32(code))
	echo := req.Header
	echo.Len = unix.NLMSG_HDRLEN
	copy(data[4:], nlink.Message{Header: echo}.Bytes())
	return nlink.Message{
		Header: unix.NlMsghdr{
			Type:  unix.NLMSG_ERROR,
			Flags: 0x100, // NLM_F_CAPPED
			Seq:   req.Header.Seq,
			Pid:   req.Header.Pid,
		},
		Data: data,
	}
}

// ExtAck is Error carrying an NLMSGERR_ATTR_MSG.
func ExtAck(req nlink.Message, code int32, text string) nlink.Message {
	msg := Error(req, code)
	msg.Header.Flags |= 0x200 // NLM_F_ACK_TLVS
	msg.Data = append(msg.Data, nlink.AttrList{
		{Header: unix.NlAttr{Type: nlink.NLMSGERR_ATTR_MSG}, Value: text},
	}.Bytes()...)
	return msg
}

// Link is an RTM_NEWLINK reply. Dump replies should carry NLM_F_MULTI.
func Link(seq uint32, flags uint16, info nlink.IfInfomsg, attrs nlink.AttrList) nlink.Message {
	return nlink.Message{
		Header: unix.NlMsghdr{
			Type:  unix.RTM_NEWLINK,
			Flags: flags,
			Seq:   seq,
		},
		Data: append(info.Bytes(), attrs.Bytes()...),
	}
}

// LinkAttrs is the usual minimal attribute set of a link.
func LinkAttrs(name string, mtu uint32) nlink.AttrList {
	return nlink.AttrList{
		{Header: unix.NlAttr{Type: unix.IFLA_IFNAME}, Value: name},
		{Header: unix.NlAttr{Type: unix.IFLA_MTU}, Value: mtu},
	}
}
