package nlink

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Transport carries whole datagrams. Close must unblock a pending Receive.
type Transport interface {
	Send([]byte) error
	Receive() ([]byte, error)
	Close() error
}

type pending struct {
	seq    uint32
	dump   bool
	notify chan struct{} // one token per change of queue
	ended  chan struct{} // closed by finish, after err is set
	cancel chan struct{}
	seen   int // data messages, touched by the reader goroutine only

	lock  sync.Mutex
	queue []Message
	over  bool
	err   error
}

func (self *pending) poke() {
	select {
	case self.notify <- struct{}{}:
	default:
	}
}

// RtHub multiplexes requests over one netlink connection. A single reader
// goroutine owns the receive side and routes every message to the request
// holding its sequence number.
type RtHub struct {
	sock    Transport
	cfg     Config
	log     *slog.Logger
	metrics *hubMetrics

	lock    sync.Mutex
	seq     uint32
	unicast map[uint32]*pending
	err     error // set once the connection is gone

	// single-match requests completed lately, reader goroutine only
	completed    [8]uint32
	completedPos int

	sendLock  sync.Mutex
	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewRtHub opens a NETLINK_ROUTE socket and starts the reader goroutine.
func NewRtHub(cfg *Config) (*RtHub, error) {
	if cfg == nil {
		cfg = &DefaultConfig
	}
	sock := NlSocketAlloc()
	sock.RecvSize = cfg.ReadBufferSize
	if err := NlConnect(sock, unix.NETLINK_ROUTE); err != nil {
		return nil, err
	}
	if err := NlSocketSetBufferSize(sock, cfg.RecvBufferSize, cfg.SendBufferSize); err != nil {
		NlSocketFree(sock)
		return nil, err
	}
	if cfg.ExtAck {
		if err := NlSocketSetOption(sock, unix.NETLINK_EXT_ACK, true); err != nil {
			// pre 4.12 kernels, error codes alone are still reported
			cfg.logger().Debug("extended ack unavailable", "err", err)
		}
	}
	if cfg.StrictCheck {
		if err := NlSocketSetOption(sock, unix.NETLINK_GET_STRICT_CHK, true); err != nil {
			NlSocketFree(sock)
			return nil, err
		}
	}
	return NewRtHubTransport(sock, cfg), nil
}

// NewRtHubTransport runs a hub over an already connected transport.
func NewRtHubTransport(sock Transport, cfg *Config) *RtHub {
	if cfg == nil {
		cfg = &DefaultConfig
	}
	self := &RtHub{
		sock:    sock,
		cfg:     *cfg,
		log:     cfg.logger(),
		metrics: newHubMetrics(cfg.Registerer),
		seq:     uint32(time.Now().Unix()),
		unicast: make(map[uint32]*pending),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if self.cfg.QueueLength < 0 {
		self.cfg.QueueLength = 0
	}
	go self.run()
	return self
}

func (self *RtHub) Logger() *slog.Logger {
	return self.log
}

// Request sends one request and returns the stream of its replies. NLM_F_DUMP
// in flags selects dump completion (NLMSG_DONE); without it the stream ends
// after the first reply.
//
// A single-match request is complete once the datagram carrying its reply
// has been routed. A further reply arriving in a later datagram is dropped
// and logged at Warn; the stream has already ended with io.EOF by then.
//
// Replies are queued without bound until read, so a stream nobody reads
// never holds up the others.
func (self *RtHub) Request(cmd uint16, flags uint16, payload []byte, attrs AttrList) (*Stream, error) {
	msg := NewRequest(cmd, flags, payload, attrs)
	p := &pending{
		dump:   flags&unix.NLM_F_DUMP == unix.NLM_F_DUMP,
		notify: make(chan struct{}, 1),
		ended:  make(chan struct{}),
		cancel: make(chan struct{}),
		queue:  make([]Message, 0, self.cfg.QueueLength),
	}

	self.lock.Lock()
	if self.err != nil {
		err := self.err
		self.lock.Unlock()
		return nil, err
	}
	p.seq = self.nextSeqLocked()
	self.unicast[p.seq] = p
	self.lock.Unlock()
	self.metrics.Pending.Inc()

	msg.Header.Seq = p.seq
	self.sendLock.Lock()
	err := self.sock.Send(msg.Bytes())
	self.sendLock.Unlock()
	if err != nil {
		self.deregister(p)
		return nil, errors.Wrapf(err, "send seq=%d", p.seq)
	}
	self.metrics.Requests.Inc()
	self.log.Debug("request sent", "seq", p.seq, "type", cmd, "flags", msg.Header.Flags)
	return &Stream{hub: self, p: p}, nil
}

// nextSeqLocked wraps at 32 bits, skipping 0 (unsolicited messages) and
// sequence numbers still in flight.
func (self *RtHub) nextSeqLocked() uint32 {
	for {
		self.seq++
		if self.seq == 0 {
			continue
		}
		if _, busy := self.unicast[self.seq]; !busy {
			return self.seq
		}
	}
}

func (self *RtHub) lookup(seq uint32) *pending {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.unicast[seq]
}

// deregister reports whether p was still registered.
func (self *RtHub) deregister(p *pending) bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	if self.unicast[p.seq] != p {
		return false
	}
	delete(self.unicast, p.seq)
	self.metrics.Pending.Dec()
	return true
}

// finish ends the stream of p with err, nil for a clean end.
func (self *RtHub) finish(p *pending, err error) {
	if !self.deregister(p) {
		return
	}
	p.lock.Lock()
	p.err = err
	p.over = true
	p.lock.Unlock()
	close(p.ended)
}

// deliver queues msg for the stream of p. It never waits for the consumer.
func (self *RtHub) deliver(p *pending, msg Message) bool {
	p.lock.Lock()
	if p.over {
		p.lock.Unlock()
		return false
	}
	p.queue = append(p.queue, msg)
	p.lock.Unlock()
	p.poke()
	return true
}

func (self *RtHub) rememberCompleted(seq uint32) {
	self.completed[self.completedPos] = seq
	self.completedPos = (self.completedPos + 1) % len(self.completed)
}

func (self *RtHub) recentlyCompleted(seq uint32) bool {
	if seq == 0 {
		return false
	}
	for _, s := range self.completed {
		if s == seq {
			return true
		}
	}
	return false
}

func (self *RtHub) run() {
	defer close(self.done)
	for {
		select {
		case <-self.quit:
			self.shutdown(errors.Wrap(NLE_BAD_SOCK, "hub closed"))
			return
		default:
		}
		buf, err := self.sock.Receive()
		if err != nil {
			select {
			case <-self.quit:
				self.shutdown(errors.Wrap(NLE_BAD_SOCK, "hub closed"))
				return
			default:
			}
			if errors.Is(err, unix.ENOBUFS) {
				// the kernel dropped messages; nobody can tell which
				self.log.Warn("netlink receive overrun", "err", err)
				self.failAll(errors.Wrap(NLE_MSG_OVERFLOW, err.Error()))
				continue
			}
			self.log.Error("netlink receive failed", "err", err)
			self.shutdown(errors.Wrap(NLE_BAD_SOCK, err.Error()))
			return
		}
		self.dispatch(buf)
	}
}

// dispatch routes the messages of one datagram. A single-match request is
// complete once the datagram carrying its reply has been routed.
func (self *RtHub) dispatch(buf []byte) {
	msgs, badSeq, perr := splitMessages(buf)

	answered := make(map[uint32]*pending)
	for _, msg := range msgs {
		seq := msg.Header.Seq
		p := self.lookup(seq)
		if p == nil {
			self.metrics.Discarded.Inc()
			if self.recentlyCompleted(seq) {
				self.log.Warn("late reply to a completed single-match request",
					"seq", seq, "type", msg.Header.Type)
			} else {
				self.log.Debug("discarding message", "seq", seq, "type", msg.Header.Type)
			}
			continue
		}
		self.metrics.Messages.WithLabelValues(messageKind(msg)).Inc()

		switch msg.Header.Type {
		case unix.NLMSG_NOOP:
		case unix.NLMSG_DONE, unix.NLMSG_ERROR, unix.NLMSG_OVERRUN:
			delete(answered, seq)
			self.finish(p, msg.Err())
		default:
			p.seen++
			if !p.dump && p.seen > 1 {
				delete(answered, seq)
				self.finish(p, errors.Wrapf(NLE_PROTO_MISMATCH,
					"seq=%d: %d replies to a single-match request", seq, p.seen))
				continue
			}
			if !self.deliver(p, msg) {
				continue
			}
			if !p.dump {
				answered[seq] = p
			}
		}
	}

	if perr != nil {
		self.metrics.Malformed.Inc()
		if p := self.lookup(badSeq); badSeq != 0 && p != nil {
			delete(answered, badSeq)
			self.finish(p, perr)
		} else {
			self.log.Warn("malformed datagram", "err", perr)
		}
	}

	for seq, p := range answered {
		self.finish(p, nil)
		self.rememberCompleted(seq)
	}
}

func (self *RtHub) failAll(err error) {
	self.lock.Lock()
	var all []*pending
	for _, p := range self.unicast {
		all = append(all, p)
	}
	self.lock.Unlock()

	for _, p := range all {
		self.finish(p, err)
	}
}

func (self *RtHub) shutdown(err error) {
	self.lock.Lock()
	if self.err == nil {
		self.err = err
	}
	self.lock.Unlock()
	self.failAll(err)
}

// Close closes the connection and fails every pending request with
// NLE_BAD_SOCK.
func (self *RtHub) Close() error {
	var err error
	self.closeOnce.Do(func() {
		close(self.quit)
		err = self.sock.Close()
	})
	<-self.done
	return err
}

// Done is closed once the reader goroutine has stopped.
func (self *RtHub) Done() <-chan struct{} {
	return self.done
}

// Stream is the reply sequence of one request.
type Stream struct {
	hub  *RtHub
	p    *pending
	once sync.Once
}

func (self *Stream) Seq() uint32 {
	return self.p.seq
}

func (self *Stream) Dump() bool {
	return self.p.dump
}

// Next blocks for the next reply. It returns io.EOF after a clean end and the
// terminal error otherwise, repeatedly.
func (self *Stream) Next(ctx context.Context) (Message, error) {
	p := self.p
	for {
		select {
		case <-p.cancel:
			return Message{}, context.Canceled
		default:
		}

		p.lock.Lock()
		if len(p.queue) > 0 {
			msg := p.queue[0]
			p.queue[0] = Message{}
			p.queue = p.queue[1:]
			more := len(p.queue) > 0
			p.lock.Unlock()
			if more {
				p.poke()
			}
			return msg, nil
		}
		if p.over {
			err := p.err
			p.lock.Unlock()
			if err != nil {
				return Message{}, err
			}
			return Message{}, io.EOF
		}
		p.lock.Unlock()

		select {
		case <-p.notify:
		case <-p.ended:
		case <-p.cancel:
			return Message{}, context.Canceled
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Close abandons the request. Replies still queued or in flight are
// discarded; the connection stays open.
func (self *Stream) Close() {
	self.once.Do(func() {
		self.hub.deregister(self.p)
		close(self.p.cancel)
		self.p.lock.Lock()
		self.p.queue = nil
		self.p.over = true
		self.p.lock.Unlock()
	})
}
