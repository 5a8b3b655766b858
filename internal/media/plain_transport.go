package media

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	// tupleSignalInterval throttles inbound-stream signals while packets arrive
	// and no producer is bound.
	tupleSignalInterval = time.Second
	receiveMTU          = 1600
)

// PlainTransport is the upstream ingest: plain RTP on one UDP port and RTCP on
// another (no rtcp-mux). The remote tuple is learned from the first inbound
// packet, so the camera only needs to know where to send.
type PlainTransport struct {
	id       string
	router   *WebRTCRouter
	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn
	log      logging.LeveledLogger
	wg       sync.WaitGroup

	mu         sync.Mutex
	remote     *net.UDPAddr
	onTuple    func(Tuple)
	producer   *RTPProducer
	lastSignal time.Time
	closed     bool
}

func newPlainTransport(r *WebRTCRouter, opts PlainTransportOptions) (*PlainTransport, error) {
	ip := net.ParseIP(opts.ListenIP)
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}

	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: opts.RTPPort})
	if err != nil {
		return nil, err
	}
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: opts.RTCPPort})
	if err != nil {
		rtpConn.Close()
		return nil, err
	}

	return &PlainTransport{
		id:       uuid.NewString(),
		router:   r,
		rtpConn:  rtpConn,
		rtcpConn: rtcpConn,
		log:      r.loggers.NewLogger("plain-transport"),
	}, nil
}

func (t *PlainTransport) start() {
	t.log.Infof("plain transport listening rtp=%s rtcp=%s", t.RTPAddr(), t.RTCPAddr())
	t.wg.Add(2)
	go t.readRTP()
	go t.readRTCP()
}

// ID returns the transport identifier.
func (t *PlainTransport) ID() string { return t.id }

// RTPAddr is the local RTP socket address.
func (t *PlainTransport) RTPAddr() *net.UDPAddr { return t.rtpConn.LocalAddr().(*net.UDPAddr) }

// RTCPAddr is the local RTCP socket address.
func (t *PlainTransport) RTCPAddr() *net.UDPAddr { return t.rtcpConn.LocalAddr().(*net.UDPAddr) }

// OnTuple registers fn to be called when RTP arrives and no producer is bound.
// It fires at most once per tupleSignalInterval.
func (t *PlainTransport) OnTuple(fn func(Tuple)) {
	t.mu.Lock()
	t.onTuple = fn
	t.mu.Unlock()
}

// Produce binds a producer to the inbound stream. Only packets carrying the
// SSRC of the first encoding are accepted.
func (t *PlainTransport) Produce(ctx context.Context, opts ProducerOptions) (Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := t.router.codecFor(opts.Kind); !ok {
		return nil, ErrUnsupportedKind
	}
	if len(opts.RtpParameters.Encodings) == 0 {
		return nil, ErrNoEncodings
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if t.producer != nil && !t.producer.Closed() {
		t.mu.Unlock()
		return nil, ErrProducerExists
	}
	p := newRTPProducer(t, opts)
	t.producer = p
	t.mu.Unlock()

	t.router.addProducer(p)
	t.log.Infof("producer %s bound to ssrc %d", p.id, p.ssrc)
	return p, nil
}

// Close stops both read loops and closes the bound producer.
func (t *PlainTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	p := t.producer
	t.producer = nil
	t.mu.Unlock()

	err := errors.Join(t.rtpConn.Close(), t.rtcpConn.Close())
	t.wg.Wait()
	if p != nil {
		p.Close()
	}
	t.router.untrack(t)
	return err
}

func (t *PlainTransport) unbind(p *RTPProducer) {
	t.mu.Lock()
	if t.producer == p {
		t.producer = nil
		t.lastSignal = time.Time{}
	}
	t.mu.Unlock()
}

func (t *PlainTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *PlainTransport) readRTP() {
	defer t.wg.Done()
	buf := make([]byte, receiveMTU)
	for {
		n, addr, err := t.rtpConn.ReadFromUDP(buf)
		if err != nil {
			if !t.isClosed() {
				t.log.Errorf("rtp read: %v", err)
			}
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.log.Debugf("dropping malformed rtp from %s: %v", addr, err)
			continue
		}
		t.handleRTP(pkt, n, addr)
	}
}

func (t *PlainTransport) handleRTP(pkt *rtp.Packet, size int, addr *net.UDPAddr) {
	var (
		signal func(Tuple)
		tuple  Tuple
	)

	t.mu.Lock()
	if t.remote == nil || !t.remote.IP.Equal(addr.IP) || t.remote.Port != addr.Port {
		t.remote = addr
		t.log.Infof("incoming rtp from %s", addr)
	}
	p := t.producer
	if p == nil && t.onTuple != nil && time.Since(t.lastSignal) >= tupleSignalInterval {
		t.lastSignal = time.Now()
		signal = t.onTuple
		tuple = Tuple{LocalAddr: t.RTPAddr(), RemoteAddr: addr}
	}
	t.mu.Unlock()

	if signal != nil {
		go signal(tuple)
	}
	if p != nil {
		p.deliver(pkt, size)
	}
}

func (t *PlainTransport) readRTCP() {
	defer t.wg.Done()
	buf := make([]byte, receiveMTU)
	for {
		n, addr, err := t.rtcpConn.ReadFromUDP(buf)
		if err != nil {
			if !t.isClosed() {
				t.log.Errorf("rtcp read: %v", err)
			}
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			t.log.Debugf("dropping malformed rtcp from %s: %v", addr, err)
			continue
		}
		for _, pkt := range pkts {
			if bye, ok := pkt.(*rtcp.Goodbye); ok {
				t.handleBye(bye)
			}
		}
	}
}

func (t *PlainTransport) handleBye(bye *rtcp.Goodbye) {
	t.mu.Lock()
	p := t.producer
	t.mu.Unlock()
	if p == nil {
		return
	}
	for _, ssrc := range bye.Sources {
		if ssrc == p.ssrc {
			t.log.Infof("rtcp bye for ssrc %d: %s", ssrc, bye.Reason)
			p.endTrack()
			return
		}
	}
}
