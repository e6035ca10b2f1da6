package ptp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Slave is a PTPv2 slave-only ordinary clock: joins the event/general
// multicast groups on one interface, tracks whichever master wins BMCA, and
// maintains a servo-smoothed offset estimate.
//
// Socket ownership: the run goroutine owns all event-socket reads, a single
// general-read goroutine owns all general-socket reads, and delayRequestLoop
// only transmits. Follow_Up and Delay_Resp therefore share one dispatch and
// can never consume each other's replies.
type Slave struct {
	iface  string
	domain uint8
	log    zerolog.Logger

	connEvent *net.UDPConn
	connGen   *net.UDPConn

	mu         sync.Mutex
	haveMaster bool
	masterDS   AnnounceDataSet
	masterAddr *net.UDPAddr

	// Pairing state between the exchanges' two halves, guarded by mu:
	// Sync (event goroutine) opens syncOpen for its Follow_Up, Delay_Req
	// (delayRequestLoop) opens reqOpen for its Delay_Resp; the general-read
	// goroutine matches and closes them.
	syncSeq  uint16
	syncT2   time.Time
	syncOpen bool
	reqSeq   uint16
	reqT3    time.Time
	reqOpen  bool

	// pathDelay is owned by the general-read goroutine: written on
	// Delay_Resp, read on Follow_Up.
	pathDelay time.Duration
	servo     *servo

	nowFn  func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSlave constructs a Slave bound to the named network interface and PTP
// domain (typically 0 for AES67 "Media Profile", domain 0 or per-deployment
// configuration).
func NewSlave(iface string, domain uint8) *Slave {
	return &Slave{
		iface:  iface,
		domain: domain,
		log:    log.With().Str("component", "ptp-slave").Str("iface", iface).Logger(),
		servo:  newServo(),
		nowFn:  time.Now,
		reqSeq: uint16(rand.Uint32()),
	}
}

// Start joins the PTP multicast groups and begins processing. The returned
// error is fatal (clock.ErrIO/ErrPTPUnsupported wrapping is the caller's
// job, per clock.EmbeddedSlave).
func (s *Slave) Start(ctx context.Context) error {
	ifi, err := net.InterfaceByName(s.iface)
	if err != nil {
		return fmt.Errorf("ptp: interface %q: %w", s.iface, err)
	}

	group := &net.UDPAddr{IP: net.ParseIP(MulticastAddr)}
	connEv, err := net.ListenMulticastUDP("udp4", ifi, &net.UDPAddr{IP: group.IP, Port: EventPort})
	if err != nil {
		return fmt.Errorf("ptp: join event group: %w", err)
	}
	connGen, err := net.ListenMulticastUDP("udp4", ifi, &net.UDPAddr{IP: group.IP, Port: GeneralPort})
	if err != nil {
		connEv.Close()
		return fmt.Errorf("ptp: join general group: %w", err)
	}

	s.connEvent = connEv
	s.connGen = connGen

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)
	return nil
}

// Stop halts the slave's goroutines and closes its sockets. Idempotent.
func (s *Slave) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.connEvent.SetReadDeadline(time.Now())
	s.connGen.SetReadDeadline(time.Now())
	<-s.done
	s.connEvent.Close()
	s.connGen.Close()
}

// Offset returns the servo's current smoothed master-minus-local offset, in
// nanoseconds. Zero and Synced()==false before the first measurement.
func (s *Slave) Offset() int64 { return s.servo.Offset() }

// Drift returns the servo's measured frequency term (parts-per-billion),
// read-only.
func (s *Slave) Drift() float64 { return s.servo.Drift() }

// Synced reports whether at least one Sync/Follow_Up round has completed.
func (s *Slave) Synced() bool { return s.servo.Synced() }

func (s *Slave) run(ctx context.Context) {
	defer close(s.done)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.generalLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.delayRequestLoop(ctx)
	}()

	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}
		n, addr, err := s.connEvent.ReadFromUDP(buf)
		rx := s.nowFn()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("ptp event socket read failed")
			s.cancel()
			s.connGen.SetReadDeadline(time.Now())
			wg.Wait()
			return
		}
		s.handleEvent(buf[:n], addr, rx)
	}
}

func (s *Slave) handleEvent(buf []byte, addr *net.UDPAddr, rx time.Time) {
	var hdr Header
	if err := hdr.UnmarshalBinary(buf); err != nil {
		return
	}
	switch hdr.MessageType {
	case MsgSync:
		// t2 is this packet's receive time; the precise origin timestamp
		// t1 follows in the Follow_Up on the general socket.
		s.mu.Lock()
		s.syncSeq = hdr.SequenceID
		s.syncT2 = rx
		s.syncOpen = true
		s.mu.Unlock()
	case MsgAnnounce:
		s.handleAnnounce(buf, addr)
	}
}

// generalLoop is the only reader of the general socket.
func (s *Slave) generalLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := s.connGen.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("ptp general socket read failed")
			return
		}
		s.handleGeneral(buf[:n], addr)
	}
}

func (s *Slave) handleGeneral(buf []byte, addr *net.UDPAddr) {
	var hdr Header
	if err := hdr.UnmarshalBinary(buf); err != nil {
		return
	}
	switch hdr.MessageType {
	case MsgFollowUp:
		s.handleFollowUp(buf, hdr.SequenceID)
	case MsgDelayResp:
		s.handleDelayResp(buf, hdr.SequenceID)
	case MsgAnnounce:
		s.handleAnnounce(buf, addr)
	}
}

// handleFollowUp completes a Sync exchange: the Follow_Up body carries t1
// (the master's precise Sync transmit time), paired with the t2 the event
// goroutine captured for the same sequence id.
func (s *Slave) handleFollowUp(buf []byte, seq uint16) {
	if len(buf) < headerSize+10 {
		return
	}
	s.mu.Lock()
	open, pendingSeq, t2 := s.syncOpen, s.syncSeq, s.syncT2
	if open && seq == pendingSeq {
		s.syncOpen = false
	}
	s.mu.Unlock()
	if !open || seq != pendingSeq {
		return
	}

	sec, nsec := decodeTimestamp(buf, headerSize)
	t1 := time.Unix(sec, int64(nsec))

	// Master-minus-local: the negation of ((t2-t1)-(t4-t3))/2, with
	// pathDelay holding the latest t4-t3.
	rawOffset := (t1.Sub(t2) + s.pathDelay) / 2
	s.servo.sample(rawOffset.Nanoseconds())
}

// handleDelayResp completes a Delay_Req exchange: the body's
// requestReceiptTimestamp carries t4 (the master's receive time of our
// Delay_Req); our own send time t3 was recorded at transmission.
func (s *Slave) handleDelayResp(buf []byte, seq uint16) {
	if len(buf) < headerSize+10 {
		return
	}
	s.mu.Lock()
	open, pendingSeq, t3 := s.reqOpen, s.reqSeq, s.reqT3
	if open && seq == pendingSeq {
		s.reqOpen = false
	}
	s.mu.Unlock()
	if !open || seq != pendingSeq {
		return
	}

	sec, nsec := decodeTimestamp(buf, headerSize)
	t4 := time.Unix(sec, int64(nsec))
	s.pathDelay = t4.Sub(t3)
}

func (s *Slave) handleAnnounce(buf []byte, addr *net.UDPAddr) {
	if len(buf) < announceBodyOffset+19 {
		return
	}
	ann := decodeAnnounce(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveMaster || ann.betterThan(s.masterDS) {
		s.haveMaster = true
		s.masterDS = ann
		s.masterAddr = addr
	}
}

// delayRequestLoop periodically transmits Delay_Req to the current master.
// It never reads; the matching Delay_Resp arrives through generalLoop's
// dispatch.
func (s *Slave) delayRequestLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendDelayReq()
		}
	}
}

func (s *Slave) sendDelayReq() {
	s.mu.Lock()
	addr := s.masterAddr
	s.mu.Unlock()
	if addr == nil {
		return
	}

	s.mu.Lock()
	s.reqSeq++
	seq := s.reqSeq
	s.reqT3 = s.nowFn()
	s.reqOpen = true
	s.mu.Unlock()

	hdr := Header{
		MessageType:  MsgDelayReq,
		Version:      2,
		MessageLen:   headerSize + 10,
		DomainNumber: s.domain,
		SequenceID:   seq,
		ControlField: 1,
	}
	b, _ := hdr.MarshalBinary()
	buf := append(b, make([]byte, 10)...)

	if _, err := s.connEvent.WriteToUDP(buf, addr); err != nil {
		s.mu.Lock()
		s.reqOpen = false
		s.mu.Unlock()
	}
}
