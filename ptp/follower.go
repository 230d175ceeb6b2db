package ptp

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
)

// pollInterval is the socket read deadline; the read loops wake at least
// this often to observe shutdown.
const pollInterval = 100 * time.Millisecond

// joinTimeout bounds how long Stop waits for the read loops before closing
// the sockets out from under them.
const joinTimeout = 2 * time.Second

// FollowerConfig configures a PTP follower.
type FollowerConfig struct {
	// Interface is the name of the network interface to join the multicast
	// group on; empty lets the kernel choose.
	Interface string
	// Domain is the PTP domain to follow (default 0). Messages for other
	// domains are ignored.
	Domain uint8
	// Servo overrides the PI servo tuning; zero values take the defaults.
	Servo ServoConfig
	// Log defaults to slog.Default().
	Log *slog.Logger
}

// Follower listens on the PTP event and general ports, runs the
// delay-request exchange against the grandmaster, and accumulates clock
// corrections from the PI servo.
//
// The epoch baseline is taken from the very first completed exchange with
// no outlier rejection, so a single glitched packet at startup biases all
// subsequent drift measurements. Known limitation.
type Follower struct {
	log    *slog.Logger
	domain uint8
	iface  *net.Interface
	pid    PortIdentity

	eventConn   *net.UDPConn
	generalConn *net.UDPConn

	// now returns local time in 100 ns units; swapped in tests.
	now func() int64
	// sendEvent transmits a packet on the event port; swapped in tests.
	sendEvent func([]byte) error

	mu           sync.Mutex
	servo        *Servo
	ex           exchange
	master       PortIdentity
	baseline     int64
	baselineSet  bool
	delaySeq     uint16
	awaitingResp bool

	correction   atomic.Int64
	pathDelay    atomic.Int64
	offsetMicros atomic.Uint64 // float64 bits
	synced       atomic.Bool
	samples      atomic.Int64

	stop    chan struct{}
	stopped chan struct{}
	started bool
}

// exchange holds the four timestamps of one in-flight measurement.
type exchange struct {
	t1, t2, t3, t4 int64
	seqID          uint16
	haveT1         bool
	haveT2         bool
}

// NewFollower creates a follower for the configured interface and domain.
// Sockets are opened by Start.
func NewFollower(cfg FollowerConfig) (*Follower, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("ptp: interface %s: %w", cfg.Interface, err)
		}
	}

	epoch := time.Now()
	f := &Follower{
		log:     log.With("component", "ptp", "domain", cfg.Domain),
		domain:  cfg.Domain,
		iface:   iface,
		pid:     LocalPortIdentity(iface),
		servo:   NewServo(cfg.Servo),
		now:     func() int64 { return int64(time.Since(epoch) / 100) },
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	return f, nil
}

// PortIdentity returns the follower's own port identity.
func (f *Follower) PortIdentity() PortIdentity { return f.pid }

// ClockCorrection returns the accumulated correction in 100 ns units.
func (f *Follower) ClockCorrection() int64 { return f.correction.Load() }

// PathDelay returns the most recent path-delay estimate in 100 ns units.
func (f *Follower) PathDelay() int64 { return f.pathDelay.Load() }

// Synchronized reports whether at least one exchange has completed.
func (f *Follower) Synchronized() bool { return f.synced.Load() }

// OffsetMicroseconds returns the most recent drift measurement.
func (f *Follower) OffsetMicroseconds() float64 {
	return math.Float64frombits(f.offsetMicros.Load())
}

// State returns the servo mode.
func (f *Follower) State() ServoState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servo.State()
}

// Start joins the multicast group on the event and general ports and
// launches the read loops.
func (f *Follower) Start() error {
	if f.started {
		return fmt.Errorf("ptp: already started")
	}

	group := &net.UDPAddr{IP: MulticastGroup}

	event, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: EventPort})
	if err != nil {
		return fmt.Errorf("ptp: bind event port: %w", err)
	}
	if err := ipv4.NewPacketConn(event).JoinGroup(f.iface, group); err != nil {
		event.Close()
		return fmt.Errorf("ptp: join group (event): %w", err)
	}

	general, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: GeneralPort})
	if err != nil {
		event.Close()
		return fmt.Errorf("ptp: bind general port: %w", err)
	}
	if err := ipv4.NewPacketConn(general).JoinGroup(f.iface, group); err != nil {
		event.Close()
		general.Close()
		return fmt.Errorf("ptp: join group (general): %w", err)
	}

	f.eventConn = event
	f.generalConn = general
	f.sendEvent = func(pkt []byte) error {
		_, err := event.WriteToUDP(pkt, &net.UDPAddr{IP: MulticastGroup, Port: EventPort})
		return err
	}
	f.started = true

	var wg sync.WaitGroup
	wg.Add(2)
	go f.readLoop(event, &wg)
	go f.readLoop(general, &wg)
	go func() {
		wg.Wait()
		close(f.stopped)
	}()

	f.log.Info("follower started", "port_identity", f.pid.String())
	return nil
}

// Stop signals the read loops and waits up to two seconds for them to
// exit; the sockets are closed regardless.
func (f *Follower) Stop() {
	if !f.started {
		return
	}
	close(f.stop)

	select {
	case <-f.stopped:
	case <-time.After(joinTimeout):
		f.log.Warn("read loops did not stop in time, closing sockets")
	}

	f.eventConn.Close()
	f.generalConn.Close()
}

func (f *Follower) readLoop(conn *net.UDPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, 512)
	for {
		select {
		case <-f.stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-f.stop:
				return
			default:
			}
			f.log.Debug("socket read error", "error", err)
			continue
		}

		recv := f.now()
		f.handleMessage(buf[:n], recv)
	}
}

// handleMessage dispatches one received PTP packet. recv is the local
// receive time in 100 ns units.
func (f *Follower) handleMessage(pkt []byte, recv int64) {
	h, err := ParseHeader(pkt)
	if err != nil {
		return
	}
	if h.Domain != f.domain {
		return
	}

	switch h.MessageType {
	case MsgSync:
		f.mu.Lock()
		f.ex = exchange{t2: recv, seqID: h.SequenceID, haveT2: true}
		f.master = h.SourcePortIdentity
		if !h.TwoStep() {
			if ts, err := ParseTimestamp(pkt[HeaderSize:]); err == nil {
				f.ex.t1 = ts.To100ns() + h.CorrectionTo100ns()
				f.ex.haveT1 = true
			}
		}
		f.maybeSendDelayReqLocked()
		f.mu.Unlock()

	case MsgFollowUp:
		f.mu.Lock()
		if f.ex.haveT2 && h.SequenceID == f.ex.seqID {
			if ts, err := ParseTimestamp(pkt[HeaderSize:]); err == nil {
				f.ex.t1 = ts.To100ns() + h.CorrectionTo100ns()
				f.ex.haveT1 = true
				f.maybeSendDelayReqLocked()
			}
		}
		f.mu.Unlock()

	case MsgDelayResp:
		if len(pkt) < delayRespSize {
			return
		}
		reqPID, err := parsePortIdentity(pkt[HeaderSize+TimestampSize:])
		if err != nil || reqPID != f.pid {
			return
		}
		f.mu.Lock()
		if f.awaitingResp && h.SequenceID == f.delaySeq {
			if ts, err := ParseTimestamp(pkt[HeaderSize:]); err == nil {
				f.ex.t4 = ts.To100ns() + h.CorrectionTo100ns()
				f.completeLocked()
			}
		}
		f.mu.Unlock()
	}
}

// maybeSendDelayReqLocked sends a DelayReq once t1 and t2 are both known
// and no response is outstanding. t3 is recorded just before transmission.
func (f *Follower) maybeSendDelayReqLocked() {
	if !f.ex.haveT1 || !f.ex.haveT2 || f.awaitingResp || f.sendEvent == nil {
		return
	}

	f.delaySeq++
	pkt := BuildDelayReq(f.domain, f.delaySeq, f.pid)
	f.ex.t3 = f.now()
	if err := f.sendEvent(pkt); err != nil {
		f.log.Debug("delay request send failed", "error", err)
		return
	}
	f.awaitingResp = true
}

// completeLocked finishes one exchange: computes offset and path delay,
// establishes the epoch baseline on the first sample, and feeds drift into
// the servo thereafter.
func (f *Follower) completeLocked() {
	t1, t2, t3, t4 := f.ex.t1, f.ex.t2, f.ex.t3, f.ex.t4
	f.ex = exchange{}
	f.awaitingResp = false

	rawOffset, pathDelay, ok := Measure(t1, t2, t3, t4)
	if !ok {
		f.log.Debug("discarding implausible sample",
			"t1", t1, "t2", t2, "t3", t3, "t4", t4)
		return
	}
	f.pathDelay.Store(pathDelay)

	if !f.baselineSet {
		f.baseline = rawOffset
		f.baselineSet = true
		f.synced.Store(true)
		f.log.Info("baseline established",
			"offset", rawOffset,
			"path_delay", pathDelay,
			"master", f.master.String())
		return
	}

	drift := rawOffset - f.baseline
	corr := f.servo.Sample(drift)
	f.correction.Add(corr)
	f.offsetMicros.Store(math.Float64bits(float64(drift) / 10))
	f.samples.Add(1)

	f.log.Debug("sample",
		"drift", drift,
		"correction", corr,
		"state", f.servo.State().String())
}

// Measure computes the raw clock offset and one-way path delay from the
// four exchange timestamps, all in 100 ns units. ok is false when the
// round-trip sum is negative, which indicates an implausible measurement.
func Measure(t1, t2, t3, t4 int64) (rawOffset, pathDelay int64, ok bool) {
	ms := t2 - t1 // master-to-slave including offset
	sm := t4 - t3 // slave-to-master minus offset

	if ms+sm < 0 {
		return 0, 0, false
	}
	return (ms - sm) / 2, (ms + sm) / 2, true
}
