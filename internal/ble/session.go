package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/sparkctl/internal/ble/adv"
	"github.com/chaz8081/sparkctl/internal/ble/protocol"
	"github.com/chaz8081/sparkctl/internal/status"
)

var (
	// ErrDisconnected is returned by Run when the amp drops the connection.
	ErrDisconnected = errors.New("ble: disconnected")
	// ErrNoDevice is returned when the scan times out without a match.
	ErrNoDevice = errors.New("ble: no amp found")
	// ErrSessionUsed is returned by a second call to Run.
	ErrSessionUsed = errors.New("ble: session already run")
	// ErrSessionClosed is returned by Send once the session has ended.
	ErrSessionClosed = errors.New("ble: session closed")
)

// State is a step of the session lifecycle.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateDiscovering
	StateSubscribing
	StateExchanging
	StateDisconnected
	StateFailed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateScanning:     "scanning",
	StateConnecting:   "connecting",
	StateDiscovering:  "discovering",
	StateSubscribing:  "subscribing",
	StateExchanging:   "exchanging",
	StateDisconnected: "disconnected",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

const (
	notifyBuffer   = 32
	messagesBuffer = 16
)

// Options configures a Session.
type Options struct {
	// Address connects to a known amp and skips scanning when set.
	Address     string
	AddressKind AddressKind

	Scan        ScanParams
	ScanTimeout time.Duration

	Connection     ConnectionParams
	ConnectTimeout time.Duration

	Retry RetryPolicy

	// Presets are sent in rotation every PresetInterval, starting after
	// InitialDelay. Empty disables the rotation.
	Presets        []int
	PresetInterval time.Duration
	InitialDelay   time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		AddressKind: AddressRandom,
		Scan: ScanParams{
			Interval: time.Second,
			Window:   time.Second,
			Active:   true,
		},
		ScanTimeout: 30 * time.Second,
		Connection: ConnectionParams{
			MinInterval:        40 * time.Millisecond,
			MaxInterval:        40 * time.Millisecond,
			Latency:            5,
			SupervisionTimeout: 10 * time.Second,
		},
		ConnectTimeout: 15 * time.Second,
		Retry:          DefaultRetryPolicy(),
		Presets:        []int{1, 2, 3, 4},
		PresetInterval: 2 * time.Second,
		InitialDelay:   4 * time.Second,
	}
}

// Validate reports options that would send the amp an out-of-range preset.
func (o Options) Validate() error {
	for _, p := range o.Presets {
		if p < 1 || p > protocol.HardwarePresets {
			return fmt.Errorf("ble: preset %d out of range 1..%d", p, protocol.HardwarePresets)
		}
	}
	return nil
}

type sendRequest struct {
	msg    protocol.AppToDeviceMsg
	result chan error
}

// Session runs one connection to the amp from scan to disconnect.
// A Session is single-use.
type Session struct {
	adapter Adapter
	status  *status.Queue
	opts    Options

	state     atomic.Int32
	started   atomic.Bool
	exchanged atomic.Bool

	msgs  chan protocol.DeviceToAppMsg
	sends chan sendRequest
	done  chan struct{}

	mu   sync.Mutex
	peer Report
}

// NewSession creates a session that posts lifecycle lines to q.
// Panics if adapter or q is nil (programmer error).
func NewSession(adapter Adapter, q *status.Queue, opts Options) *Session {
	if adapter == nil || q == nil {
		panic("ble: NewSession called with nil adapter or status queue")
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Session{
		adapter: adapter,
		status:  q,
		opts:    opts,
		msgs:    make(chan protocol.DeviceToAppMsg, messagesBuffer),
		sends:   make(chan sendRequest),
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		slog.Debug("[SESSION] state", "from", prev, "to", st)
	}
}

// Exchanged reports whether the session got as far as exchanging messages.
func (s *Session) Exchanged() bool {
	return s.exchanged.Load()
}

// Peer returns the report of the amp the session connected to.
func (s *Session) Peer() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Messages yields every message decoded from the amp. Messages are dropped
// when the channel is full. The channel is closed when Run returns.
func (s *Session) Messages() <-chan protocol.DeviceToAppMsg {
	return s.msgs
}

// Send hands msg to the session's writer and waits for its blocks to be
// written. It blocks until the session is exchanging.
func (s *Session) Send(ctx context.Context, msg protocol.AppToDeviceMsg) error {
	req := sendRequest{msg: msg, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	case s.sends <- req:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.result:
		return err
	}
}

// Run scans, connects, subscribes and exchanges messages until the
// connection drops or ctx is cancelled. It returns ErrDisconnected when the
// amp goes away, nil when ctx is cancelled, and the failure otherwise.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionUsed
	}
	defer close(s.done)
	defer close(s.msgs)

	if err := s.opts.Validate(); err != nil {
		s.setState(StateFailed)
		slog.Error("[SESSION] invalid options", "error", err)
		return err
	}

	err := s.run(ctx)
	switch {
	case err == nil:
		s.setState(StateDisconnected)
		return nil
	case errors.Is(err, ErrDisconnected):
		s.setState(StateDisconnected)
		s.status.Post("Disconnected")
		slog.Warn("[SESSION] amp disconnected")
		return ErrDisconnected
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		s.setState(StateDisconnected)
		slog.Info("[SESSION] stopped")
		return nil
	default:
		s.setState(StateFailed)
		s.status.Post("Connection failed")
		slog.Error("[SESSION] failed", "error", err)
		return err
	}
}

func (s *Session) run(parent context.Context) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	peer := Report{Address: s.opts.Address, AddressKind: s.opts.AddressKind}
	if peer.Address == "" {
		s.setState(StateScanning)
		r, err := s.scan(parent)
		if err != nil {
			return err
		}
		peer = r
	}
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()

	s.setState(StateConnecting)
	s.status.Post("Connecting...")
	conn, err := s.connect(parent, peer)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			slog.Debug("[BLE] disconnect", "error", err)
		}
	}()

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	conn.OnDisconnect(func() {
		cancel(ErrDisconnected)
	})

	err = s.session(ctx, conn)
	if cause := context.Cause(ctx); errors.Is(cause, ErrDisconnected) {
		return ErrDisconnected
	}
	return err
}

// session runs the post-connect states on conn.
func (s *Session) session(ctx context.Context, conn Connection) error {
	s.setState(StateDiscovering)
	write, notify, err := s.discover(ctx, conn)
	if err != nil {
		return err
	}

	s.setState(StateSubscribing)
	inbound := make(chan []byte, notifyBuffer)
	if err := s.subscribe(ctx, notify, inbound); err != nil {
		return err
	}

	s.setState(StateExchanging)
	s.exchanged.Store(true)
	s.status.Post("Connected!")
	slog.Info("[SESSION] connected", "address", s.Peer().Address)
	return s.exchange(ctx, write, inbound)
}

// scan waits for the first advertiser of ServiceUUID, bounded by
// ScanTimeout.
func (s *Session) scan(parent context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(parent, s.opts.ScanTimeout)
	defer cancel()

	slog.Info("[BLE] scanning", "service", adv.UUID16(ServiceUUID), "timeout", s.opts.ScanTimeout)
	matcher := NewServiceMatcher(adv.UUID16(ServiceUUID))
	errc := make(chan error, 1)
	go func() {
		errc <- s.adapter.Scan(ctx, s.opts.Scan, matcher)
	}()

	select {
	case r := <-matcher.Found():
		cancel()
		<-errc
		slog.Info("[BLE] found amp", "address", r.Address, "name", r.LocalName, "rssi", r.RSSI)
		return r, nil
	case err := <-errc:
		select {
		case r := <-matcher.Found():
			return r, nil
		default:
		}
		if parent.Err() != nil {
			return Report{}, parent.Err()
		}
		if err != nil && ctx.Err() == nil {
			return Report{}, fmt.Errorf("ble: scan: %w", err)
		}
		return Report{}, ErrNoDevice
	}
}

func (s *Session) connect(ctx context.Context, peer Report) (Connection, error) {
	var conn Connection
	err := s.opts.Retry.do(ctx, "connect", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
		c, err := s.adapter.Connect(cctx, peer.Address, peer.AddressKind, s.opts.Connection)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", peer.Address, err)
	}
	return conn, nil
}

func (s *Session) discover(ctx context.Context, conn Connection) (write, notify Characteristic, err error) {
	err = s.opts.Retry.do(ctx, "discover", func(context.Context) error {
		svc, err := conn.DiscoverService(ServiceUUID)
		if err != nil {
			return fmt.Errorf("service 0x%04X: %w", ServiceUUID, err)
		}
		w, err := svc.DiscoverCharacteristic(WriteCharUUID)
		if err != nil {
			return fmt.Errorf("characteristic 0x%04X: %w", WriteCharUUID, err)
		}
		n, err := svc.DiscoverCharacteristic(NotifyCharUUID)
		if err != nil {
			return fmt.Errorf("characteristic 0x%04X: %w", NotifyCharUUID, err)
		}
		write, notify = w, n
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ble: discover: %w", err)
	}
	return write, notify, nil
}

// subscribe enables notifications on notify and forwards each payload to
// inbound. Payloads arriving while inbound is full are dropped.
func (s *Session) subscribe(ctx context.Context, notify Characteristic, inbound chan<- []byte) error {
	forward := func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		select {
		case inbound <- buf:
		default:
			slog.Warn("[BLE] notification dropped, receiver behind")
		}
	}

	// A retry repeats only the step that failed, so forward is registered once.
	var enabled, subscribed bool
	err := s.opts.Retry.do(ctx, "subscribe", func(ctx context.Context) error {
		g, _ := errgroup.WithContext(ctx)
		if !enabled {
			g.Go(func() error {
				if err := notify.WriteDescriptor(CCCDUUID, EnableNotifications()); err != nil {
					return fmt.Errorf("write CCCD: %w", err)
				}
				enabled = true
				return nil
			})
		}
		if !subscribed {
			g.Go(func() error {
				if err := notify.Subscribe(forward); err != nil {
					return err
				}
				subscribed = true
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return fmt.Errorf("ble: subscribe: %w", err)
	}
	return nil
}

// exchange runs the receive loop, the writer and the senders until ctx is
// done or one of them fails.
func (s *Session) exchange(ctx context.Context, write Characteristic, inbound <-chan []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receive(gctx, inbound) })
	g.Go(func() error { return s.writer(gctx, write) })
	g.Go(func() error { return s.requestAmpName(gctx) })
	g.Go(func() error { return s.rotatePresets(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Session) receive(ctx context.Context, inbound <-chan []byte) error {
	var dec protocol.Decoder
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-inbound:
			msg, err := dec.DecodeBlock(b)
			if err != nil {
				slog.Debug("[SESSION] dropped notification", "error", err, "len", len(b))
				continue
			}
			s.handle(msg)
			select {
			case s.msgs <- msg:
			default:
				slog.Debug("[SESSION] message dropped, no reader", "opcode", msg.Opcode())
			}
		}
	}
}

// handle surfaces decoded messages on the status queue.
func (s *Session) handle(msg protocol.DeviceToAppMsg) {
	switch m := msg.(type) {
	case protocol.AmpName:
		slog.Info("[SESSION] amp name", "name", m.Name, "seq", m.Sequence)
		s.status.Post(m.Name)
	case protocol.HardwarePreset:
		slog.Info("[SESSION] hardware preset", "preset", m.Preset, "seq", m.Sequence)
		s.status.Post(fmt.Sprintf("Hardware preset: %d", m.Preset))
	case protocol.SerialNumber:
		slog.Info("[SESSION] serial number", "serial", m.Serial, "seq", m.Sequence)
	case protocol.Ack:
		slog.Debug("[SESSION] ack", "subcommand", fmt.Sprintf("0x%02X", m.SubCommand), "seq", m.Sequence)
	}
}

// writer owns the session's Encoder. Every block of one message is written
// before the next request is taken.
func (s *Session) writer(ctx context.Context, ch Characteristic) error {
	enc := protocol.NewEncoder()
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.sends:
			blocks, err := enc.Encode(req.msg)
			if err != nil {
				req.result <- err
				continue
			}
			err = s.writeBlocks(ctx, ch, blocks)
			req.result <- err
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			slog.Debug("[SESSION] sent", "msg", protocol.Describe(req.msg), "blocks", len(blocks))
		}
	}
}

func (s *Session) writeBlocks(ctx context.Context, ch Characteristic, blocks [][]byte) error {
	for i, b := range blocks {
		err := s.opts.Retry.do(ctx, "write", func(ctx context.Context) error {
			return writeCtx(ctx, ch, b)
		})
		if err != nil {
			return fmt.Errorf("ble: write block %d/%d: %w", i+1, len(blocks), err)
		}
	}
	return nil
}

// writeCtx returns when the write completes or ctx is done. Characteristic
// writes cannot be cancelled, so an abandoned write finishes in the background.
func writeCtx(ctx context.Context, ch Characteristic, b []byte) error {
	errc := make(chan error, 1)
	go func() {
		errc <- ch.Write(b)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func (s *Session) requestAmpName(ctx context.Context) error {
	err := s.Send(ctx, protocol.GetAmpName{})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Session) rotatePresets(ctx context.Context) error {
	presets := s.opts.Presets
	if len(presets) == 0 || s.opts.PresetInterval <= 0 {
		return nil
	}
	if err := sleepCtx(ctx, s.opts.InitialDelay); err != nil {
		return nil
	}

	ticker := time.NewTicker(s.opts.PresetInterval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		p := presets[i%len(presets)]
		if err := s.Send(ctx, protocol.SetHardwarePreset{Preset: uint8(p)}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.status.Post(fmt.Sprintf("Set Hardware preset: %d", p))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
