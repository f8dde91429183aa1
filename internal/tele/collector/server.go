// Package collector is a minimal MQTT 3.1.1 server receiving device telemetry.
// Supports QoS 0 and 1 publish from devices, last will on unclean disconnect.
// Subscriptions are acknowledged but nothing is delivered to devices.
package collector

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/broker"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/cellbeat/cellbeat/helpers"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	defaultReadLimit      = 1 << 16
)

var (
	ErrSameClient = fmt.Errorf("clientid overtake")
	ErrClosing    = fmt.Errorf("server is closing")
)

// MessageFunc error rejects message, QoS1 publish is not acknowledged.
type MessageFunc = func(ctx context.Context, clientID string, msg *packet.Message) error
type CloseFunc = func(clientID string, clean bool, e error)

type Options struct {
	Log            *log2.Log
	NetworkTimeout time.Duration
	ReadLimit      int64
	// clientid -> password, nil allows any client
	Passwords map[string]string
	OnMessage MessageFunc
	OnClose   CloseFunc
}

type Server struct {
	sync.Mutex

	alive   *alive.Alive
	ctx     context.Context
	log     *log2.Log
	opt     Options
	listens map[string]*transport.NetServer
	clients map[string]*client
}

func New(ctx context.Context, opt Options) *Server {
	if opt.OnMessage == nil {
		panic("code error collector.Options.OnMessage is mandatory")
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReadLimit == 0 {
		opt.ReadLimit = defaultReadLimit
	}
	return &Server{
		alive:   alive.NewAlive(),
		ctx:     ctx,
		log:     opt.Log,
		opt:     opt,
		listens: make(map[string]*transport.NetServer),
		clients: make(map[string]*client),
	}
}

// Listen url scheme is tcp or unix, e.g. tcp://0.0.0.0:1883
func (s *Server) Listen(rawurl string) error {
	u, err := url.ParseRequestURI(rawurl)
	if err != nil {
		return errors.Annotatef(err, "collector listen url=%s", rawurl)
	}
	switch u.Scheme {
	case "tcp", "unix":
	default:
		return errors.NotSupportedf("collector listen url=%s", rawurl)
	}
	listen, err := net.Listen(u.Scheme, u.Host)
	if err != nil {
		return errors.Annotatef(err, "net.Listen network=%s address=%s", u.Scheme, u.Host)
	}
	ns := transport.NewNetServer(listen)

	s.Lock()
	defer s.Unlock()
	if !s.alive.Add(1) {
		_ = ns.Close()
		return ErrClosing
	}
	s.listens[rawurl] = ns
	s.log.Debugf("collector listen url=%s addr=%s", rawurl, ns.Addr())
	go s.acceptLoop(ns, rawurl)
	return nil
}

func (s *Server) Addrs() []string {
	s.Lock()
	defer s.Unlock()
	addrs := make([]string, 0, len(s.listens))
	for _, l := range s.listens {
		addrs = append(addrs, l.Addr().String())
	}
	sort.Strings(addrs)
	return addrs
}

// Clients returns sorted connected client ids.
func (s *Server) Clients() []string {
	s.Lock()
	defer s.Unlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) Close() error {
	s.alive.Stop()
	errs := make([]error, 0)
	s.Lock()
	for key, ns := range s.listens {
		if err := ns.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.listens, key)
	}
	for _, c := range s.clients {
		c.die(ErrClosing)
	}
	s.Unlock()
	s.alive.Wait()
	return helpers.FoldErrors(errs)
}

func (s *Server) acceptLoop(ns *transport.NetServer, rawurl string) {
	defer s.alive.Done() // one alive subtask for each listener
	for {
		conn, err := ns.Accept()
		if !s.alive.IsRunning() {
			return
		}
		if err != nil {
			s.log.Error(errors.Annotatef(err, "accept listen=%s", rawurl))
			return
		}
		if !s.alive.Add(1) { // and one alive subtask for each connection
			_ = conn.Close()
			return
		}
		go s.processConn(conn)
	}
}

func (s *Server) onAccept(conn transport.Conn) (_ *client, err error) {
	addr := addrString(conn.RemoteAddr())
	defer errors.DeferredAnnotatef(&err, "addr=%s", addr)

	var pkt packet.Generic
	pkt, err = conn.Receive()
	if err != nil {
		return nil, errors.Trace(err)
	}
	pktConnect, ok := pkt.(*packet.Connect)
	if !ok {
		err = broker.ErrUnexpectedPacket
		return nil, errors.Trace(err)
	}

	connack := packet.NewConnack()
	if pktConnect.ClientID == "" {
		connack.ReturnCode = packet.IdentifierRejected
		_ = conn.Send(connack, false)
		err = errors.Annotatef(broker.ErrNotAuthorized, "empty clientid")
		return nil, err
	}
	if s.opt.Passwords != nil {
		if pass, ok := s.opt.Passwords[pktConnect.ClientID]; !ok || pass != pktConnect.Password {
			connack.ReturnCode = packet.NotAuthorized
			_ = conn.Send(connack, false)
			err = errors.Annotatef(broker.ErrNotAuthorized, "clientid=%s", pktConnect.ClientID)
			return nil, err
		}
	}
	s.log.Debugf("collector CONNECT addr=%s client=%s keepalive=%d", addr, pktConnect.ClientID, pktConnect.KeepAlive)

	keepalive := time.Duration(pktConnect.KeepAlive) * time.Second
	if keepalive == 0 || keepalive > s.opt.NetworkTimeout {
		keepalive = s.opt.NetworkTimeout
	}
	conn.SetReadTimeout(keepalive + keepalive/2)
	connack.ReturnCode = packet.ConnectionAccepted
	if err = conn.Send(connack, false); err != nil {
		return nil, errors.Trace(err)
	}
	return newClient(conn, pktConnect, s.log), nil
}

func (s *Server) processConn(conn transport.Conn) {
	defer s.alive.Done()

	conn.SetMaxWriteDelay(0)
	conn.SetReadLimit(s.opt.ReadLimit)
	conn.SetReadTimeout(s.opt.NetworkTimeout)
	c, err := s.onAccept(conn)
	if err != nil {
		s.log.Infof("collector onAccept err=%v", err)
		_ = conn.Close()
		return
	}

	s.Lock()
	if ex, ok := s.clients[c.id]; ok {
		s.log.Infof("collector client overtake id=%s ex=%s new=%s", c.id, ex.addr, c.addr)
		ex.die(ErrSameClient)
	}
	s.clients[c.id] = c
	s.Unlock()

	for s.alive.IsRunning() {
		pkt, err := c.conn.Receive()
		if err != nil {
			c.die(err)
			break
		}
		if err = s.processPacket(c, pkt); err != nil {
			c.die(err)
			break
		}
		if c.isClean() {
			c.die(nil)
			break
		}
	}

	s.Lock()
	if ex := s.clients[c.id]; ex == c {
		delete(s.clients, c.id)
	}
	s.Unlock()

	will, clean := c.getWill()
	if !clean && will != nil {
		s.log.Debugf("collector will client=%s %s", c.id, messageText(will))
		if err := s.opt.OnMessage(s.ctx, c.id, will); err != nil {
			s.log.Errorf("collector will client=%s err=%v", c.id, err)
		}
	}
	if s.opt.OnClose != nil {
		s.opt.OnClose(c.id, clean, c.err)
	}
}

func (s *Server) processPacket(c *client, pkt packet.Generic) error {
	s.log.Debugf("collector recv id=%s pkt=%s", c.id, PacketText(pkt))
	switch pt := pkt.(type) {
	case *packet.Pingreq:
		return c.send(packet.NewPingresp())

	case *packet.Publish:
		err := s.opt.OnMessage(s.ctx, c.id, &pt.Message)
		switch pt.Message.QOS {
		case packet.QOSAtMostOnce:
			if err != nil {
				s.log.Errorf("collector onMessage client=%s err=%v", c.id, err)
			}
			return nil

		case packet.QOSAtLeastOnce:
			if err != nil {
				// no ack, client will redeliver
				s.log.Errorf("collector onMessage client=%s id=%d err=%v", c.id, pt.ID, err)
				return nil
			}
			puback := packet.NewPuback()
			puback.ID = pt.ID
			return c.send(puback)
		}
		return errors.NotSupportedf("qos=%d", pt.Message.QOS)

	case *packet.Subscribe:
		if len(pt.Subscriptions) == 0 {
			return fmt.Errorf("subscribe request with empty sub list")
		}
		suback := packet.NewSuback()
		suback.ID = pt.ID
		suback.ReturnCodes = make([]packet.QOS, 0, len(pt.Subscriptions))
		for _, sub := range pt.Subscriptions {
			qos := sub.QOS
			if qos > packet.QOSAtLeastOnce {
				qos = packet.QOSAtLeastOnce
			}
			suback.ReturnCodes = append(suback.ReturnCodes, qos)
		}
		return c.send(suback)

	case *packet.Unsubscribe:
		unsuback := packet.NewUnsuback()
		unsuback.ID = pt.ID
		return c.send(unsuback)

	case *packet.Disconnect:
		c.onDisconnect()
		return nil

	case *packet.Pubrec, *packet.Pubrel, *packet.Pubcomp:
		return fmt.Errorf("qos2 not supported")
	}
	return fmt.Errorf("code error packet is not handled pkt=%s", pkt.String())
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
