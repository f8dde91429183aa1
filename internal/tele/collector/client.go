package collector

import (
	"sync"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/juju/errors"
)

// Server side connection state.
type client struct {
	sync.Mutex
	addr  string
	conn  transport.Conn
	err   error
	dead  bool
	clean bool
	id    string
	log   *log2.Log
	will  *packet.Message
}

func newClient(conn transport.Conn, pktConnect *packet.Connect, log *log2.Log) *client {
	c := &client{
		addr: addrString(conn.RemoteAddr()),
		conn: conn,
		id:   pktConnect.ClientID,
		log:  log,
	}
	if pktConnect.Will != nil {
		c.will = pktConnect.Will.Copy()
	}
	return c
}

func (c *client) send(pkt packet.Generic) error {
	c.log.Debugf("collector send id=%s pkt=%s", c.id, PacketText(pkt))
	if err := c.conn.Send(pkt, false); err != nil {
		return errors.Annotatef(err, "clientid=%s", c.id)
	}
	return nil
}

// die closes connection once, first error wins.
func (c *client) die(e error) {
	c.Lock()
	defer c.Unlock()
	if c.dead {
		return
	}
	c.dead = true
	c.err = e
	c.log.Debugf("collector die id=%s e=%v", c.id, e)
	_ = c.conn.Close()
}

func (c *client) onDisconnect() {
	c.Lock()
	c.clean = true
	c.will = nil
	c.Unlock()
}

func (c *client) isClean() bool {
	c.Lock()
	defer c.Unlock()
	return c.clean
}

func (c *client) getWill() (m *packet.Message, clean bool) {
	c.Lock()
	defer c.Unlock()
	if c.will != nil {
		m = c.will.Copy()
	}
	return m, c.clean
}
