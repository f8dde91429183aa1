package collector

import (
	"fmt"

	"github.com/256dpi/gomqtt/packet"
	"github.com/cellbeat/cellbeat/internal/tele"
)

// PacketText is one-line form of packet for debug logs, device payloads decoded when possible.
func PacketText(p packet.Generic) string {
	switch pkt := p.(type) {
	case nil:
		return "(nil)"
	case *packet.Publish:
		return fmt.Sprintf("publish id=%d dup=%t %s", pkt.ID, pkt.Dup, messageText(&pkt.Message))
	}
	return p.String()
}

func messageText(m *packet.Message) string {
	if m == nil {
		return "message=nil"
	}
	if text, err := tele.Describe(m.Topic, m.Payload); err == nil {
		return fmt.Sprintf("topic=%s qos=%d retain=%t %s", m.Topic, m.QOS, m.Retain, text)
	}
	return fmt.Sprintf("topic=%s qos=%d retain=%t payload=%x", m.Topic, m.QOS, m.Retain, m.Payload)
}
