package atmodem

import (
	"strconv"
	"strings"

	"github.com/cellbeat/cellbeat/radio"
	"github.com/juju/errors"
)

// 3GPP 27.007 <AcT> values used by LTE-M/NB-IoT modems.
const (
	actLTEM  = 7
	actNBIoT = 9
)

// IsURC reports unsolicited result codes handled by this driver.
func IsURC(line string) bool {
	return strings.HasPrefix(line, "+CEREG:") || strings.HasPrefix(line, "+CSCON:")
}

// ParseURC converts one unsolicited line into events.
// +CEREG: <stat>[,"<tac>","<ci>"[,<AcT>[,...]]]
// +CSCON: <mode>
func ParseURC(line string) ([]radio.Event, error) {
	switch {
	case strings.HasPrefix(line, "+CEREG:"):
		return parseCEREG(strings.TrimSpace(line[len("+CEREG:"):]))
	case strings.HasPrefix(line, "+CSCON:"):
		fields := splitFields(line[len("+CSCON:"):])
		mode, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Annotatef(err, "parse CSCON line=%q", line)
		}
		return []radio.Event{{Kind: radio.EventRRCUpdate, RRCConnected: mode == 1}}, nil
	}
	return nil, errors.NotSupportedf("urc line=%q", line)
}

func parseCEREG(s string) ([]radio.Event, error) {
	fields := splitFields(s)
	stat, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil {
		return nil, errors.Annotatef(err, "parse CEREG stat=%q", fields[0])
	}
	events := make([]radio.Event, 0, 3)
	events = append(events, radio.Event{Kind: radio.EventRegStatus, Status: radio.RegStatus(stat)})
	if len(fields) >= 3 && fields[1] != "" && fields[2] != "" {
		tac, err := strconv.ParseUint(fields[1], 16, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "parse CEREG tac=%q", fields[1])
		}
		ci, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "parse CEREG ci=%q", fields[2])
		}
		events = append(events, radio.Event{Kind: radio.EventCellUpdate, Cell: radio.Cell{ID: uint32(ci), TAC: uint32(tac)}})
	}
	if len(fields) >= 4 && fields[3] != "" {
		switch act, _ := strconv.Atoi(fields[3]); act {
		case actLTEM:
			events = append(events, radio.Event{Kind: radio.EventModeUpdate, Mode: radio.ModeLTEM})
		case actNBIoT:
			events = append(events, radio.Event{Kind: radio.EventModeUpdate, Mode: radio.ModeNBIoT})
		}
	}
	return events, nil
}

func splitFields(s string) []string {
	parts := strings.Split(strings.TrimSpace(s), ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"`)
	}
	return parts
}

// SystemModeCommand selects the radio access technology, nRF91 syntax.
func SystemModeCommand(mode radio.Mode) string {
	if mode == radio.ModeNBIoT {
		return "AT%XSYSTEMMODE=0,1,0,0"
	}
	return "AT%XSYSTEMMODE=1,0,0,0"
}
