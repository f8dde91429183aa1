package tele

import (
	"fmt"
	"strings"

	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/juju/errors"
)

// Describe renders message published by device as text, topic selects the format.
func Describe(topic string, payload []byte) (string, error) {
	switch {
	case strings.HasSuffix(topic, "/c"):
		if len(payload) != 1 {
			return "", errors.NotValidf("connect payload=%x", payload)
		}
		switch payload[0] {
		case stateOffline:
			return "offline", nil
		case 0x01:
			return "online", nil
		}
		return "", errors.NotValidf("connect payload=%x", payload)

	case strings.HasSuffix(topic, "/w/1s"):
		if len(payload) != 2 || payload[0] != stateTag {
			return "", errors.NotValidf("state payload=%x", payload)
		}
		return "state=" + supervisor.State(payload[1]).String(), nil

	case strings.HasSuffix(topic, "/w/1t"), topic == "":
		var r Report
		if err := r.Unmarshal(payload); err != nil {
			return "", err
		}
		return r.String(), nil
	}
	return "", errors.NotSupportedf("topic=%s", topic)
}

// DeviceOf extracts device id from topic, -1 if topic is not ours.
func DeviceOf(topic string) int32 {
	var id int32
	if _, err := fmt.Sscanf(topic, "cb%d/", &id); err != nil {
		return -1
	}
	return id
}
