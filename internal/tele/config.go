package tele

type Config struct { //nolint:maligned
	Enabled           bool   `hcl:"enable"`
	DeviceId          int    `hcl:"device_id"`
	LogDebug          bool   `hcl:"log_debug"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	PingTimeoutSec    int    `hcl:"ping_timeout_sec"`
	MqttBroker        string `hcl:"mqtt_broker"`
	MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
	MqttPassword      string `hcl:"mqtt_password"` // secret
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	ReportIntervalSec int    `hcl:"report_interval_sec"`

	PersistPath string `hcl:"persist_path"`
}
