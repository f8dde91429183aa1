package tele

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cellbeat/cellbeat/helpers"
	"github.com/cellbeat/cellbeat/log2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

func ClientId(deviceId int32) string       { return fmt.Sprintf("cb%d", deviceId) }
func TopicConnect(deviceId int32) string   { return fmt.Sprintf("cb%d/c", deviceId) }
func TopicState(deviceId int32) string     { return fmt.Sprintf("cb%d/w/1s", deviceId) }
func TopicTelemetry(deviceId int32) string { return fmt.Sprintf("cb%d/w/1t", deviceId) }

// paho loggers are package globals
var mqttLogOnce sync.Once

type transportMqtt struct {
	log            *log2.Log
	m              mqtt.Client
	networkTimeout time.Duration

	topicConnect   string
	topicState     string
	topicTelemetry string
}

func (self *transportMqtt) Init(ctx context.Context, log *log2.Log, teleConfig Config, willPayload []byte) error {
	self.log = log
	mqttLog := log.Clone(log2.LInfo)
	if teleConfig.MqttLogDebug {
		mqttLog.SetLevel(log2.LDebug)
	}
	mqttLogOnce.Do(func() {
		mqtt.ERROR = mqttLog
		mqtt.CRITICAL = mqttLog
		mqtt.WARN = mqttLog
		if teleConfig.MqttLogDebug {
			mqtt.DEBUG = mqttLog
		}
	})

	if _, err := url.ParseRequestURI(teleConfig.MqttBroker); err != nil {
		return errors.Annotatef(err, "tele mqtt_broker=%s", teleConfig.MqttBroker)
	}

	deviceId := int32(teleConfig.DeviceId)
	clientId := ClientId(deviceId)
	credFun := func() (string, string) {
		return clientId, teleConfig.MqttPassword
	}
	self.topicConnect = TopicConnect(deviceId)
	self.topicState = TopicState(deviceId)
	self.topicTelemetry = TopicTelemetry(deviceId)
	self.networkTimeout = helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, DefaultNetworkTimeout)
	keepAlive := helpers.IntSecondDefault(teleConfig.KeepaliveSec, 60*time.Second)
	pingTimeout := helpers.IntSecondDefault(teleConfig.PingTimeoutSec, 30*time.Second)
	retryInterval := keepAlive / 2

	mopt := mqtt.NewClientOptions().
		AddBroker(teleConfig.MqttBroker).
		SetBinaryWill(self.topicConnect, willPayload, 1, true).
		SetClientID(clientId).
		SetCredentialsProvider(credFun).
		SetKeepAlive(keepAlive).
		SetPingTimeout(pingTimeout).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetStore(mqtt.NewMemoryStore()).
		SetConnectRetryInterval(retryInterval).
		SetConnectRetry(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	self.m = mqtt.NewClient(mopt)
	// network errors are not Init failure, paho keeps retrying in background
	if token := self.m.Connect(); token.Error() != nil {
		self.log.Errorf("tele mqtt connect err=%v", token.Error())
	}
	return nil
}

func (self *transportMqtt) Close() {
	if self.m == nil {
		return
	}
	self.m.Disconnect(uint(self.networkTimeout / time.Millisecond))
}

// SendState does not wait for ack, next state overwrites retained message anyway.
func (self *transportMqtt) SendState(payload []byte) bool {
	self.log.Debugf("tele mqtt state payload=%x", payload)
	token := self.m.Publish(self.topicState, 1, true, payload)
	if err := token.Error(); err != nil {
		self.log.Debugf("tele mqtt publish topic=%s err=%v", self.topicState, err)
		return false
	}
	return true
}

func (self *transportMqtt) SendTelemetry(payload []byte) bool {
	return self.publish(self.topicTelemetry, false, payload)
}

func (self *transportMqtt) publish(topic string, retain bool, payload []byte) bool {
	token := self.m.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(self.networkTimeout) {
		self.log.Debugf("tele mqtt publish topic=%s timeout", topic)
		return false
	}
	if err := token.Error(); err != nil {
		self.log.Debugf("tele mqtt publish topic=%s err=%v", topic, err)
		return false
	}
	return true
}

func (self *transportMqtt) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("tele mqtt disconnect err=%v", err)
}

func (self *transportMqtt) onConnectHandler(c mqtt.Client) {
	self.log.Infof("tele mqtt connect")
	c.Publish(self.topicConnect, 1, true, []byte{0x01})
}
