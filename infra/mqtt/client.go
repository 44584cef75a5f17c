package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremon "github.com/kilianp07/tablebot/core/monitoring"
	coremqtt "github.com/kilianp07/tablebot/core/mqtt"
	"github.com/kilianp07/tablebot/infra/logger"
)

const defaultCommandPrefix = "robots"

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	AckTopic string `json:"ack_topic"`
	// CommandPrefix is the topic root of robot commands:
	// <prefix>/<robot id>/command. Defaults to "robots".
	CommandPrefix string `json:"command_prefix"`
	// AckTimeoutMS bounds how long the command forwarder waits for a
	// robot acknowledgment. Zero disables ack tracking.
	AckTimeoutMS int             `json:"ack_timeout_ms"`
	UseTLS       bool            `json:"use_tls"`
	ClientCert   string          `json:"client_cert"`
	ClientKey    string          `json:"client_key"`
	CABundle     string          `json:"ca_bundle"`
	AuthMethod   string          `json:"auth_method"`
	QoS          map[string]byte `json:"qos"`
	LWTTopic     string          `json:"lwt_topic"`
	LWTPayload   string          `json:"lwt_payload"`
	LWTQoS       byte            `json:"lwt_qos"`
	LWTRetain    bool            `json:"lwt_retain"`
	MaxRetries   int             `json:"max_retries"`
	BackoffMS    int             `json:"backoff_ms"`
	TLSConfig    *tls.Config     `json:"-"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient sends robot commands through Eclipse Paho.
type PahoClient struct {
	cli      pahoClient
	ackTopic string
	prefix   string
	qos      map[string]byte

	mu         sync.Mutex
	ackChans   map[string]chan struct{}
	logger     logger.Logger
	lwtTopic   string
	lwtPayload string
	lwtQoS     byte
	lwtRetain  bool
	maxRetries int
	backoff    time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker and subscribes to the ACK topic
// when one is configured.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	logger := logger.New("mqtt_client")
	prefix := strings.TrimSuffix(cfg.CommandPrefix, "/")
	if prefix == "" {
		prefix = defaultCommandPrefix
	}
	pc := &PahoClient{ackTopic: cfg.AckTopic,
		prefix:     prefix,
		ackChans:   make(map[string]chan struct{}),
		logger:     logger,
		qos:        cfg.QoS,
		lwtTopic:   cfg.LWTTopic,
		lwtPayload: cfg.LWTPayload,
		lwtQoS:     cfg.LWTQoS,
		lwtRetain:  cfg.LWTRetain,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		logger.Infof("MQTT connected")
		if pc.ackTopic == "" {
			return
		}
		qos := byte(0)
		if q, ok := pc.qos["ack"]; ok {
			qos = q
		}
		if token := c.Subscribe(pc.ackTopic, qos, pc.onAck); token.Wait() && token.Error() != nil {
			logger.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (p *PahoClient) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string `json:"command_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		p.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	p.mu.Lock()
	ch, ok := p.ackChans[m.CommandID]
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
		p.logger.Infof("received ack %s", m.CommandID)
	}
	p.mu.Unlock()
}

// CommandTopic returns the topic commands for robotID are published on.
func (p *PahoClient) CommandTopic(robotID string) string {
	return p.prefix + "/" + robotID + "/command"
}

// SendCommand publishes cmd on the robot command topic, retrying with
// exponential backoff, and returns the command identifier used for
// acknowledgment tracking.
func (p *PahoClient) SendCommand(ctx context.Context, cmd coremqtt.Command) (string, error) {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	if cmd.Timestamp == 0 {
		cmd.Timestamp = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", err
	}

	topic := p.CommandTopic(cmd.RobotID)
	qos := byte(0)
	if q, ok := p.qos["command"]; ok {
		qos = q
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.backoff <= 0 {
		p.backoff = 100 * time.Millisecond
	}
	if p.ackTopic != "" {
		p.mu.Lock()
		p.ackChans[cmd.CommandID] = make(chan struct{}, 1)
		p.mu.Unlock()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.backoff
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.maxRetries)), ctx)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.Errorf("publish attempt %d failed: %v", attempt, err)
			return err
		}
		return nil
	}, b)
	if err != nil {
		p.forget(cmd.CommandID)
		coremon.CaptureException(err, map[string]string{"module": "mqtt", "robot_id": cmd.RobotID, "action": cmd.Action})
		return "", fmt.Errorf("publish command to %s: %w", topic, err)
	}
	p.logger.Infof("sent %s command %s to %s", cmd.Action, cmd.CommandID, topic)
	return cmd.CommandID, nil
}

func (p *PahoClient) forget(commandID string) {
	p.mu.Lock()
	delete(p.ackChans, commandID)
	p.mu.Unlock()
}

// WaitForAck blocks until an ACK for the given command ID is received or timeout.
func (p *PahoClient) WaitForAck(commandID string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	ch := p.ackChans[commandID]
	p.mu.Unlock()
	if ch == nil {
		return false, fmt.Errorf("unknown command %s", commandID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		p.forget(commandID)
		return true, nil
	case <-timer.C:
		p.forget(commandID)
		return false, fmt.Errorf("command %s: %w", commandID, coremqtt.ErrAckTimeout)
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}

var _ coremqtt.Client = (*PahoClient)(nil)
