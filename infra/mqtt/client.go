package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/bloodlink/core/monitoring"
	coremqtt "github.com/kilianp07/bloodlink/core/mqtt"
	"github.com/kilianp07/bloodlink/infra/logger"
)

// Default topics. %s is replaced by the donor id.
const (
	DefaultAlertTopic        = "donor/%s/alert"
	DefaultVerdictTopic      = "donor/%s/verdict"
	DefaultReceiptTopic      = "donor/+/receipt"
	DefaultResponseTopic     = "donor/+/response"
	DefaultAvailabilityTopic = "donor/+/availability"
	DefaultEscalationTopic   = "ops/escalations"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker            string          `json:"broker"`
	ClientID          string          `json:"client_id"`
	Username          string          `json:"username"`
	Password          string          `json:"password"`
	AlertTopic        string          `json:"alert_topic"`
	VerdictTopic      string          `json:"verdict_topic"`
	ReceiptTopic      string          `json:"receipt_topic"`
	ResponseTopic     string          `json:"response_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	EscalationTopic   string          `json:"escalation_topic"`
	UseTLS            bool            `json:"use_tls"`
	ClientCert        string          `json:"client_cert"`
	ClientKey         string          `json:"client_key"`
	CABundle          string          `json:"ca_bundle"`
	AuthMethod        string          `json:"auth_method"`
	QoS               map[string]byte `json:"qos"`
	LWTTopic          string          `json:"lwt_topic"`
	LWTPayload        string          `json:"lwt_payload"`
	LWTQoS            byte            `json:"lwt_qos"`
	LWTRetain         bool            `json:"lwt_retain"`
	MaxRetries        int             `json:"max_retries"`
	BackoffMS         int             `json:"backoff_ms"`
	TLSConfig         *tls.Config     `json:"-"`
}

// SetDefaults fills empty topics.
func (c *Config) SetDefaults() {
	def := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	def(&c.AlertTopic, DefaultAlertTopic)
	def(&c.VerdictTopic, DefaultVerdictTopic)
	def(&c.ReceiptTopic, DefaultReceiptTopic)
	def(&c.ResponseTopic, DefaultResponseTopic)
	def(&c.AvailabilityTopic, DefaultAvailabilityTopic)
	def(&c.EscalationTopic, DefaultEscalationTopic)
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// PahoClient implements core/mqtt.Client using Eclipse Paho and exposes
// the publish and subscribe helpers used by the other adapters.
type PahoClient struct {
	cli          pahoClient
	alertTopic   string
	verdictTopic string
	receiptTopic string
	qos          map[string]byte

	mu           sync.Mutex
	receiptChans map[string]chan struct{}
	logger       logger.Logger
	maxRetries   int
	backoff      time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker and subscribes to the receipt topic.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		alertTopic:   cfg.AlertTopic,
		verdictTopic: cfg.VerdictTopic,
		receiptTopic: cfg.ReceiptTopic,
		receiptChans: make(map[string]chan struct{}),
		logger:       log,
		qos:          cfg.QoS,
		maxRetries:   cfg.MaxRetries,
		backoff:      time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	if pc.maxRetries <= 0 {
		pc.maxRetries = 3
	}
	if pc.backoff <= 0 {
		pc.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(pc.receiptTopic, pc.qosFor("receipt"), pc.onReceipt); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
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
	// Each message handler runs on its own goroutine, so a slow response
	// handler cannot hold back receipts.
	opts.SetOrderMatters(false)
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

func (p *PahoClient) qosFor(key string) byte {
	if q, ok := p.qos[key]; ok {
		return q
	}
	return 0
}

// donorFromTopic extracts the donor id from topics shaped donor/<id>/<kind>.
func donorFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return ""
}

func (p *PahoClient) onReceipt(_ paho.Client, msg paho.Message) {
	var m struct {
		NotificationID string `json:"notification_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		p.logger.Errorf("failed to decode receipt: %v", err)
		return
	}
	p.mu.Lock()
	ch, ok := p.receiptChans[m.NotificationID]
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
		p.logger.Debugf("received receipt %s", m.NotificationID)
	}
	p.mu.Unlock()
}

// Publish sends payload with retries and exponential backoff. key selects
// the QoS from the configuration.
func (p *PahoClient) Publish(topic, key string, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, p.qosFor(key), false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	return publishErr
}

// Subscribe registers h for topic. key selects the QoS from the configuration.
func (p *PahoClient) Subscribe(topic, key string, h func(topic string, payload []byte)) error {
	token := p.cli.Subscribe(topic, p.qosFor(key), func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Unsubscribe removes the subscription on topic.
func (p *PahoClient) Unsubscribe(topic string) error {
	token := p.cli.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

type alertEnvelope struct {
	NotificationID string `json:"notification_id"`
	DonorID        string `json:"donor_id"`
	Timestamp      int64  `json:"timestamp"`
	Alert          any    `json:"alert"`
}

// SendAlert publishes an alert to the donor specific topic and returns the
// notification identifier used for receipt tracking.
func (p *PahoClient) SendAlert(donorID string, payload any) (string, error) {
	id := uuid.NewString()
	b, err := json.Marshal(alertEnvelope{
		NotificationID: id,
		DonorID:        donorID,
		Timestamp:      time.Now().UnixMilli(),
		Alert:          payload,
	})
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.receiptChans[id] = make(chan struct{}, 1)
	p.mu.Unlock()

	topic := fmt.Sprintf(p.alertTopic, donorID)
	if err := p.Publish(topic, "alert", b); err != nil {
		p.mu.Lock()
		delete(p.receiptChans, id)
		p.mu.Unlock()
		monitoring.CaptureException(err, map[string]string{"module": "mqtt", "donor_id": donorID})
		return "", err
	}
	p.logger.Debugf("sent alert %s to %s", id, topic)
	return id, nil
}

// SendVerdict tells a donor how the response was arbitrated.
func (p *PahoClient) SendVerdict(donorID string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Publish(fmt.Sprintf(p.verdictTopic, donorID), "verdict", b)
}

// WaitForReceipt blocks until a receipt for the notification is received or timeout.
func (p *PahoClient) WaitForReceipt(notificationID string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	ch := p.receiptChans[notificationID]
	p.mu.Unlock()
	if ch == nil {
		return false, fmt.Errorf("unknown notification %s", notificationID)
	}
	defer func() {
		p.mu.Lock()
		delete(p.receiptChans, notificationID)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true, nil
	case <-timer.C:
		return false, fmt.Errorf("%w", coremqtt.ErrReceiptTimeout)
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}

var _ coremqtt.Client = (*PahoClient)(nil)
