package packetguard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

// Notification is one engine event pushed to operators: a detection, a
// failed cycle or a defense transition.
type Notification struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Detection *Detection `json:"detection,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NotificationRegistry fans engine events out to the registered senders.
// Delivery is asynchronous so a slow channel never blocks the engine, and
// per-sender rate limiting keeps a noisy detector from flooding a channel.
type NotificationRegistry struct {
	mu      sync.RWMutex
	senders map[string]NotificationSender
	limiter *TokenBucketRateLimiter
	logger  *log.Logger
}

func NewNotificationRegistry(limiter *TokenBucketRateLimiter, logger *log.Logger) *NotificationRegistry {
	if logger == nil {
		logger = defaultLogger()
	}
	return &NotificationRegistry{
		senders: make(map[string]NotificationSender),
		limiter: limiter,
		logger:  logger,
	}
}

// Register adds a sender, replacing any sender with the same name.
func (nr *NotificationRegistry) Register(sender NotificationSender) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	nr.senders[sender.Name()] = sender
}

// Get retrieves a sender by name.
func (nr *NotificationRegistry) Get(name string) (NotificationSender, bool) {
	nr.mu.RLock()
	defer nr.mu.RUnlock()
	sender, exists := nr.senders[name]
	return sender, exists
}

// Broadcast delivers the notification to every registered sender.
func (nr *NotificationRegistry) Broadcast(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	nr.mu.RLock()
	senders := make([]NotificationSender, 0, len(nr.senders))
	for _, s := range nr.senders {
		senders = append(senders, s)
	}
	nr.mu.RUnlock()

	for _, sender := range senders {
		if nr.limiter != nil {
			key := "notify|" + sender.Name()
			if allowed, _, _, err := nr.limiter.Allow(key); err == nil && !allowed {
				nr.logger.Debug().Str("sender", sender.Name()).Msg("notification rate limited")
				continue
			}
		}
		go func(s NotificationSender) {
			if err := s.Send(n); err != nil {
				nr.logger.Error().Str("sender", s.Name()).Err(err).Msg("notification delivery failed")
			}
		}(sender)
	}
}

// replacePlaceholders substitutes {{...}} tokens in a message template.
func replacePlaceholders(template string, n Notification) string {
	kind, severity, attackID := "", "", ""
	if n.Detection != nil {
		kind = string(n.Detection.Kind)
		severity = string(n.Detection.Severity)
		attackID = n.Detection.AttackID()
	}
	replacer := strings.NewReplacer(
		"{{message}}", n.Message,
		"{{kind}}", kind,
		"{{severity}}", severity,
		"{{attack_id}}", attackID,
		"{{timestamp}}", n.Timestamp.Format(time.RFC3339),
	)
	return replacer.Replace(template)
}

// LogSender writes notifications to the structured log.
type LogSender struct {
	logger *log.Logger
}

func NewLogSender(logger *log.Logger) *LogSender {
	if logger == nil {
		logger = defaultLogger()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(n Notification) error {
	e := s.logger.Info()
	if !n.Success {
		e = s.logger.Error()
	}
	if n.Detection != nil {
		e = e.Str("kind", string(n.Detection.Kind)).
			Str("severity", string(n.Detection.Severity)).
			Str("attack_id", n.Detection.AttackID())
	}
	e.Time("event_time", n.Timestamp).Msg(n.Message)
	return nil
}

// WebhookSender posts notifications as JSON to an HTTP endpoint. An optional
// message template rewrites the message with {{...}} placeholders.
type WebhookSender struct {
	url             string
	messageTemplate string
	client          *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// WithTemplate sets the message template and returns the sender.
func (s *WebhookSender) WithTemplate(template string) *WebhookSender {
	s.messageTemplate = template
	return s
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(n Notification) error {
	message := n.Message
	if s.messageTemplate != "" {
		message = replacePlaceholders(s.messageTemplate, n)
	}
	payload := map[string]any{
		"success":   n.Success,
		"message":   message,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}
	if n.Detection != nil {
		payload["kind"] = n.Detection.Kind
		payload["severity"] = n.Detection.Severity
		payload["attack_id"] = n.Detection.AttackID()
		payload["description"] = n.Detection.Description
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PacketGuard-Notification/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackSender posts notifications to a Slack incoming webhook with a small
// block layout: header, message, fields.
type SlackSender struct {
	url    string
	client *http.Client
}

func NewSlackSender(url string, timeout time.Duration) *SlackSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(n Notification) error {
	header := "PacketGuard event"
	fields := []map[string]string{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Time:*\n%s", n.Timestamp.Format(time.RFC3339))},
	}
	if n.Detection != nil {
		header = fmt.Sprintf("Security Alert: %s", n.Detection.Name)
		fields = append(fields,
			map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*Kind:*\n%s", n.Detection.Kind)},
			map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:*\n%s", n.Detection.Severity)},
			map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*Attack ID:*\n%s", n.Detection.AttackID())},
		)
	} else if !n.Success {
		header = "PacketGuard failure"
	}

	payload := map[string]any{
		"text": n.Message,
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]string{"type": "plain_text", "text": header},
			},
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": n.Message},
			},
			{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
