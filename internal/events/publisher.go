package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/nats-io/nats.go"
)

// SessionEvent is the envelope published on the broker for every lifecycle
// change, consumed by downstream services (calendars, CRM sync, analytics).
type SessionEvent struct {
	Type      string          `json:"type"`
	Session   *models.Session `json:"session"`
	EmittedAt time.Time       `json:"emitted_at"`
}

type Publisher interface {
	PublishSessionEvent(eventType string, session *models.Session) error
	PublishAnalytics(payload any) error
	Close()
}

type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// PublishSessionEvent emits the event on "coachdesk.<type>", e.g.
// coachdesk.session.cancelled.
func (p *NATSPublisher) PublishSessionEvent(eventType string, session *models.Session) error {
	data, err := json.Marshal(SessionEvent{
		Type:      eventType,
		Session:   session,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.conn.Publish("coachdesk."+eventType, data)
}

func (p *NATSPublisher) PublishAnalytics(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish("coachdesk.analytics", data)
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("drain nats connection", "error", err)
		p.conn.Close()
	}
}

// NoopPublisher stands in when no broker is configured; events are dropped.
type NoopPublisher struct{}

func (NoopPublisher) PublishSessionEvent(string, *models.Session) error { return nil }

func (NoopPublisher) PublishAnalytics(any) error { return nil }

func (NoopPublisher) Close() {}
