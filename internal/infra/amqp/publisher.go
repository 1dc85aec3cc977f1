package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"exam-prep-service/internal/domain"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RoutingKeyResult is the routing key of result.completed events.
const RoutingKeyResult = "result.completed"

// ResultEvent is the message body announced for every stored result.
type ResultEvent struct {
	ResultID   string               `json:"resultId"`
	UserID     string               `json:"userId"`
	TestID     string               `json:"testId"`
	TotalMarks float64              `json:"totalMarks"`
	Points     int                  `json:"points"`
	Percentage float64              `json:"percentage"`
	Trigger    domain.SubmitTrigger `json:"trigger"`
	At         time.Time            `json:"completedAt"`
}

// NewResultEvent projects a result into its event form.
func NewResultEvent(r domain.Result) ResultEvent {
	return ResultEvent{
		ResultID:   r.ID,
		UserID:     r.UserID,
		TestID:     r.TestID,
		TotalMarks: r.Score.TotalMarks,
		Points:     domain.PointsFor(r),
		Percentage: r.Percentage,
		Trigger:    r.Trigger,
		At:         r.CompletedAt,
	}
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher sends result events to a topic exchange. A Publisher built without a URL
// is disabled and drops events.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string

	mu sync.Mutex
	ch channel
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if url == "" {
		log.Warn().Msg("amqp url is empty, result events are disabled")
		return &Publisher{exchange: exchange}, nil
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("result publisher ready")
	return &Publisher{conn: conn, exchange: exchange, ch: ch}, nil
}

func (p *Publisher) enabled() bool {
	return p.ch != nil
}

func (p *Publisher) PublishResult(ctx context.Context, result domain.Result) error {
	if !p.enabled() {
		return nil
	}
	body, err := json.Marshal(NewResultEvent(result))
	if err != nil {
		return fmt.Errorf("encode result event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange,       // exchange
		RoutingKeyResult, // routing key
		false,            // mandatory
		false,            // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			MessageId:    result.ID,
			Body:         body,
			Headers: amqp091.Table{
				"user_id": result.UserID,
				"test_id": result.TestID,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish result %s: %w", result.ID, err)
	}
	log.Debug().Str("resultID", result.ID).Str("exchange", p.exchange).Msg("result event published")
	return nil
}

func (p *Publisher) Close() error {
	if !p.enabled() {
		return nil
	}
	if err := p.ch.Close(); err != nil {
		log.Warn().Err(err).Msg("close amqp channel")
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close amqp connection: %w", err)
		}
	}
	return nil
}
