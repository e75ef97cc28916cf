package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"parcelharvest/internal/config"
	"parcelharvest/internal/model"
)

// JobEvent is published when a job reaches a terminal state, so external
// consumers (dashboards, notifiers) need not poll the engine.
type JobEvent struct {
	JobID       string               `json:"job_id"`
	SubjectKey  string               `json:"subject_key"`
	Type        model.CollectionType `json:"type"`
	Status      model.JobStatus      `json:"status"`
	Attempts    int                  `json:"attempts"`
	Error       string               `json:"error,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
}

// Publisher delivers terminal job events.
type Publisher interface {
	PublishJobEvent(ctx context.Context, ev JobEvent) error
	Close() error
}

// amqpPublisher publishes to a fanout exchange over RabbitMQ, with
// automatic reconnection on connection loss.
type amqpPublisher struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	cfg          config.RabbitMQConfig
	mu           sync.Mutex
	reconnecting bool
	closed       bool
	notifyClose  chan *amqp.Error
}

// NewAMQPPublisher connects and declares the job-events exchange.
func NewAMQPPublisher(cfg config.RabbitMQConfig) (Publisher, error) {
	p := &amqpPublisher{cfg: cfg}

	if err := p.connect(); err != nil {
		return nil, err
	}
	p.setupReconnect()

	log.Info().
		Str("host", cfg.Host).
		Str("exchange", cfg.Exchange).
		Msg("Job event publisher initialized")
	return p, nil
}

func (p *amqpPublisher) connect() error {
	amqpURL := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		p.cfg.Username,
		p.cfg.Password,
		p.cfg.Host,
		p.cfg.Port,
		p.cfg.VHost,
	)

	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Heartbeat: 30 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to RabbitMQ")
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open RabbitMQ channel")
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(p.cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("exchange", p.cfg.Exchange).Msg("Failed to declare exchange")
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.notifyClose = make(chan *amqp.Error, 1)
	conn.NotifyClose(p.notifyClose)
	p.mu.Unlock()

	return nil
}

func (p *amqpPublisher) setupReconnect() {
	go func() {
		for {
			p.mu.Lock()
			notify := p.notifyClose
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}

			amqpErr, ok := <-notify
			if !ok || amqpErr == nil {
				return
			}

			log.Warn().Err(amqpErr).Msg("RabbitMQ connection lost, reconnecting")
			for {
				p.mu.Lock()
				if p.closed {
					p.mu.Unlock()
					return
				}
				p.mu.Unlock()

				if err := p.connect(); err == nil {
					log.Info().Msg("RabbitMQ reconnected")
					break
				}
				time.Sleep(5 * time.Second)
			}
		}
	}()
}

// PublishJobEvent emits one terminal event as JSON. Publishing failures
// are the consumer's loss, never the job's: callers log and move on.
func (p *amqpPublisher) PublishJobEvent(ctx context.Context, ev JobEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}

	p.mu.Lock()
	ch := p.channel
	p.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("publisher channel not available")
	}

	err = ch.PublishWithContext(ctx, p.cfg.Exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("job_id", ev.JobID).
			Str("status", string(ev.Status)).
			Msg("Failed to publish job event")
		return err
	}

	log.Debug().
		Str("job_id", ev.JobID).
		Str("status", string(ev.Status)).
		Msg("Published job event")
	return nil
}

// Close tears down the channel and connection.
func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
