package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/vendora/webhook-engine/internal/config"
	"github.com/vendora/webhook-engine/internal/engine"
	"github.com/vendora/webhook-engine/internal/models"
	"github.com/vendora/webhook-engine/internal/rabbitmq"
)

// inboundEvent is the JSON shape other backend services publish to the
// ingest queue.
type inboundEvent struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Source string          `json:"source"`
}

// IngestConsumer bridges broker-published domain events into the
// engine: each message becomes one CreateEvent call.
type IngestConsumer struct {
	cfg         *config.RabbitMQConfig
	conn        *rabbitmq.Connection
	engine      *engine.Engine
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

func NewIngestConsumer(cfg *config.RabbitMQConfig, conn *rabbitmq.Connection, eng *engine.Engine, logger *zap.Logger) *IngestConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestConsumer{
		cfg:         cfg,
		conn:        conn,
		engine:      eng,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("webhook-ingest-%d", time.Now().Unix()),
	}
}

// Start begins consuming from the ingest queue. Assumes the queue
// exists; fails if it does not.
func (ic *IngestConsumer) Start() error {
	if ic.cfg.IngestQueue == "" {
		return fmt.Errorf("ingest queue is required")
	}

	if err := ic.startConsuming(); err != nil {
		return err
	}

	ic.started = true
	ic.logger.Info("Ingest consumer started",
		zap.String("queue", ic.cfg.IngestQueue),
		zap.String("consumer_tag", ic.consumerTag),
	)
	return nil
}

func (ic *IngestConsumer) startConsuming() error {
	if err := ic.conn.SetQoS(ic.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := ic.conn.ConsumeMessages(
		ic.cfg.IngestQueue,
		ic.consumerTag,
		false, // autoAck (we manually ACK)
		false, // exclusive
		false, // noLocal
		false, // noWait
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", ic.cfg.IngestQueue, err)
	}

	go ic.processMessages(messages)
	return nil
}

// Stop gracefully stops the consumer.
func (ic *IngestConsumer) Stop() {
	ic.cancel()

	ch := ic.conn.GetChannel()
	if ch != nil {
		if err := ch.Cancel(ic.consumerTag, false); err != nil {
			ic.logger.Error("Failed to cancel consumer",
				zap.String("consumer_tag", ic.consumerTag),
				zap.Error(err),
			)
		}
	}
	ic.logger.Info("Ingest consumer stopped")
}

func (ic *IngestConsumer) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-ic.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				ic.logger.Warn("Message channel closed, attempting to restart consumer",
					zap.String("queue", ic.cfg.IngestQueue),
				)
				ic.restartConsuming()
				return
			}
			ProcessMessage(ic.logger, ic.cfg.IngestQueue, msg, ic)
		}
	}
}

// restartConsuming retries until the connection recovers or the
// consumer is stopped. A new processMessages goroutine takes over on
// success.
func (ic *IngestConsumer) restartConsuming() {
	for ic.started {
		select {
		case <-ic.ctx.Done():
			return
		default:
		}

		time.Sleep(2 * time.Second)
		if !ic.conn.IsHealthy() {
			continue
		}

		if err := ic.startConsuming(); err != nil {
			ic.logger.Error("Failed to restart consuming after channel close, will retry",
				zap.String("queue", ic.cfg.IngestQueue),
				zap.Error(err),
			)
			time.Sleep(5 * time.Second)
			continue
		}

		ic.logger.Info("Restarted consumer after channel close",
			zap.String("queue", ic.cfg.IngestQueue),
		)
		return
	}
}

// HandleEvent implements the EventHandler interface: one broker message
// becomes one ingested event.
func (ic *IngestConsumer) HandleEvent(body []byte) error {
	var inbound inboundEvent
	if err := json.Unmarshal(body, &inbound); err != nil {
		ic.logger.Error("Failed to unmarshal inbound event",
			zap.Error(err),
		)
		// Malformed message: ACK and drop, a redelivery cannot fix it.
		return nil
	}

	source := inbound.Source
	if source == "" {
		source = models.SourceExternal
	}

	event, err := ic.engine.CreateEvent(inbound.Type, inbound.Data, source)
	if err != nil {
		return fmt.Errorf("failed to ingest broker event: %w", err)
	}

	ic.logger.Info("Ingested broker event",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.Type),
		zap.String("source", event.Source),
	)
	return nil
}
