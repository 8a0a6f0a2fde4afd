package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpilot/crm-automation/internal/model"
	"github.com/leadpilot/crm-automation/internal/service"
)

// TopicStageChanges carries stage-change events, in-process and on the broker.
const TopicStageChanges = "lead_stage_changes"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue dispatches published events to in-process subscribers,
// retrying failed handlers a bounded number of times.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	log      zerolog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
		log:      log,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := JobPayload{
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: 3,
	}

	for _, handler := range handlers {
		go q.processJob(handler, job)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return // ACK
		}

		job.RetryCount++
		q.log.Warn().Err(err).
			Int("attempt", job.RetryCount).
			Int("max_retries", job.MaxRetries).
			Msg("event handler failed")

		if job.RetryCount > job.MaxRetries {
			q.log.Error().Int("max_retries", job.MaxRetries).Msg("event permanently dropped")
			return
		}

		time.Sleep(time.Duration(job.RetryCount*500) * time.Millisecond)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// StartStageChangeSubscriber wires in-process stage-change events into
// the automation pipeline, so API-local stage changes and broker-delivered
// ones share one code path.
func StartStageChangeSubscriber(q Queue, automation *service.AutomationService) {
	err := q.Subscribe(TopicStageChanges, func(payload any) error {
		event, ok := payload.(model.StageChangeEvent)
		if !ok {
			automation.Log.Error().
				Str("topic", TopicStageChanges).
				Msg("invalid payload type, expected StageChangeEvent")
			return nil // no retry
		}

		// HandleStageChange swallows per-rule failures by contract.
		automation.HandleStageChange(context.Background(), event)
		return nil
	})
	if err != nil {
		automation.Log.Error().Err(err).
			Str("topic", TopicStageChanges).
			Msg("failed to subscribe")
	}
}
