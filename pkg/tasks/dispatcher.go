package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
)

// CallbackPayload is the JSON body delivered to the processing callback.
type CallbackPayload struct {
	TaskID    string            `json:"task_id"`
	MeetingID string            `json:"meeting_id"`
	Attempt   int               `json:"attempt"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// CallbackBaseURL is the base URL of the internal processing endpoint;
	// the meeting id is appended per task.
	CallbackBaseURL string

	// Token is sent as a bearer token on every callback request.
	Token string

	// Workers is the number of concurrent delivery workers.
	Workers int

	// RequestTimeout bounds one callback request. Processing runs inline in
	// the callback and can take minutes, so this is generous.
	RequestTimeout time.Duration

	// QueueName labels metrics.
	QueueName string
}

// Dispatcher drains the queue and delivers each task to the internal
// processing callback over HTTP. A 2xx response acks the task. A 5xx
// response or transport error nacks it for redelivery with backoff. A 4xx
// response is not retryable: redelivering a request the handler already
// rejected cannot succeed, so the task is acked and the rejection logged.
type Dispatcher struct {
	queue   Queue
	client  *http.Client
	cfg     DispatcherConfig
	logger  logging.Logger
	metrics *observability.Metrics
}

// NewDispatcher creates a dispatcher over the given queue.
func NewDispatcher(queue Queue, cfg DispatcherConfig, logger logging.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "processing"
	}
	return &Dispatcher{
		queue:   queue,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		cfg:     cfg,
		logger:  logger.With(logging.F("component", "dispatcher")),
		metrics: metrics,
	}
}

// Run starts the delivery workers and the stale-task recovery loop, blocking
// until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", logging.F("workers", d.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.recoveryLoop(ctx)
	}()

	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := d.queue.Dequeue(ctx, 1, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("dequeue failed", logging.Err(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, task := range batch {
			d.deliver(ctx, task)
		}
	}
}

func (d *Dispatcher) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.queue.RecoverStale(ctx); err != nil {
				d.logger.Error("recovering stale tasks", logging.Err(err))
			}
			// Depth refreshes the queue depth gauge.
			if _, err := d.queue.Depth(ctx); err != nil {
				d.logger.Error("reading queue depth", logging.Err(err))
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, task *Task) {
	log := d.logger.With(
		logging.F("task_id", task.ID),
		logging.F("meeting_id", task.MeetingID),
		logging.F("attempt", task.Attempt))

	status, err := d.post(ctx, task)
	switch {
	case err != nil:
		log.Warn("callback transport error, will retry", logging.Err(err))
		d.metrics.TasksDeliveredTotal.WithLabelValues(d.cfg.QueueName, "error").Inc()
		d.nack(ctx, task, log)
	case status >= 200 && status < 300:
		log.Debug("callback delivered")
		d.metrics.TasksDeliveredTotal.WithLabelValues(d.cfg.QueueName, "ok").Inc()
		if ackErr := d.queue.Ack(ctx, task.ID); ackErr != nil {
			log.Error("acking delivered task", logging.Err(ackErr))
		}
	case status >= 500:
		log.Warn("callback server error, will retry", logging.F("status", status))
		d.metrics.TasksDeliveredTotal.WithLabelValues(d.cfg.QueueName, "server_error").Inc()
		d.nack(ctx, task, log)
	default:
		log.Error("callback rejected task", logging.F("status", status))
		d.metrics.TasksDeliveredTotal.WithLabelValues(d.cfg.QueueName, "rejected").Inc()
		if ackErr := d.queue.Ack(ctx, task.ID); ackErr != nil {
			log.Error("acking rejected task", logging.Err(ackErr))
		}
	}
}

func (d *Dispatcher) nack(ctx context.Context, task *Task, log logging.Logger) {
	if err := d.queue.Nack(ctx, task.ID); err != nil {
		log.Error("nacking task", logging.Err(err))
	}
}

func (d *Dispatcher) post(ctx context.Context, task *Task) (int, error) {
	body, err := json.Marshal(CallbackPayload{
		TaskID:    task.ID,
		MeetingID: task.MeetingID,
		Attempt:   task.Attempt,
		Payload:   task.Payload,
	})
	if err != nil {
		return 0, fmt.Errorf("marshaling callback payload: %w", err)
	}

	url := fmt.Sprintf("%s/internal/process/%s", d.cfg.CallbackBaseURL, task.MeetingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
