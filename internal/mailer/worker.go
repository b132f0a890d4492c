package mailer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aravula7/agentic-rag-analytics/internal/metrics"
	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

// sendTimeout bounds one SMTP conversation.
const sendTimeout = 60 * time.Second

// task is one queued delivery.
type task struct {
	recipient string
	query     string
	exec      *pipeline.ExecutionResult // nil for failure notices
	errMsg    string
}

// Worker delivers emails from a bounded queue on a single background
// goroutine. It implements the pipeline's delivery contract: enqueue calls
// return immediately, and when the queue is full the delivery is dropped
// rather than blocking the request path.
type Worker struct {
	mailer *Mailer
	tasks  chan task
	log    *slog.Logger

	wg   sync.WaitGroup
	once sync.Once
}

// NewWorker creates a Worker with the given queue depth.
func NewWorker(mailer *Mailer, queueSize int, log *slog.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Worker{mailer: mailer, tasks: make(chan task, queueSize), log: log}
}

// Start launches the delivery goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop drains the queue and waits for in-flight deliveries to finish.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.tasks) })
	w.wg.Wait()
}

// DeliverResults queues a results email.
func (w *Worker) DeliverResults(recipient, query string, exec *pipeline.ExecutionResult) {
	w.enqueue(task{recipient: recipient, query: query, exec: exec})
}

// DeliverFailure queues a failure notice.
func (w *Worker) DeliverFailure(recipient, query, errMsg string) {
	w.enqueue(task{recipient: recipient, query: query, errMsg: errMsg})
}

func (w *Worker) enqueue(t task) {
	select {
	case w.tasks <- t:
	default:
		metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
		if w.log != nil {
			w.log.Warn("mailer: delivery queue full, dropping", "recipient", t.recipient)
		}
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for t := range w.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		var err error
		if t.exec != nil {
			err = w.mailer.SendResults(ctx, t.recipient, t.query, t.exec)
		} else {
			err = w.mailer.SendFailure(ctx, t.recipient, t.query, t.errMsg)
		}
		cancel()

		if err != nil {
			metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
			if w.log != nil {
				w.log.Error("mailer: delivery failed", "recipient", t.recipient, "error", err)
			}
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
		if w.log != nil {
			w.log.Info("mailer: delivered", "recipient", t.recipient)
		}
	}
}
