// Package pipeline implements the query orchestration workflow: cache check,
// routing, SQL generation, execution, optional delivery and cache write. The
// retry loop that feeds execution errors back into generation is expressed as
// an explicit state machine with a single shared attempt budget.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aravula7/agentic-rag-analytics/internal/metrics"
)

// DefaultMaxSQLAttempts bounds the total number of SQL statements attempted
// per request, across generation failures and execution-triggered retries.
const DefaultMaxSQLAttempts = 3

// Router classifies a question into a routing decision.
type Router interface {
	Route(ctx context.Context, query string) (*Decision, error)
}

// Generator produces a candidate SQL statement. When prior is non-nil the
// generation is error-informed: the failing statement and its error are part
// of the prompt.
type Generator interface {
	Generate(ctx context.Context, query string, tables []string, prior *Attempt) (string, error)
}

// Executor runs a statement and materializes results to durable storage.
// Failures are classified as *DatabaseError or *InfraError.
type Executor interface {
	Execute(ctx context.Context, sql, originatingQuery string) (*ExecutionResult, error)
}

// ResultCache is the response cache contract. Implementations absorb all
// backend errors: Get degrades to a miss, Set and Delete to no-ops.
type ResultCache interface {
	Get(ctx context.Context, query string) (*Response, bool)
	Set(ctx context.Context, query string, resp *Response)
	Delete(ctx context.Context, query string)
}

// Deliverer hands result or failure notifications to a background worker.
// Both calls return immediately; delivery never gates the response.
type Deliverer interface {
	DeliverResults(recipient, query string, exec *ExecutionResult)
	DeliverFailure(recipient, query, errMsg string)
}

// Config holds the pipeline's collaborators and policy knobs.
type Config struct {
	Logger         *slog.Logger
	Router         Router
	Generator      Generator
	Executor       Executor
	Cache          ResultCache // nil disables caching
	Deliverer      Deliverer   // nil disables delivery
	MaxSQLAttempts int         // defaults to DefaultMaxSQLAttempts
}

// Pipeline sequences the stages for one request at a time. Instances are
// safe for concurrent use; all per-request state lives in Run.
type Pipeline struct {
	cfg Config
	log *slog.Logger
}

// New creates a Pipeline, validating that the required collaborators are set.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MaxSQLAttempts <= 0 {
		cfg.MaxSQLAttempts = DefaultMaxSQLAttempts
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}, nil
}

// state is one stage of the orchestration workflow.
type state int

const (
	stateCacheCheck state = iota
	stateRoute
	stateGenerate
	stateExecute
	stateDeliver
	stateCacheWrite
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateCacheCheck:
		return "cache_check"
	case stateRoute:
		return "route"
	case stateGenerate:
		return "sql_generate"
	case stateExecute:
		return "execute"
	case stateDeliver:
		return "deliver"
	case stateCacheWrite:
		return "cache_write"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Run processes one request through the state machine and returns the
// response. It never returns an error: fatal failures are reported through
// Response.Fatal, everything non-fatal is absorbed at its stage.
func (p *Pipeline) Run(ctx context.Context, req Request) *Response {
	query := Normalize(req.Query)
	resp := &Response{Query: query}

	var (
		st       = stateCacheCheck
		attempts int
		sql      string
		prior    *Attempt
	)

	for {
		stageStart := time.Now()
		switch st {
		case stateCacheCheck:
			if !req.UseCache || p.cfg.Cache == nil {
				st = stateRoute
				continue
			}
			if cached, ok := p.cfg.Cache.Get(ctx, query); ok {
				cached.CacheHit = true
				metrics.CacheHitsTotal.Inc()
				metrics.PipelineRequestsTotal.WithLabelValues("cache_hit").Inc()
				if p.log != nil {
					p.log.Info("pipeline: cache hit", "query", query)
				}
				return cached
			}
			metrics.CacheMissesTotal.Inc()
			st = stateRoute

		case stateRoute:
			decision, err := p.cfg.Router.Route(ctx, query)
			metrics.StageDuration.WithLabelValues(st.String()).Observe(time.Since(stageStart).Seconds())
			if err != nil {
				// Classifier transport failure is terminal; no retry
				// budget is spent on routing.
				resp.Error = fmt.Sprintf("routing failed: %v", err)
				st = stateFailed
				continue
			}
			resp.Decision = decision
			if !decision.RequiresSQL {
				resp.Success = false
				resp.Error = "query does not require database access per router decision"
				metrics.PipelineRequestsTotal.WithLabelValues("no_sql").Inc()
				if p.log != nil {
					p.log.Info("pipeline: no database access required", "query", query, "reasoning", decision.Reasoning)
				}
				st = stateDone
				continue
			}
			st = stateGenerate

		case stateGenerate:
			attempts++
			generated, err := p.cfg.Generator.Generate(ctx, query, resp.Decision.Tables, prior)
			metrics.StageDuration.WithLabelValues(st.String()).Observe(time.Since(stageStart).Seconds())
			if err != nil {
				if p.log != nil {
					p.log.Warn("pipeline: SQL generation failed", "attempt", attempts, "error", err)
				}
				// Generation failures retry fresh; the error is only fed
				// back when it came from a prior execution.
				prior = nil
				if attempts >= p.cfg.MaxSQLAttempts {
					resp.Error = fmt.Sprintf("SQL generation failed: %v", err)
					st = stateFailed
					continue
				}
				continue
			}
			sql = generated
			resp.GeneratedSQL = sql
			st = stateExecute

		case stateExecute:
			exec, err := p.cfg.Executor.Execute(ctx, sql, query)
			metrics.StageDuration.WithLabelValues(st.String()).Observe(time.Since(stageStart).Seconds())
			if err != nil {
				if IsDatabaseError(err) && attempts < p.cfg.MaxSQLAttempts {
					if p.log != nil {
						p.log.Warn("pipeline: execution rejected by database, regenerating", "attempt", attempts, "error", err)
					}
					prior = &Attempt{SQL: sql, Err: err.Error()}
					st = stateGenerate
					continue
				}
				resp.Error = fmt.Sprintf("SQL execution failed: %v", err)
				st = stateFailed
				continue
			}
			resp.Execution = exec
			resp.ResultURL = exec.CSVURL
			resp.Success = true
			if p.log != nil {
				p.log.Info("pipeline: execution succeeded",
					"query", query, "rows", exec.RowCount, "attempts", attempts)
			}
			st = stateDeliver

		case stateDeliver:
			if p.cfg.Deliverer != nil && resp.Decision.RequiresDelivery && req.Recipient != "" {
				p.cfg.Deliverer.DeliverResults(req.Recipient, query, resp.Execution)
			}
			st = stateCacheWrite

		case stateCacheWrite:
			if req.UseCache && p.cfg.Cache != nil {
				p.cfg.Cache.Set(ctx, query, resp)
			}
			st = stateDone

		case stateDone:
			if resp.Success {
				metrics.SQLAttempts.Observe(float64(attempts))
				metrics.PipelineRequestsTotal.WithLabelValues("success").Inc()
			}
			return resp

		case stateFailed:
			resp.Success = false
			metrics.SQLAttempts.Observe(float64(attempts))
			metrics.PipelineRequestsTotal.WithLabelValues("failed").Inc()
			if p.log != nil {
				p.log.Error("pipeline: failed", "query", query, "error", resp.Error)
			}
			if p.cfg.Deliverer != nil && req.Recipient != "" {
				p.cfg.Deliverer.DeliverFailure(req.Recipient, query, resp.Error)
			}
			return resp
		}
	}
}
