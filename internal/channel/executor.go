package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"

	"golang.org/x/time/rate"
)

// Outcome is the result of one Executor.Send. Status uses the storage
// audit status values.
type Outcome struct {
	Channel  string        `json:"channel"`
	Status   string        `json:"status"`
	Attempts int           `json:"attempts"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Took     time.Duration `json:"took"`
}

func (o Outcome) OK() bool {
	return o.Status == storage.AuditDelivered || o.Status == storage.AuditDryRun
}

// Observer receives every outcome; used for metrics.
type Observer func(o Outcome)

type ExecutorConfig struct {
	DryRun bool
	// RatePerSec caps sends per channel. 0 means 5; negative disables.
	RatePerSec float64
	Burst      int
	Observer   Observer
}

// Executor sends through the registry with breaker, rate limit and timeout.
type Executor struct {
	reg     *Registry
	breaker *Breaker
	log     logx.Logger
	cfg     ExecutorConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewExecutor(reg *Registry, br *Breaker, cfg ExecutorConfig, log logx.Logger) *Executor {
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RatePerSec)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{reg: reg, breaker: br, cfg: cfg, log: log.With(logx.Component("channel")), limiters: map[string]*rate.Limiter{}}
}

func (x *Executor) Registry() *Registry { return x.reg }
func (x *Executor) Breaker() *Breaker   { return x.breaker }
func (x *Executor) DryRun() bool        { return x.cfg.DryRun }

func (x *Executor) limiter(name string) *rate.Limiter {
	if x.cfg.RatePerSec < 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	l := x.limiters[name]
	if l == nil {
		l = rate.NewLimiter(rate.Limit(x.cfg.RatePerSec), x.cfg.Burst)
		x.limiters[name] = l
	}
	return l
}

// Send delivers msg on one channel. The order is: dry run, config check,
// breaker, rate limit, send. Only transport failures move the breaker.
func (x *Executor) Send(ctx context.Context, name string, msg Message) Outcome {
	return x.do(ctx, name, msg, false)
}

// Probe is Send without the open-breaker short circuit, for health checks.
// Its result still moves the breaker.
func (x *Executor) Probe(ctx context.Context, name string, msg Message) Outcome {
	return x.do(ctx, name, msg, true)
}

func (x *Executor) do(ctx context.Context, name string, msg Message, probe bool) Outcome {
	start := time.Now()
	out := x.send(ctx, name, msg, probe)
	out.Channel = name
	out.Took = time.Since(start)
	if out.Err != nil {
		out.Error = logx.Truncate(out.Err.Error(), 300)
	}
	if x.cfg.Observer != nil {
		x.cfg.Observer(out)
	}
	return out
}

func (x *Executor) send(ctx context.Context, name string, msg Message, probe bool) Outcome {
	ch, ok := x.reg.Get(name)
	if !ok {
		return Outcome{Status: storage.AuditConfigError, Err: &ConfigError{Channel: name, Msg: "channel not registered"}}
	}
	if x.cfg.DryRun {
		x.log.Debug("dry run send", logx.String("channel", name), logx.String("type", msg.Type))
		return Outcome{Status: storage.AuditDryRun}
	}
	if err := ch.Validate(); err != nil {
		x.log.Warn("channel not configured", logx.String("channel", name), logx.Err(err))
		return Outcome{Status: storage.AuditConfigError, Err: err}
	}

	if x.breaker != nil && !probe {
		allow, st, err := x.breaker.Allow(ctx, name)
		if err != nil {
			x.log.Warn("breaker state unavailable", logx.String("channel", name), logx.Err(err))
		}
		if !allow && err == nil {
			return Outcome{Status: storage.AuditCircuitOpen, Err: &CircuitOpenError{Channel: name, Failures: st.ConsecutiveFailures}}
		}
	}

	if l := x.limiter(name); l != nil {
		if err := l.Wait(ctx); err != nil {
			return Outcome{Status: storage.AuditFailed, Err: &TransportError{Channel: name, Err: err}}
		}
	}

	tctx, cancel := context.WithTimeout(ctx, timeoutOf(ch))
	err := ch.Send(tctx, msg)
	cancel()

	if err == nil {
		if x.breaker != nil {
			if berr := x.breaker.Success(ctx, name); berr != nil {
				x.log.Warn("breaker reset failed", logx.String("channel", name), logx.Err(berr))
			}
		}
		return Outcome{Status: storage.AuditDelivered, Attempts: 1}
	}

	if IsConfigError(err) {
		return Outcome{Status: storage.AuditConfigError, Err: err, Attempts: 1}
	}

	var te *TransportError
	if !errors.As(err, &te) {
		te = &TransportError{Channel: name, Err: err}
		err = te
	}
	attempts := te.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	if x.breaker != nil {
		n, berr := x.breaker.Failure(ctx, name)
		if berr != nil {
			x.log.Warn("breaker update failed", logx.String("channel", name), logx.Err(berr))
		} else if n == x.breaker.Threshold() {
			x.log.Warn("circuit opened", logx.String("channel", name), logx.Int("failures", n))
		}
	}
	x.log.Warn("send failed", logx.String("channel", name), logx.Int("attempts", attempts), logx.Err(err))
	return Outcome{Status: storage.AuditFailed, Err: err, Attempts: attempts}
}
