package processor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"alertrelay/internal/event"
	logx "alertrelay/pkg/logx"
)

// Registry maps domain names to processors.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Processor
}

func NewRegistry(ps ...Processor) *Registry {
	r := &Registry{m: map[string]Processor{}}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Defaults registers the cpu, memory and disk processors around eval.
func Defaults(eval Evaluator) *Registry {
	return NewRegistry(NewCPU(eval), NewMemory(eval), NewDisk(eval))
}

func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	r.m[strings.ToLower(p.Domain())] = p
	r.mu.Unlock()
}

func (r *Registry) Get(domain string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[strings.ToLower(strings.TrimSpace(domain))]
	return p, ok
}

func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for d := range r.m {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Result is one domain's outcome. Skipped means no processor was registered.
type Result struct {
	Domain   string        `json:"domain"`
	Enqueued int           `json:"enqueued"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
	Took     time.Duration `json:"took"`
}

// RunAll runs the processors for domains concurrently and waits for all of
// them. Results come back in the order of domains. A failing or panicking
// processor never affects its siblings.
func RunAll(ctx context.Context, reg *Registry, domains []string, ev *event.Event, ts time.Time, enq Enqueuer, log logx.Logger) []Result {
	if log.IsZero() {
		log = logx.Nop()
	}
	results := make([]Result, len(domains))
	var wg sync.WaitGroup
	for i, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		results[i].Domain = d

		p, ok := reg.Get(d)
		if !ok {
			results[i].Skipped = true
			log.Warn("no processor for domain, skipping", logx.String("domain", d))
			continue
		}

		wg.Add(1)
		go func(i int, p Processor) {
			defer wg.Done()
			start := time.Now()
			defer func() {
				results[i].Took = time.Since(start)
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("processor %s panicked: %v", results[i].Domain, r)
					log.Error("processor panic",
						logx.String("domain", results[i].Domain),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			n, err := p.Process(ctx, ev, ts, enq)
			results[i].Enqueued = n
			if err != nil {
				results[i].Err = err
				log.Warn("processor failed", logx.String("domain", results[i].Domain), logx.Err(err))
			}
		}(i, p)
	}
	wg.Wait()
	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
		}
	}
	return results
}
