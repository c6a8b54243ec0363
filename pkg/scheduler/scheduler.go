// Package scheduler drives the harvest loop: one cycle per quota
// window, sources visited in priority order, work bounded by a
// counting semaphore, progress credited only for newly persisted
// items. Cancellation is honored at cycle boundaries and before every
// pacing sleep; in-flight fetches drain before Run returns.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"harvester/pkg/config"
	"harvester/pkg/dedup"
	"harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/pool"
	"harvester/pkg/report"
	"harvester/pkg/source"
	"harvester/pkg/stats"
	"harvester/pkg/storage"
)

// Scheduler owns the quota windows and the cycle loop.
type Scheduler struct {
	cfg      config.SchedulerConfig
	registry *source.Registry
	selector *pool.PairSelector
	creds    *pool.CredentialPool
	proxies  *pool.ProxyPool
	gateway  *storage.Gateway
	stats    *stats.Collector
	reporter report.Reporter
	log      logger.Logger

	hourly *windowSet
	daily  *windowSet

	hourStart time.Time
	dayStart  time.Time

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Deps carries the scheduler's collaborators.
type Deps struct {
	Registry    *source.Registry
	Selector    *pool.PairSelector
	Credentials *pool.CredentialPool
	Proxies     *pool.ProxyPool
	Gateway     *storage.Gateway
	Stats       *stats.Collector
	Reporter    report.Reporter
	Logger      logger.Logger
}

func New(cfg config.SchedulerConfig, deps Deps) *Scheduler {
	log := deps.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Scheduler{
		cfg:      cfg,
		registry: deps.Registry,
		selector: deps.Selector,
		creds:    deps.Credentials,
		proxies:  deps.Proxies,
		gateway:  deps.Gateway,
		stats:    deps.Stats,
		reporter: deps.Reporter,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	start := s.now()
	s.hourly = newWindowSet("hour", deps.Registry.Sources(), start, true)
	s.daily = newWindowSet("day", deps.Registry.Sources(), start, false)
	s.hourStart = start
	s.dayStart = start
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes cycles until the context is cancelled. The cycle in
// progress drains before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.InfoWithFields("scheduler started", map[string]interface{}{
		"window":      s.cfg.WindowLength.String(),
		"concurrency": s.cfg.Concurrency,
		"sources":     len(s.registry.Sources()),
	})

	for {
		if ctx.Err() != nil {
			s.log.Info("scheduler stopping")
			return ctx.Err()
		}

		cycleStart := s.now()
		s.rollover(cycleStart)
		s.RunCycle(ctx)

		elapsed := s.now().Sub(cycleStart)
		if err := s.sleep(ctx, s.cfg.WindowLength-elapsed); err != nil {
			s.log.Info("scheduler stopping")
			return err
		}
	}
}

// SetCycleTargets overrides every source's per-cycle target. One-shot
// commands use this instead of the derived hourly split.
func (s *Scheduler) SetCycleTargets(n int) {
	for _, src := range s.registry.Sources() {
		if w := s.hourly.get(src.Name); w != nil {
			w.Target = n
		}
	}
}

// RunCycle performs one harvest pass over all sources. Exported so
// one-shot commands can reuse the cycle without the pacing loop.
func (s *Scheduler) RunCycle(ctx context.Context) {
	expired := s.creds.ResetExpired() + s.proxies.ResetExpired()
	if expired > 0 {
		s.log.DebugWithFields("expired bans lifted", map[string]interface{}{
			"count": expired,
		})
	}

	for _, src := range s.registry.Sources() {
		if ctx.Err() != nil {
			return
		}
		window := s.hourly.get(src.Name)
		remaining := window.Remaining()
		if remaining <= 0 {
			continue
		}

		persisted, err := s.harvestSource(ctx, src, remaining)
		if err != nil {
			// One source failing never aborts the cycle.
			s.stats.RecordError(string(errors.TypeOf(err)))
			s.log.ErrorWithFields("source harvest failed", map[string]interface{}{
				"source": src.Name,
				"error":  err.Error(),
			})
			continue
		}
		s.hourly.credit(src.Name, persisted)
		s.daily.credit(src.Name, persisted)
	}
}

// harvestSource fans the source's labels out to bounded workers,
// deduplicates the union, and persists it. Returns the number of
// newly archived items.
func (s *Scheduler) harvestSource(ctx context.Context, src *source.Source, remaining int) (int, error) {
	queries := src.Labels
	if len(queries) == 0 {
		queries = []string{src.Name}
	}
	perQuery := remaining/len(queries) + 1

	concurrency := int64(s.cfg.Concurrency)
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)
	set := dedup.NewSet()

	var wg sync.WaitGroup
	for _, q := range queries {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(query string) {
			defer wg.Done()
			defer sem.Release(1)
			s.fetchQuery(ctx, src, query, perQuery, set)
		}(q)
	}
	wg.Wait()

	records := set.Values()
	if len(records) == 0 {
		return 0, nil
	}

	// A cancellation mid-cycle must not lose what was already fetched.
	res, err := s.gateway.Write(context.WithoutCancel(ctx), records)
	if err != nil {
		return 0, err
	}
	s.stats.RecordErrors(string(errors.ErrorTypeStorage), res.Failed)
	s.stats.RecordPersisted(src.Name, res.Inserted)
	s.stats.RecordDuplicates(len(records) - res.Inserted - res.Failed)
	return res.Inserted, nil
}

// fetchQuery runs one query through one credential/proxy pairing and
// feeds the results into the shared dedup set.
func (s *Scheduler) fetchQuery(ctx context.Context, src *source.Source, query string, limit int, set *dedup.Set) {
	pairing, err := s.selector.Select(ctx)
	if err != nil {
		s.stats.RecordError(string(errors.TypeOf(err)))
		s.log.WarnWithFields("no pair available", map[string]interface{}{
			"source": src.Name,
			"query":  query,
		})
		return
	}

	items, err := src.Retriever.Fetch(ctx, source.Request{
		Query:      query,
		Limit:      limit,
		Credential: pairing.Credential,
		Proxy:      pairing.Proxy,
	})

	outcome := outcomeFor(err, len(items))
	pairing.Release(outcome)
	s.stats.RecordOutcome(outcome)

	if err != nil {
		s.stats.RecordError(string(errors.TypeOf(err)))
		s.log.WarnWithFields("fetch failed", map[string]interface{}{
			"source":  src.Name,
			"query":   query,
			"outcome": outcome.String(),
			"error":   err.Error(),
		})
		return
	}

	s.stats.RecordFetched(src.Name, len(items))
	for _, item := range items {
		rec, err := source.ToRecord(src, item, query)
		if err != nil {
			continue
		}
		set.Add(rec)
	}
}

// outcomeFor maps a fetch result onto the pool outcome taxonomy.
func outcomeFor(err error, itemCount int) models.Outcome {
	if err == nil {
		if itemCount == 0 {
			return models.OutcomeEmpty
		}
		return models.OutcomeSuccess
	}
	switch errors.TypeOf(err) {
	case errors.ErrorTypeRateLimit:
		return models.OutcomeRateLimited
	case errors.ErrorTypeAuth:
		return models.OutcomeAuthFailed
	case errors.ErrorTypeEmpty:
		return models.OutcomeEmpty
	default:
		return models.OutcomeTransient
	}
}

// rollover restamps quota windows when an hour or a day boundary has
// passed, logging quota verdicts and emitting the daily report.
func (s *Scheduler) rollover(now time.Time) {
	if now.Sub(s.hourStart) >= s.cfg.WindowLength {
		for _, src := range s.registry.Sources() {
			w := s.hourly.get(src.Name)
			met := w.Met(s.cfg.QuotaMetThreshold)
			s.stats.RecordWindowMet("hourly", met)
			s.log.InfoWithFields("hourly quota window closed", map[string]interface{}{
				"source":   src.Name,
				"target":   w.Target,
				"achieved": w.Achieved,
				"met":      met,
			})
		}
		s.hourly.reset(now)
		s.hourStart = now
	}

	if now.YearDay() != s.dayStart.YearDay() || now.Year() != s.dayStart.Year() {
		for _, src := range s.registry.Sources() {
			w := s.daily.get(src.Name)
			s.stats.RecordWindowMet("daily", w.Met(s.cfg.QuotaMetThreshold))
		}
		s.emitDailyReport()
		s.daily.reset(now)
		s.dayStart = now
	}
}

func (s *Scheduler) emitDailyReport() {
	if s.reporter == nil {
		return
	}

	daily := report.Daily{
		Date:        s.dayStart.Format("2006-01-02"),
		GeneratedAt: s.now(),
		Run:         s.stats.Snapshot(),
	}
	for _, src := range s.registry.Sources() {
		w := s.daily.get(src.Name)
		fraction := 1.0
		if w.Target > 0 {
			fraction = float64(w.Achieved) / float64(w.Target)
		}
		daily.Sources = append(daily.Sources, report.SourceSummary{
			Source:   src.Name,
			Target:   w.Target,
			Achieved: w.Achieved,
			Met:      w.Met(s.cfg.QuotaMetThreshold),
			Fraction: fraction,
		})
	}

	if err := s.reporter.Report(daily); err != nil {
		s.log.ErrorWithFields("daily report failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
