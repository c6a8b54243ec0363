package main

import (
	"time"

	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/pool"
	"harvester/pkg/probe"
	"harvester/pkg/report"
	"harvester/pkg/scheduler"
	"harvester/pkg/source"
	"harvester/pkg/stats"
	"harvester/pkg/storage"
)

// app wires the full harvester: pools, gateway, registry, scheduler
// and the cumulative stats store.
type app struct {
	cfg        *config.Config
	log        logger.Logger
	creds      *pool.CredentialPool
	proxies    *pool.ProxyPool
	gateway    *storage.Gateway
	collector  *stats.Collector
	statsStore *stats.Store
	sched      *scheduler.Scheduler
}

func newApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := logger.Initialize(logger.Options{Level: cfg.Logging.Level, File: cfg.Logging.File}); err != nil {
		return nil, err
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("harvester starting")

	credentials, err := pool.LoadCredentials(cfg.Pools.CredentialsFile, log)
	if err != nil {
		return nil, err
	}
	proxyList, err := pool.LoadProxies(cfg.Pools.ProxiesFile, log)
	if err != nil {
		return nil, err
	}
	log.InfoWithFields("pools loaded", map[string]interface{}{
		"credentials": len(credentials),
		"proxies":     len(proxyList),
	})

	var prober pool.Prober
	if hp := probe.New(cfg.Probe); hp != nil {
		prober = hp
	}
	creds := pool.NewCredentialPool(credentials, cfg.Pools, log)
	proxies := pool.NewProxyPool(proxyList, prober, cfg.Pools, log)

	retrievers := make(map[string]source.Retriever, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		retrievers[sc.Name] = source.NewHTTPRetriever(sc.Name, sc.Endpoint, 30*time.Second)
	}
	registry, err := source.NewRegistry(cfg.Sources, retrievers)
	if err != nil {
		return nil, err
	}

	gateway, err := storage.Open(cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	statsStore, err := stats.OpenStore(cfg.Storage.StatsPath)
	if err != nil {
		gateway.Close()
		return nil, err
	}

	collector := stats.NewCollector()
	sched := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Registry:    registry,
		Selector:    pool.NewPairSelector(creds, proxies, log),
		Credentials: creds,
		Proxies:     proxies,
		Gateway:     gateway,
		Stats:       collector,
		Reporter:    report.NewFileReporter(cfg.Storage.ReportDir, log),
		Logger:      log,
	})

	return &app{
		cfg:        cfg,
		log:        log,
		creds:      creds,
		proxies:    proxies,
		gateway:    gateway,
		collector:  collector,
		statsStore: statsStore,
		sched:      sched,
	}, nil
}

// close merges the run's counters into the cumulative store and
// releases everything. Called once on the way out.
func (a *app) close() {
	snap := a.collector.Snapshot()
	if err := a.statsStore.Merge(snap); err != nil {
		a.log.WithError(err).Error("failed to persist run statistics")
	}
	a.statsStore.Close()
	a.gateway.Close()
}

// printSummary logs the run's final numbers and pool condition.
func (a *app) printSummary() {
	snap := a.collector.Snapshot()
	credCounts := a.creds.Counts()
	proxyCounts := a.proxies.Counts()

	a.log.InfoWithFields("run finished", map[string]interface{}{
		"elapsed":            snap.Elapsed.Round(time.Second).String(),
		"fetched":            snap.Fetched,
		"persisted":          snap.Persisted,
		"duplicates":         snap.Duplicates,
		"hourly_windows_met": snap.WindowsMet["hourly"],
		"credentials_banned": credCounts.Banned,
		"proxies_banned":     proxyCounts.Banned,
	})
	for src, n := range snap.PerSourcePersisted {
		a.log.InfoWithFields("source totals", map[string]interface{}{
			"source":    src,
			"persisted": n,
			"fetched":   snap.PerSourceFetched[src],
		})
	}
}
