package scheduler

import (
	"time"

	"harvester/pkg/models"
	"harvester/pkg/source"
)

// windowSet tracks one quota window per source for a single period.
type windowSet struct {
	period  string
	windows map[string]*models.QuotaWindow
}

func newWindowSet(period string, sources []*source.Source, start time.Time, hourly bool) *windowSet {
	ws := &windowSet{period: period, windows: make(map[string]*models.QuotaWindow, len(sources))}
	for _, s := range sources {
		target := s.DailyTarget
		if hourly {
			target = s.HourlyTarget()
		}
		ws.windows[s.Name] = &models.QuotaWindow{
			Source: s.Name,
			Period: period,
			Target: target,
			Start:  start,
		}
	}
	return ws
}

func (ws *windowSet) get(name string) *models.QuotaWindow {
	return ws.windows[name]
}

// credit adds newly persisted items to a source's window.
func (ws *windowSet) credit(name string, n int) {
	if w := ws.windows[name]; w != nil {
		w.Achieved += n
	}
}

// reset zeroes progress and restamps every window.
func (ws *windowSet) reset(start time.Time) {
	for _, w := range ws.windows {
		w.Achieved = 0
		w.Start = start
	}
}
