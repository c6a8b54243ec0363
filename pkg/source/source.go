// Package source defines the retrieval collaborator contract and the
// weighted registry of content sources the scheduler iterates. The
// harvester core never talks to a remote platform directly; it hands
// a Request to a Retriever and normalizes what comes back.
package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"sort"
	"time"

	"harvester/pkg/config"
	"harvester/pkg/errors"
	"harvester/pkg/models"
)

// Request is one retrieval attempt: a query executed with a specific
// credential through a specific proxy.
type Request struct {
	Query      string
	Limit      int
	Credential *models.Credential
	Proxy      *models.ProxyEndpoint
}

// Item is the normalized unit a retriever returns. The full item is
// archived verbatim; the scalar fields feed the query table.
type Item struct {
	URI        string           `json:"uri"`
	Author     string           `json:"author"`
	Text       string           `json:"text"`
	CreatedAt  time.Time        `json:"created_at"`
	Tag        string           `json:"tag,omitempty"`
	Engagement map[string]int64 `json:"engagement,omitempty"`
}

// Retriever fetches items for a query. Implementations classify their
// failures with the error taxonomy so pools can react; a nil error
// with zero items is a legitimate empty result.
type Retriever interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]Item, error)
}

// Source is one registered content source with its quota weight and
// label fanout.
type Source struct {
	Name        string
	Code        int
	Weight      float64
	DailyTarget int
	Labels      []string
	Retriever   Retriever
}

// HourlyTarget splits the daily target evenly across 24 windows. A
// daily target below 24 yields 0, leaving the source effectively idle.
func (s *Source) HourlyTarget() int {
	if s.DailyTarget <= 0 {
		return 0
	}
	return s.DailyTarget / 24
}

// Registry holds sources in fixed descending weight order, the order
// the scheduler visits them each cycle.
type Registry struct {
	sources []*Source
}

// NewRegistry binds configured sources to their retriever
// implementations. Every configured source must have a registered
// retriever of the same name.
func NewRegistry(cfgs []config.SourceConfig, retrievers map[string]Retriever) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no sources configured")
	}

	sources := make([]*Source, 0, len(cfgs))
	for _, sc := range cfgs {
		r, ok := retrievers[sc.Name]
		if !ok {
			return nil, errors.New(errors.ErrorTypeConfig, "no retriever registered for source "+sc.Name)
		}
		sources = append(sources, &Source{
			Name:        sc.Name,
			Code:        sc.Code,
			Weight:      sc.Weight,
			DailyTarget: sc.DailyTarget,
			Labels:      sc.Labels,
			Retriever:   r,
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Weight > sources[j].Weight
	})
	return &Registry{sources: sources}, nil
}

// Sources returns the registry in priority order.
func (r *Registry) Sources() []*Source {
	return r.sources
}

// ToRecord normalizes an item into the common record shape. The whole
// item is gzip-compressed JSON in the content field; the label derives
// from the item tag, falling back to the query label that found it.
func ToRecord(src *Source, item Item, queryLabel string) (*models.HarvestRecord, error) {
	if item.URI == "" {
		return nil, errors.New(errors.ErrorTypeUnknown, "item has no uri")
	}

	content, err := compressJSON(item)
	if err != nil {
		return nil, err
	}

	tag := item.Tag
	if tag == "" {
		tag = queryLabel
	}
	ts := item.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return &models.HarvestRecord{
		SourceID:   src.Code,
		URI:        item.URI,
		Timestamp:  ts,
		Content:    content,
		Label:      models.NormalizeLabel(tag),
		Author:     item.Author,
		Engagement: item.Engagement,
	}, nil
}

func compressJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeUnknown, "marshal item", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeUnknown, "compress item", err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeUnknown, "compress item", err)
	}
	return buf.Bytes(), nil
}

// DecodeContent reverses ToRecord's content encoding.
func DecodeContent(content []byte) (Item, error) {
	var item Item
	zr, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return item, errors.Wrap(errors.ErrorTypeUnknown, "decompress item", err)
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(&item); err != nil {
		return item, errors.Wrap(errors.ErrorTypeUnknown, "decode item", err)
	}
	return item, nil
}
