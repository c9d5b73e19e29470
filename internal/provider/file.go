package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hale-app/hale/internal/health"
)

// FileProvider serves health records from an exported JSON snapshot. It is
// the development and test stand-in for the platform health-data store and
// honors the same forward-only anchor semantics: the anchor is a monotonic
// offset into the deterministic record ordering of one query shape.
type FileProvider struct {
	mu              sync.RWMutex
	records         []exportRecord
	characteristics map[string]string

	subsMu sync.Mutex
	subs   map[string][]chan ChangeEvent
}

type exportRecord struct {
	ID       string            `json:"id"`
	TypeID   string            `json:"type_id"`
	Type     health.RecordType `json:"type"`
	Start    string            `json:"start"`
	End      string            `json:"end,omitempty"`
	Value    float64           `json:"value,omitempty"`
	Unit     string            `json:"unit,omitempty"`
	Category string            `json:"category,omitempty"`
	Activity string            `json:"activity_type,omitempty"`
	Deleted  bool              `json:"deleted,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`

	start time.Time
	end   time.Time
}

type exportFile struct {
	Characteristics map[string]string `json:"characteristics,omitempty"`
	Records         []exportRecord    `json:"records"`
}

type fileAnchor struct {
	Offset int `json:"offset"`
}

// NewFileProvider loads an export file
func NewFileProvider(path string) (*FileProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading health export: %w", err)
	}

	var export exportFile
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("parsing health export: %w", err)
	}

	p := &FileProvider{
		characteristics: export.Characteristics,
		subs:            make(map[string][]chan ChangeEvent),
	}
	for _, rec := range export.Records {
		rec.start, err = time.Parse(health.TimeFormat, rec.Start)
		if err != nil {
			return nil, fmt.Errorf("record %s: parsing start: %w", rec.ID, err)
		}
		if rec.End != "" {
			rec.end, err = time.Parse(health.TimeFormat, rec.End)
			if err != nil {
				return nil, fmt.Errorf("record %s: parsing end: %w", rec.ID, err)
			}
		}
		p.records = append(p.records, rec)
	}

	// Deterministic delivery order keeps the offset anchor stable
	sort.Slice(p.records, func(i, j int) bool {
		if !p.records[i].start.Equal(p.records[j].start) {
			return p.records[i].start.Before(p.records[j].start)
		}
		return p.records[i].ID < p.records[j].ID
	})

	return p, nil
}

// QueryBatch fetches up to q.Limit matching records past the anchor offset
func (p *FileProvider) QueryBatch(ctx context.Context, q Query) (QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return QueryResult{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	offset := 0
	if len(q.Anchor) > 0 {
		var a fileAnchor
		if err := json.Unmarshal(q.Anchor, &a); err != nil {
			return QueryResult{}, fmt.Errorf("parsing anchor: %w", err)
		}
		offset = a.Offset
	}

	wanted := make(map[string]bool, len(q.TypeIDs))
	for _, id := range q.TypeIDs {
		wanted[id] = true
	}

	var matched []exportRecord
	for _, rec := range p.records {
		if !wanted[rec.TypeID] || !matchesWindow(rec, q) {
			continue
		}
		matched = append(matched, rec)
	}

	var result QueryResult
	for _, rec := range matched {
		if rec.Deleted {
			result.RemovedIDs = append(result.RemovedIDs, rec.ID)
		}
	}

	live := matched[:0:0]
	for _, rec := range matched {
		if !rec.Deleted {
			live = append(live, rec)
		}
	}

	if offset > len(live) {
		offset = len(live)
	}
	limit := q.Limit
	if limit <= 0 || offset+limit > len(live) {
		limit = len(live) - offset
	}

	for _, rec := range live[offset : offset+limit] {
		result.Added = append(result.Added, health.Record{
			ID:           rec.ID,
			TypeID:       rec.TypeID,
			Type:         rec.Type,
			Start:        rec.start,
			End:          rec.end,
			Value:        rec.Value,
			Unit:         rec.Unit,
			Category:     rec.Category,
			ActivityType: rec.Activity,
			Payload:      rec.Payload,
		})
	}

	anchor, err := json.Marshal(fileAnchor{Offset: offset + limit})
	if err != nil {
		return QueryResult{}, fmt.Errorf("encoding anchor: %w", err)
	}
	result.NewAnchor = anchor

	return result, nil
}

func matchesWindow(rec exportRecord, q Query) bool {
	if !q.End.IsZero() && !rec.start.Before(q.End) {
		return false
	}
	if q.Start == nil {
		return true
	}
	if q.FullWindow {
		// Overlap predicate: the record's span touches the window
		recEnd := rec.end
		if recEnd.IsZero() {
			recEnd = rec.start
		}
		return !recEnd.Before(*q.Start)
	}
	return !rec.start.Before(*q.Start)
}

// Characteristics returns the export's one-time profile values
func (p *FileProvider) Characteristics(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]string, len(p.characteristics))
	for k, v := range p.characteristics {
		out[k] = v
	}
	return out, nil
}

// Subscribe registers a change-event channel for one type identifier
func (p *FileProvider) Subscribe(typeID string) (*Subscription, error) {
	ch := make(chan ChangeEvent, 8)

	p.subsMu.Lock()
	p.subs[typeID] = append(p.subs[typeID], ch)
	p.subsMu.Unlock()

	return &Subscription{
		TypeID: typeID,
		Events: ch,
		cancel: func() {
			p.subsMu.Lock()
			defer p.subsMu.Unlock()
			chans := p.subs[typeID]
			for i, c := range chans {
				if c == ch {
					p.subs[typeID] = append(chans[:i], chans[i+1:]...)
					close(ch)
					break
				}
			}
		},
	}, nil
}

// NotifyChange pushes a change event to every subscriber of typeID and
// returns once all of them have signalled completion.
func (p *FileProvider) NotifyChange(typeID string) {
	p.subsMu.Lock()
	chans := make([]chan ChangeEvent, len(p.subs[typeID]))
	copy(chans, p.subs[typeID])
	p.subsMu.Unlock()

	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		ch <- ChangeEvent{TypeID: typeID, Done: wg.Done}
	}
	wg.Wait()
}

// IsAvailable reports whether the provider can serve queries
func (p *FileProvider) IsAvailable() bool {
	return true
}
