package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"truckcheck-backend/internal/model"
)

type applianceKey struct{ station, id string }

// memoryStore is an in-process Store. It is used by the "memory" database
// driver and by tests. All values are copied on the way in and out.
type memoryStore struct {
	mu            sync.RWMutex
	stations      map[string]model.Station
	appliances    map[applianceKey]model.Appliance
	templates     map[applianceKey]model.ChecklistTemplate
	runs          map[string]model.CheckRun
	results       map[string]model.CheckResult
	subscriptions map[string]model.PushSubscription
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		stations:      make(map[string]model.Station),
		appliances:    make(map[applianceKey]model.Appliance),
		templates:     make(map[applianceKey]model.ChecklistTemplate),
		runs:          make(map[string]model.CheckRun),
		results:       make(map[string]model.CheckResult),
		subscriptions: make(map[string]model.PushSubscription),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func copyRun(r model.CheckRun) model.CheckRun {
	r.Contributors = append([]string(nil), r.Contributors...)
	r.Results = nil
	if r.EndTime != nil {
		t := *r.EndTime
		r.EndTime = &t
	}
	return r
}

func copyTemplate(t model.ChecklistTemplate) model.ChecklistTemplate {
	t.Items = append([]model.ChecklistItem(nil), t.Items...)
	return t
}

func (m *memoryStore) GetStation(_ context.Context, stationID string) (*model.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stations[stationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *memoryStore) UpsertStation(_ context.Context, station *model.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if old, ok := m.stations[station.ID]; ok {
		station.CreatedAt = old.CreatedAt
	} else {
		station.CreatedAt = now
	}
	station.UpdatedAt = now
	m.stations[station.ID] = *station
	return nil
}

func (m *memoryStore) GetAppliance(_ context.Context, stationID, applianceID string) (*model.Appliance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appliances[applianceKey{stationID, applianceID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *memoryStore) ListAppliances(_ context.Context, stationID string) ([]model.Appliance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Appliance
	for k, a := range m.appliances {
		if k.station == stationID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryStore) UpsertAppliances(_ context.Context, appliances []model.Appliance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, a := range appliances {
		key := applianceKey{a.StationID, a.ID}
		if old, ok := m.appliances[key]; ok {
			a.CreatedAt = old.CreatedAt
		} else {
			a.CreatedAt = now
		}
		a.UpdatedAt = now
		m.appliances[key] = a
	}
	return nil
}

func (m *memoryStore) GetTemplate(_ context.Context, stationID, applianceID string) (*model.ChecklistTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[applianceKey{stationID, applianceID}]
	if !ok {
		return nil, ErrNotFound
	}
	t = copyTemplate(t)
	return &t, nil
}

func (m *memoryStore) UpsertTemplate(_ context.Context, tpl *model.ChecklistTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := applianceKey{tpl.StationID, tpl.ApplianceID}
	now := m.now()
	if old, ok := m.templates[key]; ok {
		tpl.ID = old.ID
		tpl.CreatedAt = old.CreatedAt
	} else {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	m.templates[key] = copyTemplate(*tpl)
	return nil
}

func (m *memoryStore) activeRunLocked(stationID, applianceID string) (model.CheckRun, bool) {
	for _, r := range m.runs {
		if r.StationID == stationID && r.ApplianceID == applianceID && r.Status == model.RunStatusInProgress {
			return r, true
		}
	}
	return model.CheckRun{}, false
}

func (m *memoryStore) FindActiveRun(_ context.Context, stationID, applianceID string) (*model.CheckRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.activeRunLocked(stationID, applianceID)
	if !ok {
		return nil, nil
	}
	r = copyRun(r)
	return &r, nil
}

// CreateRun checks for an active run and inserts under the same lock, so it
// behaves like a conditional insert.
func (m *memoryStore) CreateRun(_ context.Context, run *model.CheckRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.Status == model.RunStatusInProgress {
		if _, ok := m.activeRunLocked(run.StationID, run.ApplianceID); ok {
			return ErrActiveRunExists
		}
	}
	if run.Version == 0 {
		run.Version = 1
	}
	now := m.now()
	run.CreatedAt = now
	run.UpdatedAt = now
	m.runs[run.ID] = copyRun(*run)
	return nil
}

func (m *memoryStore) UpdateRun(_ context.Context, run *model.CheckRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok || stored.StationID != run.StationID {
		return ErrNotFound
	}
	if stored.Version != run.Version {
		return ErrStaleRun
	}
	run.Version++
	run.UpdatedAt = m.now()
	m.runs[run.ID] = copyRun(*run)
	return nil
}

func (m *memoryStore) resultsLocked(runID string) []model.CheckResult {
	out := []model.CheckResult{}
	for _, r := range m.results {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *memoryStore) GetRun(_ context.Context, stationID, runID string) (*model.CheckRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok || r.StationID != stationID {
		return nil, ErrNotFound
	}
	r = copyRun(r)
	r.Results = m.resultsLocked(runID)
	return &r, nil
}

func (m *memoryStore) ListRuns(_ context.Context, filter RunFilter) ([]model.CheckRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.CheckRun
	for _, r := range m.runs {
		if !filter.matches(r.StationID, r.ApplianceID, r.StartTime, r.HasIssues) {
			continue
		}
		r = copyRun(r)
		r.Results = m.resultsLocked(r.ID)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *memoryStore) UpsertResult(_ context.Context, result *model.CheckResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, existing := range m.results {
		if existing.RunID == result.RunID && existing.ItemID == result.ItemID {
			result.ID = id
			result.CreatedAt = existing.CreatedAt
			result.UpdatedAt = now
			m.results[id] = *result
			return false, nil
		}
	}
	result.CreatedAt = now
	result.UpdatedAt = now
	m.results[result.ID] = *result
	return true, nil
}

func (m *memoryStore) GetResult(_ context.Context, stationID, resultID string) (*model.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[resultID]
	if !ok || r.StationID != stationID {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memoryStore) UpdateResult(_ context.Context, result *model.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[result.ID]; !ok {
		return ErrNotFound
	}
	result.UpdatedAt = m.now()
	m.results[result.ID] = *result
	return nil
}

func (m *memoryStore) DeleteResult(_ context.Context, stationID, resultID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[resultID]
	if !ok || r.StationID != stationID {
		return ErrNotFound
	}
	delete(m.results, resultID)
	return nil
}

func (m *memoryStore) GetResultsByRun(_ context.Context, runID string) ([]model.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resultsLocked(runID), nil
}

func (m *memoryStore) PutSubscription(_ context.Context, sub *model.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.subscriptions[sub.Endpoint]; ok {
		sub.CreatedAt = old.CreatedAt
	} else {
		sub.CreatedAt = m.now()
	}
	m.subscriptions[sub.Endpoint] = *sub
	return nil
}

func (m *memoryStore) GetSubscription(_ context.Context, stationID, endpoint string) (*model.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[endpoint]
	if !ok || sub.StationID != stationID {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (m *memoryStore) DeleteSubscription(_ context.Context, stationID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[endpoint]; ok && sub.StationID == stationID {
		delete(m.subscriptions, endpoint)
	}
	return nil
}

func (m *memoryStore) SubscriptionsForStation(_ context.Context, stationID string) ([]model.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PushSubscription
	for _, sub := range m.subscriptions {
		if sub.StationID == stationID {
			out = append(out, sub)
		}
	}
	return out, nil
}
