// Package catalog keeps stations, appliances and checklists in step with an
// upstream facilities registry.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"truckcheck-backend/config"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/parse"
	"truckcheck-backend/internal/store"
)

// Service polls the registry and upserts what it finds.
type Service struct {
	cfg     config.CatalogConfig
	store   store.Store
	client  *http.Client
	changed func(stationID string)
}

// NewService creates and initializes a new catalog sync service.
func NewService(cfg config.CatalogConfig, s store.Store) *Service {
	return &Service{
		cfg:   cfg,
		store: s,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// OnStationChanged registers fn to be called for every station whose
// appliances or checklists a sync has written.
func (s *Service) OnStationChanged(fn func(stationID string)) {
	s.changed = fn
}

// Run syncs once and then on every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled || s.cfg.URL == "" {
		log.Println("Catalog sync is disabled. Not starting.")
		return
	}
	log.Println("Starting catalog sync service...")

	if _, err := s.SyncOnce(ctx); err != nil {
		log.Printf("Catalog sync failed: %v", err)
	}

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Catalog sync service shutting down.")
			return
		case <-timer.C:
			if _, err := s.SyncOnce(ctx); err != nil {
				log.Printf("Catalog sync failed: %v", err)
			}
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SyncOnce fetches every page and upserts the result. It returns the number
// of appliances written. Nothing is written if the first page fails.
func (s *Service) SyncOnce(ctx context.Context) (int, error) {
	log.Println("Executing catalog sync cycle...")

	var allItems []ApiItem
	total := 1
	pageSize := s.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	var fetchErr error
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := s.fetchPage(ctx, page, pageSize)
		if err != nil {
			log.Printf("Error fetching page %d: %v", page, err)
			fetchErr = err
			break
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		allItems = append(allItems, resp.Data.Items...)
		log.Printf("Fetched page %d, total items so far: %d/%d", page, len(allItems), total)
	}

	if fetchErr != nil && len(allItems) == 0 {
		return 0, fmt.Errorf("catalog sync aborted: %w", fetchErr)
	}

	n, err := s.apply(ctx, allItems)
	if err != nil {
		return n, err
	}
	log.Printf("Catalog sync cycle finished: %d appliances.", n)
	return n, fetchErr
}

func (s *Service) apply(ctx context.Context, items []ApiItem) (int, error) {
	stations := make(map[string]model.Station)
	var appliances []model.Appliance
	for _, it := range items {
		if it.StationID == "" || it.ApplianceID == "" {
			log.Printf("Warning: skipping registry item without station or appliance id: %+v", it)
			continue
		}
		if _, ok := stations[it.StationID]; !ok {
			name := it.StationName
			if name == "" {
				name = it.StationID
			}
			stations[it.StationID] = model.Station{ID: it.StationID, Name: name, BrigadeID: it.BrigadeID}
		}
		name := it.Name
		if name == "" {
			name = it.ApplianceID
		}
		appliances = append(appliances, model.Appliance{
			StationID:   it.StationID,
			ID:          it.ApplianceID,
			Name:        name,
			Description: it.Description,
		})
	}

	for _, st := range stations {
		st := st
		if err := s.store.UpsertStation(ctx, &st); err != nil {
			return 0, fmt.Errorf("upsert station %s: %w", st.ID, err)
		}
	}
	if err := s.store.UpsertAppliances(ctx, appliances); err != nil {
		return 0, fmt.Errorf("upsert appliances: %w", err)
	}
	if s.changed != nil {
		defer func() {
			for id := range stations {
				s.changed(id)
			}
		}()
	}

	for _, it := range items {
		if it.StationID == "" || it.ApplianceID == "" || len(it.Checklist) == 0 {
			continue
		}
		checklist, err := parse.NormalizeChecklist(it.Checklist)
		if err != nil {
			log.Printf("Warning: invalid checklist for %s/%s: %v", it.StationID, it.ApplianceID, err)
			continue
		}
		tpl := &model.ChecklistTemplate{
			ID:          uuid.NewString(),
			StationID:   it.StationID,
			ApplianceID: it.ApplianceID,
			Items:       checklist,
		}
		if err := s.store.UpsertTemplate(ctx, tpl); err != nil {
			return len(appliances), fmt.Errorf("upsert checklist %s/%s: %w", it.StationID, it.ApplianceID, err)
		}
	}
	return len(appliances), nil
}

func (s *Service) fetchPage(ctx context.Context, page, pageSize int) (*ApiResponse, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp ApiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	if apiResp.Code != 0 {
		return nil, fmt.Errorf("API returned non-zero application code: %d", apiResp.Code)
	}
	return &apiResp, nil
}
