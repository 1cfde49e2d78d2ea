package parse

import (
	"fmt"
	"sort"
	"strings"

	"truckcheck-backend/internal/model"
)

// NormalizeChecklist trims names, drops duplicate ids (first wins), orders
// items by Order and gives unordered items a position after the ordered ones.
// Items without an id take one derived from their name.
func NormalizeChecklist(items []model.ChecklistItem) ([]model.ChecklistItem, error) {
	seen := make(map[string]bool, len(items))
	out := make([]model.ChecklistItem, 0, len(items))
	maxOrder := 0
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		it.Description = strings.TrimSpace(it.Description)
		it.ID = strings.TrimSpace(it.ID)
		if it.Name == "" {
			return nil, fmt.Errorf("checklist item %d has no name", len(out)+1)
		}
		if it.ID == "" {
			it.ID = slug(it.Name)
		}
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		if it.Order > maxOrder {
			maxOrder = it.Order
		}
		out = append(out, it)
	}

	for i := range out {
		if out[i].Order <= 0 {
			maxOrder++
			out[i].Order = maxOrder
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
