package catalog

import "truckcheck-backend/internal/model"

// ApiItem is one appliance in the upstream registry feed.
type ApiItem struct {
	StationID   string                `json:"stationId"`
	StationName string                `json:"stationName"`
	BrigadeID   string                `json:"brigadeId"`
	ApplianceID string                `json:"applianceId"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Checklist   []model.ChecklistItem `json:"checklist"`
}

// ApiResponse models the top-level structure of the registry's response.
type ApiResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int       `json:"page"`
		PageSize int       `json:"pageSize"`
		Total    int       `json:"total"`
		Items    []ApiItem `json:"items"`
	} `json:"data"`
}
