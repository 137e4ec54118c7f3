package domain

// DashboardAnalytics is a read-only aggregation over persisted requests.
type DashboardAnalytics struct {
	Summary           AnalyticsSummary `json:"summary"`
	ByCategory        []NameValue      `json:"by_category"`
	ByStatus          []NameValue      `json:"by_status"`
	TimeSeries        []DailyPoint     `json:"time_series"`
	DetailsByCategory []CategoryDetail `json:"details_by_category"`
}

type AnalyticsSummary struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Edited   int64 `json:"edited"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type DailyPoint struct {
	Date     string `json:"date"`
	Requests int64  `json:"requests"`
}

type CategoryDetail struct {
	Category       string  `json:"category"`
	Total          int64   `json:"total"`
	Pending        int64   `json:"pending"`
	Processed      int64   `json:"processed"`
	ProcessingRate float64 `json:"processing_rate"`
}

// RequestStats holds per-status and per-category counts.
type RequestStats struct {
	ByStatus   map[RequestStatus]int64   `json:"by_status"`
	ByCategory map[RequestCategory]int64 `json:"by_category"`
}
