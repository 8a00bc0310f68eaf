package audit

import "time"

// TimelineFilters narrows the audit log listing.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	ActorID    *int64
	EntityType string
	EntityID   string
	Action     string
	Page       int
	PageSize   int
}

// TimelineRow is one audit_logs entry.
type TimelineRow struct {
	ID         int64          `json:"id"`
	At         time.Time      `json:"timestamp"`
	ActorID    int64          `json:"actorId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details,omitempty"`
}

// PagingInfo is forward-only paging metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result wraps one page of the timeline.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}
