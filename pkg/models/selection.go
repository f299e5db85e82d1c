package models

// SelectItem is one incident and the features used to prioritise it.
type SelectItem struct {
	IncidentID   string  `json:"incident_id"`
	TopicWeight  float64 `json:"topic_weight"`  // Importance of the topic domain
	EngineWeight float64 `json:"engine_weight"` // Strength of the correlation engine
	SourceCount  int     `json:"source_count"`  // Number of independent sources
	StorySize    int     `json:"story_size"`    // Size of the narrative
}

// SelectRequest is the /select request body.
type SelectRequest struct {
	Items    []SelectItem `json:"items"`
	MaxItems *int         `json:"max_items,omitempty"`
}

// SelectFeatures echoes the inputs that produced a priority.
type SelectFeatures struct {
	TopicWeight  float64 `json:"topic_weight"`
	EngineWeight float64 `json:"engine_weight"`
	SourceCount  int     `json:"source_count"`
	StorySize    int     `json:"story_size"`
}

// ScoredItem is a selected incident with its priority.
type ScoredItem struct {
	IncidentID string         `json:"incident_id"`
	Priority   float64        `json:"priority"`
	Features   SelectFeatures `json:"features"`
}

// SelectResponse is the /select response body.
type SelectResponse struct {
	Version  string       `json:"version"`
	Selected []ScoredItem `json:"selected"`
}
