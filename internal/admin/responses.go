package admin

import "time"

// TokenIndexResponse reports the state of the corpus token index.
type TokenIndexResponse struct {
	Words       int        `json:"words"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}
