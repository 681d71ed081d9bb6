package domain

import "time"

// Policy is a tracked government AI policy record.
type Policy struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Jurisdiction  string    `json:"jurisdiction"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	EffectiveDate string    `json:"effectiveDate"`
	Agencies      []string  `json:"agencies"`
	SourceURL     string    `json:"sourceUrl"`
	Content       string    `json:"content"`
	AISummary     string    `json:"aiSummary"`
	Tags          []string  `json:"tags"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (p Policy) DocumentID() string { return p.ID }

const (
	DefaultJurisdiction = "federal"
	DefaultPolicyType   = "guideline"
	PolicyStatusActive  = "active"
)
