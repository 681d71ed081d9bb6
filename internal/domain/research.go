package domain

// Link is an outbound anchor found on a fetched page.
type Link struct {
	URL  string
	Text string
}

// Page is a fetched document reduced to plain text plus its outbound links.
type Page struct {
	URL   string
	Title string
	Text  string
	Links []Link
}

// ClassifyRequest is the input handed to the content classifier.
type ClassifyRequest struct {
	PageText       string   `json:"text"`
	SourceURL      string   `json:"sourceUrl"`
	ExistingTitles []string `json:"existingTitles"`
}

// RawFinding carries the classifier's suggested fields before admission.
type RawFinding struct {
	Title                 string   `json:"title"`
	Summary               string   `json:"summary"`
	RelevanceScore        float64  `json:"relevanceScore"`
	SuggestedType         string   `json:"suggestedType,omitempty"`
	SuggestedJurisdiction string   `json:"suggestedJurisdiction,omitempty"`
	Tags                  []string `json:"tags,omitempty"`
	Agencies              []string `json:"agencies,omitempty"`
	KeyDates              []string `json:"keyDates,omitempty"`
	RelatedTopics         []string `json:"relatedTopics,omitempty"`
	IsNewPolicy           bool     `json:"isNewPolicy"`
	ExistingPolicyID      string   `json:"existingPolicyId,omitempty"`
	ChangeDescription     string   `json:"changeDescription,omitempty"`
}

// Classification is the classifier contract: zero or more findings per page.
type Classification struct {
	Findings []RawFinding `json:"findings"`
}
