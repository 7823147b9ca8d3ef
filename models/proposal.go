package models

// Image is one photo handed to the vision collaborator.
type Image struct {
	Path     string
	MIMEType string
	Data     []byte
}

// Proposal is the vision collaborator's suggestion for the metadata group.
// It is advisory; callers decide which fields to accept.
type Proposal struct {
	Fields Metadata
	// Confidence maps metadata field names to a score in [0,1].
	Confidence map[string]float64
}

// ConfidenceFor returns the score for a field and whether one was given.
func (p *Proposal) ConfidenceFor(field string) (float64, bool) {
	if p == nil || p.Confidence == nil {
		return 0, false
	}
	c, ok := p.Confidence[field]
	return c, ok
}
