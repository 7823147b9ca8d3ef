package models

import "strings"

// ListingRecord is one item from the input batch. Pointer fields distinguish
// "absent" from a zero value; metadata strings are absent when blank.
type ListingRecord struct {
	// Index is the record's position in the input batch.
	Index int `json:"-" yaml:"-"`

	ImagePaths      []string `json:"image_paths" yaml:"image_paths"`
	Price           *float64 `json:"price,omitempty" yaml:"price,omitempty"`
	AcceptOffers    *bool    `json:"accept_offers,omitempty" yaml:"accept_offers,omitempty"`
	SmartPricing    *bool    `json:"smart_pricing,omitempty" yaml:"smart_pricing,omitempty"`
	FloorPrice      *float64 `json:"floor_price,omitempty" yaml:"floor_price,omitempty"`
	CountryOfOrigin string   `json:"country_of_origin,omitempty" yaml:"country_of_origin,omitempty"`

	Metadata `yaml:",inline"`

	// ResolvedPaths holds the absolute image paths produced during validation.
	ResolvedPaths []string `json:"-" yaml:"-"`

	// DecodeErrors lists fields of the batch element that could not be
	// decoded into this record. They are reported as violations.
	DecodeErrors []Violation `json:"-" yaml:"-"`
	// Original holds the undecoded batch element when DecodeErrors is set,
	// so the element can be written back unchanged.
	Original any `json:"-" yaml:"-"`
}

// Metadata is the descriptive field group that may be supplied by the caller
// or proposed by the vision model.
type Metadata struct {
	Department  string `json:"department,omitempty" yaml:"department,omitempty" validate:"omitempty,oneof=Menswear Womenswear"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	SubCategory string `json:"sub_category,omitempty" yaml:"sub_category,omitempty"`
	Designer    string `json:"designer,omitempty" yaml:"designer,omitempty"`
	ItemName    string `json:"item_name,omitempty" yaml:"item_name,omitempty"`
	Size        string `json:"size,omitempty" yaml:"size,omitempty"`
	Color       string `json:"color,omitempty" yaml:"color,omitempty"`
	Condition   string `json:"condition,omitempty" yaml:"condition,omitempty" validate:"omitempty,oneof='Brand New' 'Like New' 'Gently Used' 'Used' 'Very Worn'"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Metadata field names as they appear in the batch file.
const (
	FieldDepartment  = "department"
	FieldCategory    = "category"
	FieldSubCategory = "sub_category"
	FieldDesigner    = "designer"
	FieldItemName    = "item_name"
	FieldSize        = "size"
	FieldColor       = "color"
	FieldCondition   = "condition"
	FieldDescription = "description"
)

// MetadataFields lists the metadata group in form-fill order.
var MetadataFields = []string{
	FieldDepartment, FieldCategory, FieldSubCategory, FieldDesigner,
	FieldSize, FieldItemName, FieldColor, FieldCondition, FieldDescription,
}

// RequiredMetadata must be present before a record may be submitted.
var RequiredMetadata = []string{FieldItemName, FieldDepartment, FieldCategory}

func (m *Metadata) ptr(field string) *string {
	switch field {
	case FieldDepartment:
		return &m.Department
	case FieldCategory:
		return &m.Category
	case FieldSubCategory:
		return &m.SubCategory
	case FieldDesigner:
		return &m.Designer
	case FieldItemName:
		return &m.ItemName
	case FieldSize:
		return &m.Size
	case FieldColor:
		return &m.Color
	case FieldCondition:
		return &m.Condition
	case FieldDescription:
		return &m.Description
	}
	return nil
}

// Get returns the trimmed value of a metadata field, or "" if absent or unknown.
func (m *Metadata) Get(field string) string {
	if p := m.ptr(field); p != nil {
		return strings.TrimSpace(*p)
	}
	return ""
}

// Set assigns a metadata field. Unknown field names are ignored.
func (m *Metadata) Set(field, value string) {
	if p := m.ptr(field); p != nil {
		*p = strings.TrimSpace(value)
	}
}

// Has reports whether a metadata field carries a non-blank value.
func (m *Metadata) Has(field string) bool {
	return m.Get(field) != ""
}

// Missing returns the metadata fields with no value, in form-fill order.
func (m *Metadata) Missing() []string {
	var missing []string
	for _, f := range MetadataFields {
		if !m.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// AnyPresent reports whether at least one metadata field is set.
func (m *Metadata) AnyPresent() bool {
	return len(m.Missing()) < len(MetadataFields)
}

// SmartPricingEnabled reports whether smart pricing is explicitly on.
func (r *ListingRecord) SmartPricingEnabled() bool {
	return r.SmartPricing != nil && *r.SmartPricing
}

// DecodeFailed reports whether field could not be read from the batch file.
func (r *ListingRecord) DecodeFailed(field string) bool {
	for _, v := range r.DecodeErrors {
		if v.Field == field {
			return true
		}
	}
	return false
}

// Title returns a short label for logs and reports.
func (r *ListingRecord) Title() string {
	if name := r.Get(FieldItemName); name != "" {
		return name
	}
	if len(r.ImagePaths) > 0 {
		return r.ImagePaths[0]
	}
	return "(untitled)"
}
