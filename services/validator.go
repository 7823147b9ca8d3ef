package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"grailed-lister/models"
	"grailed-lister/utils"
)

var allowedImageExt = map[string]bool{".jpg": true, ".jpeg": true}

// Colors accepted by the listing form.
var validColors = []string{
	"Black", "White", "Grey", "Navy", "Blue", "Red", "Green",
	"Brown", "Beige", "Pink", "Purple", "Yellow", "Orange",
	"Multicolor", "Indigo",
}

// Validator checks listing records before any external call is made.
type Validator struct {
	resolver *PathResolver
	enums    *validator.Validate
	logger   *utils.Logger
}

// NewValidator creates a Validator that resolves image paths with resolver.
func NewValidator(resolver *PathResolver, logger *utils.Logger) *Validator {
	enums := validator.New(validator.WithRequiredStructEnabled())
	enums.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{resolver: resolver, enums: enums, logger: logger}
}

// Validate checks rec against every rule and collects all violations. It
// does not modify rec, so repeated calls yield the same result.
func (v *Validator) Validate(rec *models.ListingRecord) models.ValidationResult {
	var res models.ValidationResult
	res.Violations = append(res.Violations, rec.DecodeErrors...)

	if !rec.DecodeFailed(models.FieldImagePaths) {
		v.checkImages(rec, &res)
	}
	priceOK := false
	if !rec.DecodeFailed(models.FieldPrice) {
		priceOK = v.checkPrice(rec, &res)
	}
	if !rec.DecodeFailed(models.FieldSmartPricing) && !rec.DecodeFailed(models.FieldFloorPrice) {
		v.checkPricing(rec, priceOK, &res)
	}

	if rec.AnyPresent() && !rec.Has(models.FieldItemName) {
		res.Violations = append(res.Violations, models.Violation{
			Field: models.FieldItemName,
			Rule:  "required when any metadata field is present",
		})
	}

	normalized := rec.Metadata
	res.Warnings = append(res.Warnings, NormalizeMetadata(&normalized)...)
	res.Violations = append(res.Violations, v.EnumViolations(&normalized)...)

	res.MissingMetadata = rec.Missing()
	res.Valid = len(res.Violations) == 0
	return res
}

func (v *Validator) checkImages(rec *models.ListingRecord, res *models.ValidationResult) {
	if len(rec.ImagePaths) == 0 {
		res.Violations = append(res.Violations, models.Violation{
			Field: models.FieldImagePaths,
			Rule:  "at least one image path is required",
		})
		return
	}

	seen := utils.NewStringSet()
	for _, p := range rec.ImagePaths {
		if strings.TrimSpace(p) == "" {
			res.Violations = append(res.Violations, models.Violation{
				Field: models.FieldImagePaths,
				Rule:  "empty image path",
			})
			continue
		}

		ext := strings.ToLower(filepath.Ext(p))
		if !allowedImageExt[ext] {
			res.Violations = append(res.Violations, models.Violation{
				Field: models.FieldImagePaths,
				Rule:  fmt.Sprintf("unsupported extension %q (want .jpg or .jpeg): %s", ext, p),
			})
		}

		abs, err := v.resolver.Resolve(p)
		if err != nil {
			rule := fmt.Sprintf("cannot resolve %s: %v", p, err)
			if errors.Is(err, ErrPathNotFound) {
				rule = "file not found: " + p
			}
			res.Violations = append(res.Violations, models.Violation{Field: models.FieldImagePaths, Rule: rule})
			continue
		}

		if !seen.Add(abs) {
			res.Warnings = append(res.Warnings, "duplicate image path: "+p)
		}
		res.ResolvedPaths = append(res.ResolvedPaths, abs)
	}
}

func (v *Validator) checkPrice(rec *models.ListingRecord, res *models.ValidationResult) bool {
	if rec.Price == nil {
		res.Violations = append(res.Violations, models.Violation{Field: models.FieldPrice, Rule: "required"})
		return false
	}
	if !positive(*rec.Price) {
		res.Violations = append(res.Violations, models.Violation{Field: models.FieldPrice, Rule: "must be a positive number"})
		return false
	}
	return true
}

func (v *Validator) checkPricing(rec *models.ListingRecord, priceOK bool, res *models.ValidationResult) {
	if !rec.SmartPricingEnabled() {
		if rec.FloorPrice != nil {
			res.Violations = append(res.Violations, models.Violation{
				Field: models.FieldFloorPrice,
				Rule:  "must be absent unless smart_pricing is true",
			})
		}
		return
	}

	switch {
	case rec.FloorPrice == nil:
		res.Violations = append(res.Violations, models.Violation{
			Field: models.FieldFloorPrice,
			Rule:  "required when smart_pricing is true",
		})
	case !positive(*rec.FloorPrice):
		res.Violations = append(res.Violations, models.Violation{
			Field: models.FieldFloorPrice,
			Rule:  "must be a positive number",
		})
	case priceOK && *rec.FloorPrice > *rec.Price:
		res.Violations = append(res.Violations, models.Violation{
			Field: models.FieldFloorPrice,
			Rule:  fmt.Sprintf("must not exceed price (%.2f > %.2f)", *rec.FloorPrice, *rec.Price),
		})
	}
}

// EnumViolations checks the enumerated metadata fields of md.
func (v *Validator) EnumViolations(md *models.Metadata) []models.Violation {
	err := v.enums.Struct(md)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []models.Violation{{Field: "metadata", Rule: err.Error()}}
	}

	out := make([]models.Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, models.Violation{
			Field: fe.Field(),
			Rule:  fmt.Sprintf("%q is not one of: %s", fe.Value(), strings.ReplaceAll(fe.Param(), "'", "")),
		})
	}
	return out
}

// Normalize applies validation results to a valid record: resolved image
// paths and canonical spellings of enumerated fields.
func Normalize(rec *models.ListingRecord, res models.ValidationResult) {
	rec.ResolvedPaths = append([]string(nil), res.ResolvedPaths...)
	NormalizeMetadata(&rec.Metadata)
}

// NormalizeMetadata rewrites department, condition and color to the
// spellings the form expects and returns a warning per color mapping.
func NormalizeMetadata(md *models.Metadata) []string {
	var warnings []string

	if md.Has(models.FieldDepartment) {
		md.Department = titleCase(md.Get(models.FieldDepartment))
	}
	if md.Has(models.FieldCondition) {
		md.Condition = titleCase(md.Get(models.FieldCondition))
	}
	if md.Has(models.FieldColor) {
		color := md.Get(models.FieldColor)
		mapped, ok := matchColor(color)
		switch {
		case !ok:
			warnings = append(warnings, fmt.Sprintf("unusual color: %s", color))
		case mapped != color:
			warnings = append(warnings, fmt.Sprintf("mapped color %q to %q", color, mapped))
			md.Color = mapped
		}
	}
	return warnings
}

func matchColor(color string) (string, bool) {
	lower := strings.ToLower(color)
	for _, c := range validColors {
		if strings.ToLower(c) == lower {
			return c, true
		}
	}
	for _, c := range validColors {
		cl := strings.ToLower(c)
		if strings.Contains(lower, cl) || strings.Contains(cl, lower) {
			return c, true
		}
	}
	return color, false
}

// ValidateBatch validates records concurrently and returns results in input order.
func (v *Validator) ValidateBatch(ctx context.Context, records []*models.ListingRecord, workers int) ([]models.ValidationResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]models.ValidationResult, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = v.Validate(rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	invalid := 0
	for _, r := range results {
		if !r.Valid {
			invalid++
		}
	}
	v.logger.Info("[validator] Checked %d records, %d invalid", len(records), invalid)
	return results, nil
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// titleCase upper-cases the first letter of each word and lower-cases the rest.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
