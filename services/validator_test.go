package services

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grailed-lister/models"
	"grailed-lister/utils"
)

func newTestValidator() *Validator {
	return NewValidator(NewPathResolver(), utils.Discard())
}

func violationsFor(res models.ValidationResult, field string) []models.Violation {
	var out []models.Violation
	for _, v := range res.Violations {
		if v.Field == field {
			out = append(out, v)
		}
	}
	return out
}

func TestValidateMinimalRecord(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "front.jpg", "back.JPEG")
	rec := &models.ListingRecord{ImagePaths: imgs, Price: ptrF(120)}

	res := newTestValidator().Validate(rec)
	assert.True(t, res.Valid, "violations: %v", res.Violations)
	assert.Equal(t, imgs, res.ResolvedPaths)
	assert.Equal(t, models.MetadataFields, res.MissingMetadata)
}

func TestValidateImageRules(t *testing.T) {
	dir := t.TempDir()
	imgs := writeImages(t, dir, "ok.jpg", "photo.png")
	missing := filepath.Join(dir, "missing.jpg")

	rec := &models.ListingRecord{ImagePaths: []string{imgs[0], imgs[1], missing}, Price: ptrF(10)}
	res := newTestValidator().Validate(rec)

	require.False(t, res.Valid)
	vs := violationsFor(res, models.FieldImagePaths)
	require.Len(t, vs, 2)
	assert.Contains(t, vs[0].Rule, "photo.png")
	assert.Contains(t, vs[0].Rule, "unsupported extension")
	assert.Contains(t, vs[1].Rule, "file not found: "+missing)
}

func TestValidateEmptyImagePaths(t *testing.T) {
	res := newTestValidator().Validate(&models.ListingRecord{Price: ptrF(10)})
	require.False(t, res.Valid)
	assert.Len(t, violationsFor(res, models.FieldImagePaths), 1)
}

func TestValidatePrice(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg")

	for _, price := range []*float64{nil, ptrF(0), ptrF(-5)} {
		res := newTestValidator().Validate(&models.ListingRecord{ImagePaths: imgs, Price: price})
		assert.False(t, res.Valid)
		assert.Len(t, violationsFor(res, models.FieldPrice), 1)
	}
}

func TestValidateFloorAbovePriceSingleViolation(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg")
	rec := &models.ListingRecord{
		ImagePaths:   imgs,
		Price:        ptrF(100),
		SmartPricing: ptrB(true),
		FloorPrice:   ptrF(150),
	}

	res := newTestValidator().Validate(rec)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, models.FieldFloorPrice, res.Violations[0].Field)
	assert.Contains(t, res.Violations[0].Rule, "must not exceed price")
}

func TestValidateFloorWithoutSmartPricing(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg")

	for _, smart := range []*bool{nil, ptrB(false)} {
		rec := &models.ListingRecord{ImagePaths: imgs, Price: ptrF(100), SmartPricing: smart, FloorPrice: ptrF(50)}
		res := newTestValidator().Validate(rec)
		assert.False(t, res.Valid)
		vs := violationsFor(res, models.FieldFloorPrice)
		require.Len(t, vs, 1)
		assert.Contains(t, vs[0].Rule, "must be absent")
	}
}

func TestValidateSmartPricingNeedsFloor(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg")

	res := newTestValidator().Validate(&models.ListingRecord{ImagePaths: imgs, Price: ptrF(100), SmartPricing: ptrB(true)})
	assert.Len(t, violationsFor(res, models.FieldFloorPrice), 1)

	res = newTestValidator().Validate(&models.ListingRecord{ImagePaths: imgs, Price: ptrF(100), SmartPricing: ptrB(true), FloorPrice: ptrF(0)})
	assert.Len(t, violationsFor(res, models.FieldFloorPrice), 1)

	res = newTestValidator().Validate(&models.ListingRecord{ImagePaths: imgs, Price: ptrF(100), SmartPricing: ptrB(true), FloorPrice: ptrF(100)})
	assert.True(t, res.Valid, "floor equal to price is allowed: %v", res.Violations)
}

func TestValidateMetadataNeedsItemName(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg")
	rec := &models.ListingRecord{
		ImagePaths: imgs,
		Price:      ptrF(40),
		Metadata:   models.Metadata{Designer: "Our Legacy"},
	}

	res := newTestValidator().Validate(rec)
	vs := violationsFor(res, models.FieldItemName)
	require.Len(t, vs, 1)
	assert.Contains(t, vs[0].Rule, "required when any metadata field is present")
}

func TestValidateEnumeratedFields(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg")
	rec := &models.ListingRecord{
		ImagePaths: imgs,
		Price:      ptrF(40),
		Metadata:   models.Metadata{ItemName: "Shirt", Department: "Unisex", Condition: "gently used", Color: "dark navy"},
	}

	res := newTestValidator().Validate(rec)
	require.Len(t, res.Violations, 1, "violations: %v", res.Violations)
	assert.Equal(t, models.FieldDepartment, res.Violations[0].Field)
	assert.Contains(t, res.Violations[0].Rule, "Menswear Womenswear")
	assert.Contains(t, strings.Join(res.Warnings, "\n"), `mapped color "dark navy" to "Navy"`)

	// validation never rewrites the caller's record
	assert.Equal(t, "gently used", rec.Condition)
	assert.Equal(t, "dark navy", rec.Color)
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	rec := &models.ListingRecord{
		ImagePaths: []string{"/definitely/not/here.gif"},
		FloorPrice: ptrF(10),
		Metadata:   models.Metadata{Size: "L"},
	}

	res := newTestValidator().Validate(rec)
	fields := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		fields = append(fields, v.Field)
	}
	assert.Equal(t, []string{
		models.FieldImagePaths, models.FieldImagePaths,
		models.FieldPrice, models.FieldFloorPrice, models.FieldItemName,
	}, fields)
}

func TestValidateIsPure(t *testing.T) {
	dir := t.TempDir()
	imgs := writeImages(t, dir, "a.jpg")
	records := []*models.ListingRecord{
		{ImagePaths: imgs, Price: ptrF(10), Metadata: models.Metadata{ItemName: "A", Condition: "used"}},
		{ImagePaths: []string{filepath.Join(dir, "nope.jpg")}, Price: ptrF(-1)},
		{ImagePaths: imgs, Price: ptrF(10), SmartPricing: ptrB(true), FloorPrice: ptrF(20)},
	}

	v := newTestValidator()
	forward := make([]models.ValidationResult, len(records))
	for i, r := range records {
		forward[i] = v.Validate(r)
	}
	for i := len(records) - 1; i >= 0; i-- {
		again := v.Validate(records[i])
		if !reflect.DeepEqual(forward[i], again) {
			t.Errorf("record %d: results differ between calls:\n%v\n%v", i, forward[i], again)
		}
	}

	batch, err := v.ValidateBatch(context.Background(), records, 3)
	require.NoError(t, err)
	assert.Equal(t, forward, batch)
}

func TestNormalizeAppliesCanonicalValues(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg")
	rec := &models.ListingRecord{
		ImagePaths: imgs,
		Price:      ptrF(10),
		Metadata:   models.Metadata{ItemName: "A", Department: "menswear", Condition: "LIKE NEW", Color: "black"},
	}

	res := newTestValidator().Validate(rec)
	require.True(t, res.Valid, "violations: %v", res.Violations)
	Normalize(rec, res)

	assert.Equal(t, "Menswear", rec.Department)
	assert.Equal(t, "Like New", rec.Condition)
	assert.Equal(t, "Black", rec.Color)
	assert.Equal(t, imgs, rec.ResolvedPaths)
}

func TestValidateReportsDecodeErrorsOnce(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg")
	rec := &models.ListingRecord{
		ImagePaths:   imgs,
		DecodeErrors: []models.Violation{{Field: models.FieldPrice, Rule: "must be a number, got string"}},
	}

	res := newTestValidator().Validate(rec)
	require.False(t, res.Valid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, models.FieldPrice, res.Violations[0].Field)
	assert.Equal(t, "must be a number, got string", res.Violations[0].Rule)
}

func TestValidateKeepsDuplicateImages(t *testing.T) {
	imgs := writeImages(t, t.TempDir(), "a.jpg", "b.jpg")
	rec := &models.ListingRecord{ImagePaths: []string{imgs[0], imgs[1], imgs[0]}, Price: ptrF(10)}

	res := newTestValidator().Validate(rec)
	assert.True(t, res.Valid)
	assert.Equal(t, []string{imgs[0], imgs[1], imgs[0]}, res.ResolvedPaths)
	assert.Equal(t, []string{"duplicate image path: " + imgs[0]}, res.Warnings)
}
