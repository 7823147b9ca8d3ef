package grailed

import "grailed-lister/models"

const (
	sellButtonSelector  = `a[data-testid="desktop-sell"]`
	loginModalSelector  = `[data-testid="login-modal"], div[class*="AuthenticationModal"], form[action*="sign_in"]`
	listingFormSelector = `form[data-testid="listing-form"], button[data-testid="publish-button"]`
	publishedSelector   = `[data-testid="listing-published"], [data-testid="listing-success"]`
	errorPageSelector   = `[data-testid="error-page"]`

	publishButtonSelector = `button[data-testid="publish-button"]`
	fileInputSelector     = `input[type="file"]`
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindSelect
	kindMenu
	kindSearch
	kindToggle
)

type formInput struct {
	kind     fieldKind
	selector string
}

// formFields maps record fields to the inputs on the listing form.
var formFields = map[string]formInput{
	models.FieldDepartment:      {kindMenu, `input[placeholder="Department / Category"]`},
	models.FieldCategory:        {kindMenu, `input[placeholder="Department / Category"]`},
	models.FieldSubCategory:     {kindMenu, `input[placeholder="Department / Category"]`},
	models.FieldDesigner:        {kindSearch, `input[aria-label="Search and add a Designer"], input[placeholder="Search and add a Designer"]`},
	models.FieldSize:            {kindSelect, `select[name="size"]`},
	models.FieldItemName:        {kindText, `input[name="title"], input[aria-label="Item name"]`},
	models.FieldColor:           {kindMenu, `input[placeholder="Select a Color"]`},
	models.FieldCondition:       {kindSelect, `select[name="condition"]`},
	models.FieldDescription:     {kindText, `textarea[name="description"]`},
	models.FieldCountryOfOrigin: {kindSelect, `select[name="countryOfOrigin"]`},
	models.FieldPrice:           {kindText, `input[name="price"]`},
	models.FieldAcceptOffers:    {kindToggle, `input[name="acceptOffers"]`},
	models.FieldSmartPricing:    {kindToggle, `input[name="smartPricing"]`},
	models.FieldFloorPrice:      {kindText, `input[name="floorPrice"]`},
}
