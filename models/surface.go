package models

// Surface is the kind of page the browser session is currently showing.
type Surface string

const (
	SurfaceUnknown     Surface = "unknown"
	SurfaceHomepage    Surface = "homepage"
	SurfaceLogin       Surface = "login"
	SurfaceListingForm Surface = "listing-form"
	SurfaceSubmitted   Surface = "submitted"
	SurfaceError       Surface = "error"
)

// Form field names beyond the metadata group.
const (
	FieldPrice           = "price"
	FieldFloorPrice      = "floor_price"
	FieldAcceptOffers    = "accept_offers"
	FieldSmartPricing    = "smart_pricing"
	FieldCountryOfOrigin = "country_of_origin"
	FieldImagePaths      = "image_paths"
)
