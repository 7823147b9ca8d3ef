package grailed

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"grailed-lister/models"
)

var listingPathRe = regexp.MustCompile(`^/listings/\d+`)

// Signals are the page features the classifier looks for.
type Signals struct {
	LoginPrompt  bool
	ListingForm  bool
	Published    bool
	SellButton   bool
	ErrorPage    bool
	PasswordPage bool
}

// ReadSignals extracts classifier signals from a page URL and HTML snapshot.
func ReadSignals(pageURL, html string) (Signals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Signals{}, fmt.Errorf("parse page: %w", err)
	}

	var path string
	if u, err := url.Parse(pageURL); err == nil {
		path = u.Path
	}

	s := Signals{
		LoginPrompt: doc.Find(loginModalSelector).Length() > 0,
		ListingForm: doc.Find(listingFormSelector).Length() > 0,
		SellButton:  doc.Find(sellButtonSelector).Length() > 0,
		Published: doc.Find(publishedSelector).Length() > 0 ||
			(listingPathRe.MatchString(path) && !strings.HasSuffix(path, "/edit")),
		PasswordPage: strings.HasPrefix(path, "/users/sign_up") || strings.HasPrefix(path, "/login") ||
			doc.Find(`input[type="password"]`).Length() > 0,
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	s.ErrorPage = strings.Contains(title, "404") ||
		strings.Contains(title, "page not found") ||
		strings.Contains(title, "something went wrong") ||
		doc.Find(errorPageSelector).Length() > 0

	return s, nil
}

// Surface maps signals onto a surface. A login prompt wins over everything
// because it blocks interaction with whatever lies beneath it.
func (s Signals) Surface() models.Surface {
	switch {
	case s.LoginPrompt || (s.PasswordPage && !s.ListingForm):
		return models.SurfaceLogin
	case s.ErrorPage:
		return models.SurfaceError
	case s.Published:
		return models.SurfaceSubmitted
	case s.ListingForm:
		return models.SurfaceListingForm
	case s.SellButton:
		return models.SurfaceHomepage
	}
	return models.SurfaceUnknown
}

// Classify is ReadSignals followed by Surface.
func Classify(pageURL, html string) (models.Surface, error) {
	s, err := ReadSignals(pageURL, html)
	if err != nil {
		return models.SurfaceUnknown, err
	}
	return s.Surface(), nil
}
