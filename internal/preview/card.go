// Package preview derives the display values of the listing card from a draft.
package preview

import "github.com/vbonduro/spaform/internal/spa"

// Placeholders shown while a field is still empty.
const (
	PlaceholderName     = "The Spa"
	PlaceholderLocation = "Location"
	PlaceholderPrice    = "1800"
	PlaceholderHours    = "11 AM - 9 PM"
)

// The card always shows the same rating block; real ratings come later from
// the marketplace, not from the vendor.
const (
	staticRating  = "4.48"
	staticReviews = 15
)

// Card is the display model for one listing.
type Card struct {
	Name     string
	Location string
	Price    string
	Hours    string
	Images   []string
	// NoImages is the empty-state marker for the carousel.
	NoImages bool
	Rating   string
	Reviews  int
}

// Project builds the card for draft. imageURLs are the preview URLs currently
// associated with the draft, either local blob URLs or hosted ones.
func Project(draft spa.Draft, imageURLs []string) Card {
	c := Card{
		Name:     orDefault(draft.Name, PlaceholderName),
		Location: location(draft.Area, draft.City),
		Price:    orDefault(draft.Price, PlaceholderPrice),
		Hours:    orDefault(draft.OpeningHours, PlaceholderHours),
		Rating:   staticRating,
		Reviews:  staticReviews,
	}
	if len(imageURLs) == 0 {
		c.NoImages = true
		return c
	}
	c.Images = append([]string(nil), imageURLs...)
	return c
}

// Slide returns the image at i, clamped into range. ok is false when the card
// has no images.
func (c Card) Slide(i int) (url string, index int, ok bool) {
	if len(c.Images) == 0 {
		return "", 0, false
	}
	if i < 0 {
		i = 0
	}
	if i >= len(c.Images) {
		i = len(c.Images) - 1
	}
	return c.Images[i], i, true
}

func location(area, city string) string {
	loc := orDefault(city, PlaceholderLocation)
	if area == "" {
		return loc
	}
	return area + ", " + loc
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
