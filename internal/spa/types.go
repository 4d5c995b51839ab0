package spa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Field names one editable scalar of a spa listing. The string value is the
// form/wire name the remote API expects.
type Field string

const (
	FieldName   Field = "spa_name"
	FieldCity   Field = "city"
	FieldArea   Field = "area"
	FieldPrice  Field = "price"
	FieldTiming Field = "timing"
)

// ImagesField is the multipart part name used for image blobs.
const ImagesField = "images"

var ErrUnknownField = errors.New("unknown field")

var fieldOrder = []Field{FieldName, FieldCity, FieldArea, FieldPrice, FieldTiming}

// Fields returns the fixed field set in form order.
func Fields() []Field {
	return append([]Field(nil), fieldOrder...)
}

func ParseField(s string) (Field, error) {
	for _, f := range fieldOrder {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// Image is a locally selected image blob that has not been uploaded yet.
type Image struct {
	Filename string
	MimeType string
	Data     []byte
}

// Draft is the record being edited. Scalars are never absent; an untouched
// field is the empty string.
type Draft struct {
	Name         string
	City         string
	Area         string
	Price        string
	OpeningHours string
	Images       []Image
}

// Get returns the value of f, or "" for an unknown field.
func (d Draft) Get(f Field) string {
	switch f {
	case FieldName:
		return d.Name
	case FieldCity:
		return d.City
	case FieldArea:
		return d.Area
	case FieldPrice:
		return d.Price
	case FieldTiming:
		return d.OpeningHours
	default:
		return ""
	}
}

// With returns a copy of d with f set to value. Unknown fields leave the copy
// unchanged.
func (d Draft) With(f Field, value string) Draft {
	switch f {
	case FieldName:
		d.Name = value
	case FieldCity:
		d.City = value
	case FieldArea:
		d.Area = value
	case FieldPrice:
		d.Price = value
	case FieldTiming:
		d.OpeningHours = value
	}
	return d
}

// Values returns every scalar keyed by field.
func (d Draft) Values() map[Field]string {
	out := make(map[Field]string, len(fieldOrder))
	for _, f := range fieldOrder {
		out[f] = d.Get(f)
	}
	return out
}

func (d Draft) IsEmpty() bool {
	for _, f := range fieldOrder {
		if d.Get(f) != "" {
			return false
		}
	}
	return len(d.Images) == 0
}

// Clone returns a deep copy; image bytes are shared since they are never
// mutated after selection.
func (d Draft) Clone() Draft {
	if d.Images != nil {
		d.Images = append([]Image(nil), d.Images...)
	}
	return d
}

// ID identifies a persisted listing. The zero value means the listing has not
// been created yet.
type ID int64

func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be positive", s)
	}
	return ID(n), nil
}

func (id ID) IsZero() bool { return id == 0 }

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// UnmarshalJSON accepts both 42 and "42"; backends disagree on the encoding.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	parsed, err := ParseID(strconv.FormatInt(n, 10))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Record is a listing as the remote API returns it.
type Record struct {
	ID           ID       `json:"id"`
	Name         string   `json:"spa_name"`
	City         string   `json:"city"`
	Area         string   `json:"area"`
	Price        string   `json:"price"`
	OpeningHours string   `json:"timing"`
	ImageURLs    []string `json:"images"`
}

// Draft converts the record's scalars into a draft. Hosted images are not
// re-uploadable blobs, so the draft carries none.
func (r Record) Draft() Draft {
	return Draft{
		Name:         r.Name,
		City:         r.City,
		Area:         r.Area,
		Price:        r.Price,
		OpeningHours: r.OpeningHours,
	}
}

// UnmarshalJSON tolerates price encoded as a JSON number.
func (r *Record) UnmarshalJSON(b []byte) error {
	type plain Record
	aux := struct {
		*plain
		Price json.RawMessage `json:"price"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	price := bytes.TrimSpace(aux.Price)
	switch {
	case len(price) == 0 || bytes.Equal(price, []byte("null")):
		r.Price = ""
	case price[0] == '"':
		if err := json.Unmarshal(price, &r.Price); err != nil {
			return fmt.Errorf("invalid price: %w", err)
		}
	default:
		var n json.Number
		if err := json.Unmarshal(price, &n); err != nil {
			return fmt.Errorf("invalid price: %w", err)
		}
		r.Price = n.String()
	}
	return nil
}
