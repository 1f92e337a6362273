package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/legalmeet/intake/internal/fold"
)

// Category is one of the legal-matter categories a case can be filed under.
type Category string

const (
	CategoryLabor      Category = "Labor"
	CategoryCriminal   Category = "Criminal"
	CategoryFamily     Category = "Family"
	CategoryCivil      Category = "Civil"
	CategoryCommercial Category = "Commercial"
	CategoryTraffic    Category = "Traffic"
	CategoryRealEstate Category = "RealEstate"
)

type categoryInfo struct {
	code    string
	spanish string
}

var categories = map[Category]categoryInfo{
	CategoryLabor:      {"LAB", "Derecho Laboral"},
	CategoryCriminal:   {"PEN", "Derecho Penal"},
	CategoryFamily:     {"FAM", "Derecho de Familia"},
	CategoryCivil:      {"CIV", "Derecho Civil"},
	CategoryCommercial: {"COM", "Derecho Comercial"},
	CategoryTraffic:    {"TRA", "Derecho de Tránsito"},
	CategoryRealEstate: {"INM", "Derecho Inmobiliario"},
}

// Categories returns every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryLabor, CategoryCriminal, CategoryFamily, CategoryCivil,
		CategoryCommercial, CategoryTraffic, CategoryRealEstate,
	}
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Code returns the three-letter code used in reference ids ("LAB", "PEN", ...).
// Unknown categories map to "GEN".
func (c Category) Code() string {
	if info, ok := categories[c]; ok {
		return info.code
	}
	return "GEN"
}

// Label returns the user-facing Spanish name of the category.
func (c Category) Label() string {
	if info, ok := categories[c]; ok {
		return info.spanish
	}
	return string(c)
}

// ParseCategory resolves a category from its canonical name, its Spanish
// label ("Derecho de Tránsito") or the label without the "Derecho" prefix.
// Matching ignores case and accents.
func ParseCategory(s string) (Category, error) {
	key := fold.String(s)
	if key == "" {
		return "", errors.New("protocol: empty category")
	}
	for c, info := range categories {
		label := fold.String(info.spanish)
		if key == fold.String(string(c)) || key == label {
			return c, nil
		}
		short := strings.TrimPrefix(strings.TrimPrefix(label, "derecho "), "de ")
		if key == short {
			return c, nil
		}
	}
	return "", fmt.Errorf("protocol: unknown category %q", s)
}

// Urgency is how pressing a case is.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Valid reports whether u is one of the three urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// Label returns the user-facing Spanish name of the urgency.
func (u Urgency) Label() string {
	switch u {
	case UrgencyHigh:
		return "ALTA"
	case UrgencyMedium:
		return "MEDIA"
	case UrgencyLow:
		return "BAJA"
	}
	return string(u)
}

// ParseUrgency accepts LOW/MEDIUM/HIGH and the Spanish BAJA/MEDIA/ALTA.
func ParseUrgency(s string) (Urgency, error) {
	switch fold.String(s) {
	case "low", "baja":
		return UrgencyLow, nil
	case "medium", "media":
		return UrgencyMedium, nil
	case "high", "alta":
		return UrgencyHigh, nil
	}
	return "", fmt.Errorf("protocol: unknown urgency %q", s)
}

// Classification is the structured description of a user's case. It is
// produced once per case and never modified afterwards.
type Classification struct {
	Category Category `json:"category"`
	Urgency  Urgency  `json:"urgency"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Validate rejects classifications missing category, urgency or title, or
// carrying values outside the enumerations.
func (c Classification) Validate() error {
	var errs []error
	if c.Category == "" {
		errs = append(errs, errors.New("missing category"))
	} else if !c.Category.Valid() {
		errs = append(errs, fmt.Errorf("invalid category %q", c.Category))
	}
	if c.Urgency == "" {
		errs = append(errs, errors.New("missing urgency"))
	} else if !c.Urgency.Valid() {
		errs = append(errs, fmt.Errorf("invalid urgency %q", c.Urgency))
	}
	if strings.TrimSpace(c.Title) == "" {
		errs = append(errs, errors.New("missing title"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("protocol: invalid classification: %w", errors.Join(errs...))
	}
	return nil
}

// Estimate is a price range with a point estimate, in whole COP pesos.
type Estimate struct {
	Min       int64 `json:"min"`
	Max       int64 `json:"max"`
	Estimated int64 `json:"estimated"`
}

// CaseRecord is the analytics entry appended once per registered case.
type CaseRecord struct {
	ReferenceID      string    `json:"reference_id"`
	Category         Category  `json:"category"`
	Urgency          Urgency   `json:"urgency"`
	CreatedAt        time.Time `json:"created_at"`
	EstimatedRevenue int64     `json:"estimated_revenue"`
}

// AppointmentStatus is the lifecycle state of a booked appointment.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "PENDING"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
)

// Appointment is a booking request collected by the appointment dialogue.
type Appointment struct {
	ID            string            `json:"id" validate:"required,uuid4"`
	ReferenceID   string            `json:"reference_id" validate:"required"`
	UserAddress   string            `json:"user_address" validate:"required"`
	Name          string            `json:"name" validate:"required,min=3"`
	Email         string            `json:"email" validate:"required,email"`
	Category      Category          `json:"category,omitempty"`
	Urgency       Urgency           `json:"urgency,omitempty"`
	PreferredDate string            `json:"preferred_date,omitempty"`
	PreferredTime string            `json:"preferred_time,omitempty"`
	Status        AppointmentStatus `json:"status" validate:"oneof=PENDING CONFIRMED CANCELLED"`
	CreatedAt     time.Time         `json:"created_at" validate:"required"`
}
