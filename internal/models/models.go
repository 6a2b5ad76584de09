package models

import (
	"strings"
	"time"

	"github.com/example/wash-hup/internal/apperr"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleWasher Role = "washer"
	RoleAdmin  Role = "admin"
)

// ParseRole accepts "client" as an alias for owner.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owner", "client":
		return RoleOwner, nil
	case "washer":
		return RoleWasher, nil
	case "admin":
		return RoleAdmin, nil
	}
	return "", apperr.Validation("invalid role")
}

// ProfileBase holds the fields every participant shares.
type ProfileBase struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Picture   string    `json:"picture,omitempty"`
	Role      Role      `json:"role"`
	Flagged   bool      `json:"flagged"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is one of OwnerProfile, WasherProfile or AdminProfile.
type Profile interface {
	Base() ProfileBase
	isProfile()
}

type OwnerProfile struct {
	ProfileBase
}

type WasherProfile struct {
	ProfileBase
	Rating      float64 `json:"rating"`
	TotalWashes int     `json:"total_washes"`
	Available   bool    `json:"available"`
	// Address is the washer's registered base; nil until set.
	Address *Address `json:"address,omitempty"`
}

type AdminProfile struct {
	ProfileBase
}

type Address struct {
	Label string `json:"label"`
	Coord Coord  `json:"coord"`
}

func (p OwnerProfile) Base() ProfileBase  { return p.ProfileBase }
func (p WasherProfile) Base() ProfileBase { return p.ProfileBase }
func (p AdminProfile) Base() ProfileBase  { return p.ProfileBase }

func (OwnerProfile) isProfile()  {}
func (WasherProfile) isProfile() {}
func (AdminProfile) isProfile()  {}

// ProfileSummary is the public card shown in nearby listings and offers.
type ProfileSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Picture     string  `json:"picture,omitempty"`
	Rating      float64 `json:"rating"`
	TotalWashes int     `json:"total_washes"`
	Flagged     bool    `json:"flagged"`
	DistanceKm  float64 `json:"distance_km"`
	EtaSeconds  float64 `json:"eta_seconds,omitempty"`
}

func (p WasherProfile) Summary(distanceKm float64) ProfileSummary {
	return ProfileSummary{
		ID:          p.ID,
		Name:        p.Name,
		Picture:     p.Picture,
		Rating:      p.Rating,
		TotalWashes: p.TotalWashes,
		Flagged:     p.Flagged,
		DistanceKm:  distanceKm,
	}
}

// Page is a skip/limit window used by list endpoints.
type Page struct {
	Skip  int
	Limit int
}

func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	return p
}
