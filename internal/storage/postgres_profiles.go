package storage

import (
	"context"
	"database/sql"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

const profileColumns = `id, role, name, email, picture, flagged, rating, total_washes, available,
	address_label, address_lat, address_lon, created_at`

// scanProfile resolves the role discriminator into the concrete variant.
func scanProfile(row scanner) (models.Profile, error) {
	var (
		base      models.ProfileBase
		role      string
		rating    float64
		total     int
		available bool
		label     sql.NullString
		lat, lon  sql.NullFloat64
	)
	if err := row.Scan(&base.ID, &role, &base.Name, &base.Email, &base.Picture, &base.Flagged,
		&rating, &total, &available, &label, &lat, &lon, &base.CreatedAt); err != nil {
		return nil, err
	}
	base.Role = models.Role(role)
	switch base.Role {
	case models.RoleOwner:
		return models.OwnerProfile{ProfileBase: base}, nil
	case models.RoleAdmin:
		return models.AdminProfile{ProfileBase: base}, nil
	case models.RoleWasher:
		wp := models.WasherProfile{ProfileBase: base, Rating: rating, TotalWashes: total, Available: available}
		if label.Valid && lat.Valid && lon.Valid {
			wp.Address = &models.Address{Label: label.String, Coord: models.Coord{Lat: lat.Float64, Lon: lon.Float64}}
		}
		return wp, nil
	}
	return nil, apperr.Internal("unknown profile role "+role, nil)
}

func (r pgRepo) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, r.mapErr(err, "profile")
	}
	return p, nil
}

func (r pgRepo) GetWasher(ctx context.Context, id string) (*models.WasherProfile, error) {
	p, err := r.GetProfile(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("washer")
		}
		return nil, err
	}
	wp, ok := p.(models.WasherProfile)
	if !ok {
		return nil, apperr.NotFound("washer")
	}
	return &wp, nil
}

func (r pgRepo) SaveProfile(ctx context.Context, p models.Profile) error {
	base := p.Base()
	var (
		rating    float64
		total     int
		available bool
		label     sql.NullString
		lat, lon  sql.NullFloat64
	)
	if wp, ok := p.(models.WasherProfile); ok {
		rating, total, available = wp.Rating, wp.TotalWashes, wp.Available
		if wp.Address != nil {
			label = sql.NullString{String: wp.Address.Label, Valid: true}
			lat = sql.NullFloat64{Float64: wp.Address.Coord.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: wp.Address.Coord.Lon, Valid: true}
		}
	}
	_, err := r.exec(ctx, "profile", `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, picture = EXCLUDED.picture,
			flagged = EXCLUDED.flagged, rating = EXCLUDED.rating, total_washes = EXCLUDED.total_washes,
			available = EXCLUDED.available, address_label = EXCLUDED.address_label,
			address_lat = EXCLUDED.address_lat, address_lon = EXCLUDED.address_lon`,
		base.ID, string(base.Role), base.Name, base.Email, base.Picture, base.Flagged,
		rating, total, available, label, lat, lon, base.CreatedAt)
	return err
}

func (r pgRepo) SetWasherAvailability(ctx context.Context, id string, available bool) error {
	return r.execOne(ctx, "washer",
		`UPDATE profiles SET available = $2 WHERE id = $1 AND role = 'washer'`, id, available)
}

func (r pgRepo) UpdateWasherStats(ctx context.Context, id string, rating float64, totalWashes int) error {
	return r.execOne(ctx, "washer",
		`UPDATE profiles SET rating = $2, total_washes = $3 WHERE id = $1 AND role = 'washer'`,
		id, rating, totalWashes)
}

func (r pgRepo) CreateLocation(ctx context.Context, l *models.Location) error {
	_, err := r.exec(ctx, "location",
		`INSERT INTO locations (id, label, lat, lon, created_at) VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.Label, l.Coord.Lat, l.Coord.Lon, l.CreatedAt)
	return err
}

func (r pgRepo) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	var l models.Location
	err := r.q.QueryRowContext(ctx,
		`SELECT id, label, lat, lon, created_at FROM locations WHERE id = $1`, id).
		Scan(&l.ID, &l.Label, &l.Coord.Lat, &l.Coord.Lon, &l.CreatedAt)
	if err != nil {
		return nil, r.mapErr(err, "location")
	}
	return &l, nil
}
