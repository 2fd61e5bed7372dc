package user

import (
	"database/sql"

	"github.com/google/uuid"
)

// User is the profile row kept next to the identity provider's account.
type User struct {
	ID             uuid.UUID      `db:"id"`
	Email          sql.NullString `db:"email"`
	Name           sql.NullString `db:"name"`
	DNI            sql.NullString `db:"dni"`
	ProfilePicture sql.NullString `db:"profile_picture"`
	Role           string         `db:"rol"`
	CO2Saved       float64        `db:"co2_saved"`
}

// Stats is what the profile page shows under the user's name.
type Stats struct {
	TotalTrips int     `json:"totalTrips"`
	CO2Saved   float64 `json:"co2Saved"`
}
