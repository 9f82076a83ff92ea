package repository

import (
	"database/sql"

	"github.com/mailshed/campaign-backend/internal/model"
)

// UserRepositoryInterface defines the owner-profile lookups the
// service and worker need.
type UserRepositoryInterface interface {
	GetByID(id string) (*model.User, error)
	Create(u *model.User) error
}

type UserRepository struct {
	DB *sql.DB
}

// GetByID fetches a user by ID. Returns nil, nil when absent so
// callers can fall back to the system sender identity.
func (r *UserRepository) GetByID(id string) (*model.User, error) {
	query := `SELECT id, name, email, avatar FROM users WHERE id = $1`

	var u model.User
	var avatar sql.NullString
	err := r.DB.QueryRow(query, id).Scan(&u.ID, &u.Name, &u.Email, &avatar)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.Avatar = avatar.String
	return &u, nil
}

func (r *UserRepository) Create(u *model.User) error {
	query := `
		INSERT INTO users (id, name, email, avatar)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.DB.Exec(query, u.ID, u.Name, u.Email, u.Avatar)
	return err
}

var _ UserRepositoryInterface = (*UserRepository)(nil)
