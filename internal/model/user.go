// internal/model/user.go
package model

// User is a campaign owner. Looked up to resolve sender identity
// and to decorate campaign views.
type User struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Email  string `db:"email" json:"email"`
	Avatar string `db:"avatar" json:"avatar,omitempty"`
}
