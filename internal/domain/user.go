package domain

type User struct {
	ID        string `db:"id" json:"id"`
	Email     string `db:"email" json:"email"`
	Name      string `db:"name" json:"name"`
	Hash      string `db:"password_hash" json:"-"`
	Location  string `db:"location" json:"location,omitempty"`
	AvatarURL string `db:"avatar_url" json:"avatarUrl,omitempty"`
}
