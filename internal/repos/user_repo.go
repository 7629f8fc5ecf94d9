package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"lotbuy/internal/domain"
)

type UserRepo struct{ DB *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{DB: db} }

func (r *UserRepo) Create(ctx context.Context, id, email, name, hash string) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
	  INSERT INTO users(id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)
	`), id, email, name, hash, ts(time.Now()))
	return err
}

func (r *UserRepo) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.DB.GetContext(ctx, &u, r.DB.Rebind(
		`SELECT id,email,name,password_hash,location,avatar_url FROM users WHERE LOWER(email)=LOWER(?)`), email)
	if err != nil {
		return nil, notFound(err, "user", email)
	}
	return &u, nil
}

func (r *UserRepo) ByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.DB.GetContext(ctx, &u, r.DB.Rebind(
		`SELECT id,email,name,password_hash,location,avatar_url FROM users WHERE id=?`), id)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

// UpdateProfile overwrites the editable profile fields.
func (r *UserRepo) UpdateProfile(ctx context.Context, id, name, location, avatarURL string) error {
	res, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
	  UPDATE users SET name=?, location=?, avatar_url=? WHERE id=?
	`), name, location, avatarURL, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFoundf("user %s not found", id)
	}
	return nil
}

func (r *UserRepo) BindSession(ctx context.Context, sid, userID string) error {
	now := ts(time.Now())
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
	  INSERT INTO sessions(id,user_id,created_at,last_seen) VALUES(?,?,?,?)
	  ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id,last_seen=excluded.last_seen
	`), sid, userID, now, now)
	return err
}

// SessionUser resolves a session token and refreshes its last_seen stamp.
func (r *UserRepo) SessionUser(ctx context.Context, sid string) (*domain.User, error) {
	var u domain.User
	err := r.DB.GetContext(ctx, &u, r.DB.Rebind(`
      SELECT u.id,u.email,u.name,u.password_hash,u.location,u.avatar_url
      FROM sessions s
      JOIN users u ON u.id=s.user_id
      WHERE s.id=?`), sid)
	if err != nil {
		return nil, notFound(err, "session", "")
	}
	_, _ = r.DB.ExecContext(ctx, r.DB.Rebind(`UPDATE sessions SET last_seen=? WHERE id=?`), ts(time.Now()), sid)
	return &u, nil
}

func (r *UserRepo) DeleteSession(ctx context.Context, sid string) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`DELETE FROM sessions WHERE id=?`), sid)
	return err
}

// PruneSessions removes sessions idle since before cutoff.
func (r *UserRepo) PruneSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, r.DB.Rebind(`DELETE FROM sessions WHERE last_seen < ?`), ts(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
