package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"votechain.org/internal/identity"
	"votechain.org/internal/voter"
)

const pgErrUniqueViolation = "23505"

// Store implements voter.Directory and voter.ContactStore on PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ voter.Directory    = (*Store)(nil)
	_ voter.ContactStore = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const voterColumns = `uuid, id_number, name_en, name_kh, dob, expiry_date, coalesce(photo,''), coalesce(qr_token,'')`

// FindIdentity matches on the canonical form of the stored id number, so records typed
// with stray spaces or lower case still resolve.
func (s *Store) FindIdentity(ctx context.Context, key identity.Key) (voter.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+voterColumns+`
		from voters
		where upper(regexp_replace(id_number, '\s', '', 'g')) = $1
		limit 1
	`, key.String())
	return scanVoter(row)
}

func (s *Store) FindByQRToken(ctx context.Context, token string) (voter.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+voterColumns+`
		from voters
		where qr_token = $1
		limit 1
	`, token)
	return scanVoter(row)
}

const contactColumns = `identity_key, phone, email, proof_path, updated_at`

func (s *Store) ContactByEmail(ctx context.Context, email string) (voter.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+contactColumns+`
		from voter_contacts
		where lower(email) = $1
	`, voter.NormalizeEmail(email))
	return scanContact(row)
}

func (s *Store) ContactByKey(ctx context.Context, key identity.Key) (voter.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+contactColumns+`
		from voter_contacts
		where identity_key = $1
	`, key.String())
	return scanContact(row)
}

// UpsertContact inserts or replaces the contact of an identity. The unique index on
// lower(email) turns a concurrent claim of the same address into voter.ErrEmailTaken.
func (s *Store) UpsertContact(ctx context.Context, c voter.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		insert into voter_contacts(identity_key, phone, email, proof_path, updated_at)
		values ($1, $2, $3, $4, now())
		on conflict (identity_key) do update
		set phone = excluded.phone,
		    email = excluded.email,
		    proof_path = excluded.proof_path,
		    updated_at = now()
	`, c.IdentityKey.String(), c.Phone, voter.NormalizeEmail(c.Email), c.ProofPath)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return voter.ErrEmailTaken
	}
	return err
}

func scanVoter(row *sql.Row) (voter.Record, error) {
	var r voter.Record
	err := row.Scan(&r.UUID, &r.IDNumber, &r.NameEN, &r.NameKH, &r.DateOfBirth, &r.ExpiryDate, &r.Photo, &r.QRToken)
	if errors.Is(err, sql.ErrNoRows) {
		return voter.Record{}, voter.ErrNotFound
	}
	if err != nil {
		return voter.Record{}, err
	}
	return r, nil
}

func scanContact(row *sql.Row) (voter.Contact, error) {
	var (
		c   voter.Contact
		key string
	)
	err := row.Scan(&key, &c.Phone, &c.Email, &c.ProofPath, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return voter.Contact{}, voter.ErrNotFound
	}
	if err != nil {
		return voter.Contact{}, err
	}
	c.IdentityKey = identity.Key(key)
	return c, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	if err == nil {
		return nil, false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
