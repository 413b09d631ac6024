package repositories

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"brokercrm/internal/database"
)

// ErrNotFound is returned by every repository lookup that matches no row.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate marks a unique key violation reported by a non-SQL store.
var ErrDuplicate = errors.New("duplicate key")

// IsDuplicate reports whether err is a unique key violation of any backend.
func IsDuplicate(err error) bool {
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return true
	}
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == "23505"
}

// Store groups the repositories of the lead state subsystem. WithinTx runs fn
// against a Store bound to a single transaction; calling WithinTx on such a
// Store reuses the running transaction.
type Store interface {
	Desks() DeskRepository
	Users() UserRepository
	States() StateRepository
	Transitions() TransitionRepository
	Leads() LeadRepository
	History() HistoryRepository

	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type sqlStore struct {
	db *sqlx.DB // nil inside a transaction
	q  database.Queryer
}

// NewSQLStore wraps an open MySQL or Postgres connection.
func NewSQLStore(db *sqlx.DB) Store {
	if db == nil {
		panic("repositories: received nil database connection")
	}
	return &sqlStore{db: db, q: db}
}

func (s *sqlStore) Desks() DeskRepository             { return &deskRepository{q: s.q} }
func (s *sqlStore) Users() UserRepository             { return &userRepository{q: s.q} }
func (s *sqlStore) States() StateRepository           { return &stateRepository{q: s.q} }
func (s *sqlStore) Transitions() TransitionRepository { return &transitionRepository{q: s.q} }
func (s *sqlStore) Leads() LeadRepository             { return &leadRepository{q: s.q} }
func (s *sqlStore) History() HistoryRepository        { return &historyRepository{q: s.q} }

func (s *sqlStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	return database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(&sqlStore{q: tx})
	})
}
