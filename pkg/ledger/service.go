// Package ledger implements the disclosure ledger: protocol registration,
// protocol policy, the disclosure lifecycle and bounty escrow.
//
// Every mutating operation runs in a single store transaction together
// with its event log entry, so a failed operation leaves no trace.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/eventlog"
	"github.com/relves/vulnlog/pkg/oracle"
	"github.com/relves/vulnlog/pkg/types"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Config holds the collaborators of a Service.
type Config struct {
	Store  storage.Store
	Oracle oracle.Oracle
	// Clock defaults to SystemClock.
	Clock Clock
	// EventLog is optional; when set every mutation appends an event.
	EventLog *eventlog.Log
	Logger   *slog.Logger
}

// Service is the ledger.
type Service struct {
	store  storage.Store
	oracle oracle.Oracle
	clock  Clock
	events *eventlog.Log
	logger *slog.Logger
}

// NewService creates a ledger Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:  cfg.Store,
		oracle: cfg.Oracle,
		clock:  cfg.Clock,
		events: cfg.EventLog,
		logger: cfg.Logger,
	}, nil
}

func (s *Service) now() int64 {
	return s.clock.Now().Unix()
}

// update runs fn in a read-write transaction.
func (s *Service) update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.store.Update(ctx, fn)
}

// view runs fn in a read-only transaction.
func (s *Service) view(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.store.View(ctx, fn)
}

// record appends an event for a mutation inside tx.
func (s *Service) record(ctx context.Context, tx storage.Tx, typ, record string, actor types.Identity, at int64, data any) error {
	if s.events == nil {
		return nil
	}
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", typ, err)
		}
		raw = b
	}
	return s.events.Append(ctx, tx, &eventlog.Event{
		Type:   typ,
		Record: record,
		Actor:  actor,
		Time:   at,
		Data:   raw,
	})
}

// notFound maps storage.ErrNotFound to the given ledger error.
func notFound(err error, nf *Error, addr string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nf.Withf("%s: %s", nf.Message, addr)
	}
	return err
}

// exists maps storage.ErrExists to ErrAlreadyExists.
func exists(err error, what, addr string) error {
	if errors.Is(err, storage.ErrExists) {
		return ErrAlreadyExists.Withf("%s already exists at %s", what, addr)
	}
	return err
}

func loadProtocol(ctx context.Context, tx storage.Tx, addr string) (*types.Protocol, error) {
	p, err := tx.GetProtocol(ctx, addr)
	if err != nil {
		return nil, notFound(err, ErrProtocolNotFound, addr)
	}
	return p, nil
}

func loadDisclosure(ctx context.Context, tx storage.Tx, addr string) (*types.Disclosure, error) {
	d, err := tx.GetDisclosure(ctx, addr)
	if err != nil {
		return nil, notFound(err, ErrDisclosureNotFound, addr)
	}
	return d, nil
}

func loadVault(ctx context.Context, tx storage.Tx, addr string) (*types.BountyVault, error) {
	v, err := tx.GetVault(ctx, addr)
	if err != nil {
		return nil, notFound(err, ErrVaultNotFound, addr)
	}
	return v, nil
}
