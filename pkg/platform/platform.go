// Package platform wires the service together from configuration: storage,
// the session lifecycle manager, the pseudonym allocator, the activity
// monitor, and the journal.
package platform

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/txn2/fieldwork/pkg/clock"
	"github.com/txn2/fieldwork/pkg/database/migrate"
	"github.com/txn2/fieldwork/pkg/journal"
	journalpg "github.com/txn2/fieldwork/pkg/journal/postgres"
	"github.com/txn2/fieldwork/pkg/respondent"
	respondentpg "github.com/txn2/fieldwork/pkg/respondent/postgres"
	"github.com/txn2/fieldwork/pkg/session"
	sessionpg "github.com/txn2/fieldwork/pkg/session/postgres"
)

// journalCleanupInterval is how often expired journal events are purged.
const journalCleanupInterval = 6 * time.Hour

// Platform holds the assembled service components.
type Platform struct {
	cfg *Config

	db          *sql.DB
	sessions    session.Store
	respondents respondent.Store
	journal     journal.Logger
	journalPG   *journalpg.Store

	manager   *session.Manager
	allocator *respondent.Allocator
	monitor   *session.Monitor
}

// New assembles a Platform from configuration. For postgres storage it opens
// the database, applies migrations, and starts the journal retention routine.
func New(cfg *Config) (*Platform, error) {
	p := &Platform{cfg: cfg}

	switch cfg.Storage.Mode {
	case StorageModePostgres:
		db, err := sql.Open("postgres", cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}
		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}

		p.db = db
		p.sessions = sessionpg.New(db)
		p.respondents = respondentpg.New(db)

		if cfg.Journal.Enabled {
			store := journalpg.New(db, journalpg.Config{RetentionDays: cfg.Journal.RetentionDays})
			store.StartCleanupRoutine(journalCleanupInterval)
			p.journalPG = store
			p.journal = store
		} else {
			p.journal = journal.Nop{}
		}

	case StorageModeMemory:
		p.sessions = session.NewMemoryStore()
		p.respondents = respondent.NewMemoryStore()
		if cfg.Journal.Enabled {
			p.journal = journal.Slog{}
		} else {
			p.journal = journal.Nop{}
		}

	default:
		return nil, fmt.Errorf("unknown storage mode: %q", cfg.Storage.Mode)
	}

	clk := clock.Real{}
	policy := session.TimeoutPolicy{
		Timeout:       cfg.Session.Timeout,
		WarnThreshold: cfg.Session.WarnThreshold,
	}

	p.manager = session.NewManager(session.ManagerConfig{
		Store:       p.sessions,
		Policy:      policy,
		Clock:       clk,
		Journal:     p.journal,
		Respondents: p.respondents,
	})
	p.allocator = respondent.NewAllocator(p.respondents, clk)
	p.monitor = session.NewMonitor(session.MonitorConfig{
		Manager:      p.manager,
		PollInterval: cfg.Session.SweepInterval,
		TickInterval: cfg.Session.TickInterval,
		Clock:        clk,
	})

	slog.Info("platform assembled",
		"storage", cfg.Storage.Mode,
		"timeout", cfg.Session.Timeout,
		"sweep_interval", cfg.Session.SweepInterval,
	)
	return p, nil
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config { return p.cfg }

// Manager returns the session lifecycle manager.
func (p *Platform) Manager() *session.Manager { return p.manager }

// Allocator returns the pseudonym allocator.
func (p *Platform) Allocator() *respondent.Allocator { return p.allocator }

// Monitor returns the activity monitor.
func (p *Platform) Monitor() *session.Monitor { return p.monitor }

// Respondents returns the respondent store.
func (p *Platform) Respondents() respondent.Store { return p.respondents }

// Journal returns the journal logger.
func (p *Platform) Journal() journal.Logger { return p.journal }

// DB returns the database handle, or nil in memory mode.
func (p *Platform) DB() *sql.DB { return p.db }

// Start launches the background sweep.
func (p *Platform) Start() {
	p.monitor.Start()
}

// Close tears the platform down: monitor first so no sweep runs against a
// closing store, then the journal, then the database.
func (p *Platform) Close() error {
	var firstErr error

	if err := p.monitor.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if p.journalPG != nil {
		if err := p.journalPG.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
