// Package di wires databases, clients, pipeline modules and jobs into a Container.
package di

import (
	"github.com/aristath/touchline/internal/clientdata"
	"github.com/aristath/touchline/internal/clients/polygon"
	"github.com/aristath/touchline/internal/database"
	"github.com/aristath/touchline/internal/engine"
	"github.com/aristath/touchline/internal/events"
	"github.com/aristath/touchline/internal/modules/contact"
	"github.com/aristath/touchline/internal/modules/diagnostics"
	"github.com/aristath/touchline/internal/modules/evolution"
	"github.com/aristath/touchline/internal/modules/levels"
	"github.com/aristath/touchline/internal/modules/memory"
	"github.com/aristath/touchline/internal/modules/portfolio"
	"github.com/aristath/touchline/internal/modules/prices"
	"github.com/aristath/touchline/internal/modules/recommendation"
	"github.com/aristath/touchline/internal/modules/scoring"
	"github.com/aristath/touchline/internal/modules/settings"
	"github.com/aristath/touchline/internal/reliability"
	"github.com/aristath/touchline/internal/scheduler"
)

// Container holds every long-lived instance of the process.
type Container struct {
	// Databases
	MemoryDB *database.DB // patterns, evolution, feedback, contacts, resilience
	LedgerDB *database.DB // positions, cash, audit trail
	ConfigDB *database.DB // settings, price levels
	CacheDB  *database.DB // provider responses

	// Repositories
	SettingsRepo   *settings.Repository
	LevelsRepo     *levels.Repository
	ClientDataRepo *clientdata.Repository
	ContactRepo    *contact.Repository
	MemoryStore    *memory.Store

	// Market data
	PolygonClient *polygon.Client
	PolygonStream *polygon.Stream // nil unless streaming is enabled
	PriceFeed     *prices.Feed

	// Pipeline
	EventManager *events.Manager
	Monitor      *diagnostics.Monitor
	Tracker      *evolution.Tracker
	Resilience   *scoring.ResilienceStore
	Recommender  *recommendation.Recommender
	Ledger       *portfolio.Ledger
	Engine       *engine.Engine
	Sweeper      *diagnostics.Sweeper

	// Operations
	Scheduler     *scheduler.Scheduler
	BackupService *reliability.BackupService // nil unless a bucket is configured
}

// Databases lists the open databases in a fixed order.
func (c *Container) Databases() []*database.DB {
	return []*database.DB{c.MemoryDB, c.LedgerDB, c.ConfigDB, c.CacheDB}
}

// Close closes every open database.
func (c *Container) Close() {
	for _, db := range c.Databases() {
		if db != nil {
			_ = db.Close()
		}
	}
}
