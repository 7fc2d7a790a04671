// Package lifecycle is the Lifecycle Manager (§4.7): background-loop
// startup (after cmd/api has run the migrations), then orderly shutdown
// of the same loops. Built on the teacher's ShutdownManager (internal/server),
// generalized from "register arbitrary cleanup funcs" to the three
// specific long-running loops this service owns.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/pvp-typing/arena/internal/coordinator"
	"github.com/pvp-typing/arena/internal/matchmaking"
	"github.com/pvp-typing/arena/internal/realtime"
	"github.com/pvp-typing/arena/internal/repositories"
	"github.com/pvp-typing/arena/internal/server"
)

// Manager starts and stops the Matchmaking Queue, the Session Registry
// hub loop, and the disconnect watcher, wiring their cancellation into
// the teacher's ShutdownManager so a SIGTERM drains everything in order.
type Manager struct {
	shutdown *server.ShutdownManager

	hub   *realtime.Hub
	queue *matchmaking.Queue
	coord *coordinator.Coordinator

	rankings *repositories.RankingRepository
	matches  *repositories.MatchRepository

	cancel context.CancelFunc
}

// New wires an existing ShutdownManager rather than creating its own —
// the caller owns a single server.Server (and therefore a single
// ShutdownManager) for the whole process, and the lifecycle-owned loops
// are just more cleanup funcs registered onto it.
func New(shutdown *server.ShutdownManager, hub *realtime.Hub, queue *matchmaking.Queue, coord *coordinator.Coordinator, rankings *repositories.RankingRepository, matches *repositories.MatchRepository) *Manager {
	return &Manager{
		shutdown: shutdown,
		hub:      hub,
		queue:    queue,
		coord:    coord,
		rankings: rankings,
		matches:  matches,
	}
}

// Start launches the hub loop, the queue actor, and the disconnect watcher.
// It does not create storage indexes; the caller runs the migrator before
// this. Returns once everything is running.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go m.hub.Run(runCtx)
	go m.queue.Run(runCtx)
	go m.coord.RunDisconnectWatcher(runCtx, m.hub.Disconnects)

	m.shutdown.RegisterSimple("matchmaking and realtime loops", func() {
		cancel()
	})

	slog.Info("lifecycle manager started: hub, queue, and disconnect watcher running")
}

// ShutdownManager exposes the underlying manager so callers can register
// additional cleanup (e.g. closing the database pool) before calling
// Shutdown or WaitForShutdown.
func (m *Manager) ShutdownManager() *server.ShutdownManager {
	return m.shutdown
}
