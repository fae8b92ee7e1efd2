package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/updownlabs/updownbot/internal/domain"
)

// heartbeatInterval is how often the session checkpoint is persisted.
const heartbeatInterval = time.Minute

// shutdownGrace bounds the position close-out after the trading loops stop.
const shutdownGrace = 30 * time.Second

// FeedRunner is a SnapshotSource that streams when run.
type FeedRunner interface {
	SnapshotSource
	Run(ctx context.Context) error
}

// StopController is the safety guard surface the orchestrator needs.
type StopController interface {
	SetEmergencyStop(stopped bool, reason string)
	EmergencyStopped() bool
}

// Lane bundles one coin's feed and trader.
type Lane struct {
	Coin   domain.Coin
	Feed   FeedRunner
	Trader *Trader
}

// sessionStats aggregates order and position counters across all traders.
// All methods are nil-receiver safe so traders can run without one in tests.
type sessionStats struct {
	mu           sync.Mutex
	ordersPlaced int
	ordersFilled int
	ordersFailed int
	entriesTaken int
	exitsTaken   int
	investedUSD  float64
	realizedPnL  float64
}

func (s *sessionStats) recordOrder(status domain.OrderStatus) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordersPlaced++
	switch status {
	case domain.OrderStatusFilled, domain.OrderStatusPartiallyFilled:
		s.ordersFilled++
	default:
		s.ordersFailed++
	}
}

func (s *sessionStats) recordEntry(usd float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entriesTaken++
	s.investedUSD += usd
}

func (s *sessionStats) recordExit(realizedPnL float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitsTaken++
	s.realizedPnL += realizedPnL
}

func (s *sessionStats) fill(session *domain.TradingSession) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session.OrdersPlaced = s.ordersPlaced
	session.OrdersFilled = s.ordersFilled
	session.OrdersFailed = s.ordersFailed
	session.EntriesTaken = s.entriesTaken
	session.ExitsTaken = s.exitsTaken
	session.InvestedUSD = s.investedUSD
	session.RealizedPnL = s.realizedPnL
}

// Orchestrator runs one trading session: every enabled coin's feed and
// trader, plus the session heartbeat. A fault in one coin's trader is
// contained to that coin; the other lanes keep trading.
type Orchestrator struct {
	lanes    []Lane
	guard    StopController
	sessions domain.SessionStore
	stats    *sessionStats
	dryRun   bool
	logger   *slog.Logger

	session domain.TradingSession
}

// NewOrchestrator creates an orchestrator over the given lanes. sessions may
// be nil when persistence is disabled; an empty sessionID gets a fresh one.
func NewOrchestrator(lanes []Lane, guard StopController, sessions domain.SessionStore, stats *sessionStats, dryRun bool, sessionID string, logger *slog.Logger) *Orchestrator {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return &Orchestrator{
		lanes:    lanes,
		guard:    guard,
		sessions: sessions,
		stats:    stats,
		dryRun:   dryRun,
		logger:   logger.With(slog.String("component", "orchestrator")),
		session:  domain.TradingSession{ID: sessionID},
	}
}

// NewSessionStats creates the shared counter set passed to traders.
func NewSessionStats() *sessionStats { return &sessionStats{} }

// Run starts the session and blocks until ctx is cancelled. On return the
// open positions have been closed out (best effort, bounded by
// shutdownGrace) and the session checkpoint is final.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.session.StartedAt = time.Now()
	o.session.Status = domain.SessionStatusRunning
	o.session.DryRun = o.dryRun
	o.session.LastHeartbeat = time.Now()
	o.saveSession(ctx)
	o.logger.Info("session started",
		slog.String("session_id", o.session.ID),
		slog.Bool("dry_run", o.dryRun),
		slog.Int("lanes", len(o.lanes)),
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, lane := range o.lanes {
		g.Go(func() error {
			return lane.Feed.Run(gctx)
		})
		g.Go(func() error {
			return o.runTrader(gctx, lane)
		})
	}

	g.Go(func() error {
		return o.heartbeat(gctx)
	})

	err := g.Wait()
	o.shutdown()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// runTrader isolates one lane's trader: a panic is logged and downed for
// that coin only, everything else keeps running.
func (o *Orchestrator) runTrader(ctx context.Context, lane Lane) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("trader panicked, lane stopped",
				slog.String("coin", string(lane.Coin)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = nil
		}
	}()

	if runErr := lane.Trader.Run(ctx); runErr != nil && runErr != context.Canceled {
		o.logger.Error("trader stopped with error",
			slog.String("coin", string(lane.Coin)),
			slog.String("error", runErr.Error()),
		)
	}
	return nil
}

func (o *Orchestrator) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.session.LastHeartbeat = time.Now()
			o.saveSession(ctx)
		}
	}
}

// shutdown closes out open positions and finalizes the session record.
func (o *Orchestrator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if o.guard == nil || !o.guard.EmergencyStopped() {
		for _, lane := range o.lanes {
			lane.Trader.CloseOpenPosition(ctx)
		}
	}

	status := domain.SessionStatusStopped
	if o.guard != nil && o.guard.EmergencyStopped() {
		status = domain.SessionStatusHalted
	}
	o.session.Status = status
	now := time.Now()
	o.session.StoppedAt = &now
	o.saveSession(ctx)
	if o.sessions != nil {
		if err := o.sessions.CloseSession(ctx, o.session.ID, status, now); err != nil {
			o.logger.Error("close session failed", slog.String("error", err.Error()))
		}
	}
	o.logger.Info("session stopped", slog.String("status", string(status)))
}

// EmergencyStop trips the guard so every subsequent order is denied. Open
// positions are left untouched for manual intervention or redemption.
func (o *Orchestrator) EmergencyStop(reason string) {
	if o.guard == nil {
		return
	}
	o.guard.SetEmergencyStop(true, reason)
	o.logger.Error("emergency stop engaged", slog.String("reason", reason))
}

// SessionID returns the session's id, assigned at construction so traders
// can tag their persisted rows before Run starts.
func (o *Orchestrator) SessionID() string { return o.session.ID }

func (o *Orchestrator) saveSession(ctx context.Context) {
	if o.sessions == nil {
		return
	}
	o.stats.fill(&o.session)
	if err := o.sessions.SaveSession(ctx, &o.session); err != nil {
		o.logger.Error("persist session failed", slog.String("error", err.Error()))
	}
}
