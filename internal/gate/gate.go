package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
)

type broadcaster interface {
	Broadcast(aud models.Audience, evt models.ServerEvent)
}

type presenceSource interface {
	OnlineCount() int
	OnlineIdentities() []string
}

// Gate controls session admission. In public mode everyone is admitted.
// Enabling private mode snapshots the identities present at that moment
// into an allow-set; only they may join until the mode reverts. The gate
// reverts to public on its own after a fixed idle interval, or
// immediately when the last participant leaves.
type Gate struct {
	mu           sync.Mutex
	private      bool
	allow        mapset.Set[string]
	lastActivity time.Time

	presence    presenceSource
	out         broadcaster
	idleTimeout time.Duration
	now         func() time.Time
}

func New(presence presenceSource, out broadcaster, idleTimeout time.Duration) *Gate {
	return &Gate{
		presence:    presence,
		out:         out,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// SetMode switches between public and private. The allow-set is captured
// only on the public-to-private transition and cleared on the way back.
func (g *Gate) SetMode(private bool) {
	g.mu.Lock()
	if g.private == private {
		g.mu.Unlock()
		return
	}
	g.private = private
	if private {
		g.allow = mapset.NewSet(g.presence.OnlineIdentities()...)
		g.lastActivity = g.now()
	} else {
		g.allow = nil
	}
	g.mu.Unlock()

	g.broadcastMode(private)
}

// Admit decides whether an identity may bind a session right now.
func (g *Gate) Admit(identity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.private {
		return nil
	}
	if g.allow != nil && g.allow.Contains(identity) {
		return nil
	}
	return models.ErrAccessDenied
}

// Touch records activity (message send, typing, heartbeat) and re-arms
// the idle revert window.
func (g *Gate) Touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastActivity = g.now()
}

// Private reports whether the gate is currently in private mode.
func (g *Gate) Private() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.private
}

// IdentityLeft must be called after an identity fully disconnects.
// Private mode with zero participants is meaningless and self-clears.
func (g *Gate) IdentityLeft() {
	g.mu.Lock()
	if !g.private || g.presence.OnlineCount() > 0 {
		g.mu.Unlock()
		return
	}
	g.private = false
	g.allow = nil
	g.mu.Unlock()

	slog.Info("private mode reverted: no participants left")
	g.broadcastMode(false)
}

// Run drives the idle auto-revert. It is a wall-clock timer independent
// of any connection and keeps running with zero sessions attached.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.checkIdle()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gate) checkIdle() {
	g.mu.Lock()
	if !g.private || g.now().Sub(g.lastActivity) < g.idleTimeout {
		g.mu.Unlock()
		return
	}
	g.private = false
	g.allow = nil
	g.mu.Unlock()

	slog.Info("private mode reverted: idle timeout")
	g.broadcastMode(false)
}

func (g *Gate) broadcastMode(private bool) {
	g.out.Broadcast(models.ToAll(), models.ServerEvent{
		Type:    models.ServerEventModeBroadcast,
		Private: &private,
	})
}
