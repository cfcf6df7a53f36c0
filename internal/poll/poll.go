package poll

import (
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"
)

// Denial reasons surfaced to the requesting connection.
const (
	ReasonAlreadyOpen         = "a deletion poll is already open"
	ReasonLockout             = "deletion cooldown is active"
	ReasonNotEnoughVoters     = "at least two participants must be online"
	ReasonInitiatorNotPresent = "initiator is no longer present"
)

type state int

const (
	stateNone state = iota
	stateOpen
	stateApproved
	stateLockout
)

type messageStore interface {
	DeleteAllMessages() error
}

type presenceSource interface {
	OnlineCount() int
	OnlineIdentities() []string
}

type broadcaster interface {
	Broadcast(aud models.Audience, evt models.ServerEvent)
}

// Coordinator runs the single system-wide majority vote that authorizes
// wiping all message history. At most one poll is open at a time. The
// initiator votes yes implicitly; approval needs floor(total/2)+1 yes
// votes against the online identity count re-read at every tally. An
// approved poll still only executes on the initiator's explicit confirm.
type Coordinator struct {
	mu            sync.Mutex
	state         state
	initiator     string
	initiatorConn models.ConnID
	votes         map[string]bool

	store    messageStore
	presence presenceSource
	out      broadcaster

	lockout       time.Duration
	confirmCutoff time.Duration
	lockoutTimer  *time.Timer
	cutoffTimer   *time.Timer
}

func NewCoordinator(store messageStore, presence presenceSource, out broadcaster, lockout, confirmCutoff time.Duration) *Coordinator {
	return &Coordinator{
		store:         store,
		presence:      presence,
		out:           out,
		lockout:       lockout,
		confirmCutoff: confirmCutoff,
	}
}

// Initiate opens a new poll. Denials are sent to the requesting
// connection only and change no state.
func (c *Coordinator) Initiate(identity string, conn models.ConnID) {
	c.mu.Lock()

	var reason string
	switch {
	case c.state == stateLockout:
		reason = ReasonLockout
	case c.state != stateNone:
		reason = ReasonAlreadyOpen
	case c.presence.OnlineCount() < 2:
		reason = ReasonNotEnoughVoters
	}
	if reason != "" {
		c.mu.Unlock()
		c.out.Broadcast(models.ToConn(conn), models.ServerEvent{
			Type:   models.ServerEventPollDenied,
			Reason: reason,
		})
		return
	}

	c.state = stateOpen
	c.initiator = identity
	c.initiatorConn = conn
	c.votes = map[string]bool{identity: true}
	update := c.tallyLocked()
	c.mu.Unlock()

	c.out.Broadcast(models.ToAll(), models.ServerEvent{
		Type: models.ServerEventPollStarted,
		Poll: &update,
	})
}

// Vote records one identity's vote. Votes outside an open poll and
// repeat votes are silently ignored.
func (c *Coordinator) Vote(identity string, approve bool) {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return
	}
	if _, voted := c.votes[identity]; voted {
		c.mu.Unlock()
		return
	}
	c.votes[identity] = approve
	c.settleLocked()
}

// Confirm executes the approved deletion. Only the initiator's
// connection may confirm, and only while the poll is approved; anything
// else is silently ignored.
func (c *Coordinator) Confirm(conn models.ConnID) {
	c.mu.Lock()
	if c.state != stateApproved || conn != c.initiatorConn {
		c.mu.Unlock()
		return
	}
	// Block new polls while the delete is in flight.
	c.state = stateLockout
	c.stopCutoffLocked()
	c.votes = nil
	c.initiator = ""
	c.mu.Unlock()

	if err := c.store.DeleteAllMessages(); err != nil {
		slog.Error("bulk delete failed", "error", err)
		c.mu.Lock()
		c.state = stateNone
		c.mu.Unlock()
		return
	}

	c.out.Broadcast(models.ToAll(), models.ServerEvent{
		Type: models.ServerEventDeleted,
	})

	c.mu.Lock()
	c.armLockoutLocked()
	c.mu.Unlock()
}

// IdentityLeft releases a disconnected identity from poll bookkeeping.
// If the initiator leaves, the poll dies with them; otherwise their vote
// is withdrawn and the tally re-settled against the new online count.
func (c *Coordinator) IdentityLeft(identity string) {
	c.mu.Lock()
	if c.state != stateOpen && c.state != stateApproved {
		c.mu.Unlock()
		return
	}

	if identity == c.initiator {
		c.resetLocked()
		c.mu.Unlock()
		c.broadcastResult(models.ToAll(), models.PollUpdate{
			Status: models.PollStatusRejected,
		}, ReasonInitiatorNotPresent)
		return
	}

	delete(c.votes, identity)
	if c.state == stateOpen {
		c.settleLocked()
		return
	}
	c.mu.Unlock()
}

// settleLocked tallies the open poll, broadcasts the update and applies
// the approve/reject transitions. It releases the mutex.
func (c *Coordinator) settleLocked() {
	update := c.tallyLocked()
	initiatorConn := c.initiatorConn

	switch {
	case update.Yes >= update.Needed:
		c.state = stateApproved
		c.armCutoffLocked()
		c.mu.Unlock()

		c.out.Broadcast(models.ToAll(), models.ServerEvent{
			Type: models.ServerEventPollUpdate,
			Poll: &update,
		})
		// Only the initiator learns the poll is approved; for everyone
		// else it stays open until confirm or the cutoff.
		approved := update
		approved.Status = models.PollStatusApproved
		c.out.Broadcast(models.ToConn(initiatorConn), models.ServerEvent{
			Type: models.ServerEventPollResult,
			Poll: &approved,
		})

	case update.No >= update.Needed || c.allPresentVotedLocked():
		update.Status = models.PollStatusRejected
		c.resetLocked()
		c.mu.Unlock()

		c.broadcastResult(models.ToConn(initiatorConn), update, "")
	default:
		c.mu.Unlock()

		c.out.Broadcast(models.ToAll(), models.ServerEvent{
			Type: models.ServerEventPollUpdate,
			Poll: &update,
		})
	}
}

// tallyLocked recomputes the tally. The total is re-read from the
// presence tracker on every call, never cached across suspensions.
func (c *Coordinator) tallyLocked() models.PollUpdate {
	update := models.PollUpdate{
		Initiator: c.initiator,
		Status:    models.PollStatusOpen,
		Total:     c.presence.OnlineCount(),
	}
	update.Needed = update.Total/2 + 1
	for _, approve := range c.votes {
		if approve {
			update.Yes++
		} else {
			update.No++
		}
	}
	return update
}

// allPresentVotedLocked reports whether every currently-online identity
// has cast a vote. When neither threshold is met, the poll only
// concludes once the voter pool is exhausted; an even split therefore
// waits for the last voter and then rejects.
func (c *Coordinator) allPresentVotedLocked() bool {
	for _, identity := range c.presence.OnlineIdentities() {
		if _, voted := c.votes[identity]; !voted {
			return false
		}
	}
	return true
}

func (c *Coordinator) broadcastResult(aud models.Audience, update models.PollUpdate, reason string) {
	c.out.Broadcast(aud, models.ServerEvent{
		Type:   models.ServerEventPollResult,
		Poll:   &update,
		Reason: reason,
	})
}

func (c *Coordinator) resetLocked() {
	c.state = stateNone
	c.initiator = ""
	c.initiatorConn = ""
	c.votes = nil
	c.stopCutoffLocked()
}

// armCutoffLocked re-arms the hard cutoff for an approved poll waiting
// on confirm. Re-armed, never accumulated.
func (c *Coordinator) armCutoffLocked() {
	c.stopCutoffLocked()
	if c.confirmCutoff <= 0 {
		return
	}
	c.cutoffTimer = time.AfterFunc(c.confirmCutoff, func() {
		c.mu.Lock()
		if c.state != stateApproved {
			c.mu.Unlock()
			return
		}
		c.resetLocked()
		c.mu.Unlock()
		c.broadcastResult(models.ToAll(), models.PollUpdate{
			Status: models.PollStatusRejected,
		}, "confirmation window elapsed")
	})
}

func (c *Coordinator) stopCutoffLocked() {
	if c.cutoffTimer != nil {
		c.cutoffTimer.Stop()
		c.cutoffTimer = nil
	}
}

// armLockoutLocked starts the post-deletion cooldown. The timer runs on
// the wall clock regardless of connection lifecycles.
func (c *Coordinator) armLockoutLocked() {
	if c.lockoutTimer != nil {
		c.lockoutTimer.Stop()
	}
	if c.lockout <= 0 {
		c.state = stateNone
		return
	}
	c.lockoutTimer = time.AfterFunc(c.lockout, func() {
		c.mu.Lock()
		if c.state == stateLockout {
			c.state = stateNone
		}
		c.mu.Unlock()
	})
}
