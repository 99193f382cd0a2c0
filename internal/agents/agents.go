// Package agents holds the autonomous consumers wired onto the event bus:
// the interview evaluator, the auto-apply action agent, the strategist, and
// the ghosting sentinel.
package agents

// Broadcaster pushes progress to a user's live connections. The realtime
// hub satisfies this.
type Broadcaster interface {
	BroadcastToUser(userID, eventName string, payload any)
}

// nopBroadcaster lets agents run headless.
type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToUser(string, string, any) {}

// NopBroadcaster is the no-op Broadcaster.
var NopBroadcaster Broadcaster = nopBroadcaster{}
