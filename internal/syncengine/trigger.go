package syncengine

// TriggerReason names why a sync run was requested. Lower priority values
// run first when several triggers are pending at once, so an explicit
// request is never starved behind a backlog of periodic polls.
type TriggerReason string

const (
	TriggerManual    TriggerReason = "manual"
	TriggerChangeLog TriggerReason = "change_log_signal"
	TriggerWatcher   TriggerReason = "watcher"
	TriggerPoll      TriggerReason = "poll"
)

// priorityFor maps a trigger to its queue.PriorityQueue priority (lower
// wins). Manual requests and a signalled remote change jump the queue ahead
// of the watcher's own debounced bursts and the plain interval poll.
func priorityFor(reason TriggerReason) int {
	switch reason {
	case TriggerManual:
		return 0
	case TriggerChangeLog:
		return 1
	case TriggerWatcher:
		return 2
	case TriggerPoll:
		return 3
	default:
		return 3
	}
}
