package fanout

import (
	"errors"
	"fmt"
	"sync"

	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// GlobalGroup is the reserved key every registered member implicitly belongs to
const GlobalGroup = "*"

var (
	// ErrReservedGroup is returned when joining the global group explicitly
	ErrReservedGroup = errors.New("group key is reserved")
	// ErrSlowMember is returned by Deliver when a member's queue is full
	ErrSlowMember = errors.New("member send queue full")
	// ErrMemberClosed is returned by Deliver after the member went away
	ErrMemberClosed = errors.New("member closed")
)

// Member is an opaque live connection that can receive events
type Member interface {
	ID() string
	// Deliver must not block
	Deliver(event mqtmodels.Event) error
}

// Publisher sends an event to every member of a group
type Publisher interface {
	Publish(key string, event mqtmodels.Event)
}

// DeliveryError records one skipped delivery. It is logged and metered, never returned to publishers.
type DeliveryError struct {
	MemberID string
	Group    string
	Event    string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("fanout: deliver %s to %s in %s: %v", e.Event, e.MemberID, e.Group, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Router is the in-memory membership table
type Router struct {
	mu      sync.RWMutex
	members map[string]Member
	groups  map[string]map[string]Member
	joined  map[string]map[string]struct{}

	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewRouter(log *logger.Logger, m *metrics.Metrics) *Router {
	return &Router{
		members: make(map[string]Member),
		groups:  make(map[string]map[string]Member),
		joined:  make(map[string]map[string]struct{}),
		logger:  log.WithComponent("fanout"),
		metrics: m,
	}
}

// Register adds m to the global group
func (r *Router) Register(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID()] = m
}

// JoinGroup adds m to the group key. Joining twice has no further effect.
func (r *Router) JoinGroup(m Member, key string) error {
	if key == GlobalGroup {
		return ErrReservedGroup
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	r.members[id] = m

	group, ok := r.groups[key]
	if !ok {
		group = make(map[string]Member)
		r.groups[key] = group
	}
	group[id] = m

	keys, ok := r.joined[id]
	if !ok {
		keys = make(map[string]struct{})
		r.joined[id] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// LeaveAll removes every membership of m, including the global one
func (r *Router) LeaveAll(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	for key := range r.joined[id] {
		group := r.groups[key]
		delete(group, id)
		if len(group) == 0 {
			delete(r.groups, key)
		}
	}
	delete(r.joined, id)
	delete(r.members, id)
}

// Publish delivers event to every current member of key. Members that cannot
// take the event are skipped.
func (r *Router) Publish(key string, event mqtmodels.Event) {
	targets := r.snapshot(key)

	for _, m := range targets {
		if err := m.Deliver(event); err != nil {
			derr := &DeliveryError{MemberID: m.ID(), Group: key, Event: event.Name, Err: err}
			r.metrics.DeliveriesDropped.Inc()
			r.logger.Logger.Warn().Err(derr).Msg("Delivery skipped")
			continue
		}
		r.metrics.EventsDelivered.WithLabelValues(event.Name).Inc()
	}
}

func (r *Router) snapshot(key string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source := r.groups[key]
	if key == GlobalGroup {
		source = r.members
	}
	targets := make([]Member, 0, len(source))
	for _, m := range source {
		targets = append(targets, m)
	}
	return targets
}

// Stats reports the number of members and non-empty groups
func (r *Router) Stats() (members, groups int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members), len(r.groups)
}
