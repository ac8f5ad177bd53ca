package mqtingestor

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
)

// HandlerFunc processes one message
type HandlerFunc func(topic string, payload []byte) error

type message struct {
	topic   string
	payload []byte
}

// Dispatcher runs messages on a fixed set of lanes. All messages of one uid
// land on the same lane, so they are handled in arrival order while different
// devices proceed concurrently.
type Dispatcher struct {
	handle HandlerFunc
	lanes  []chan message
	logger *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(handle HandlerFunc, lanes, buffer int, log *logger.Logger) *Dispatcher {
	if lanes < 1 {
		lanes = 1
	}
	d := &Dispatcher{
		handle: handle,
		lanes:  make([]chan message, lanes),
		logger: log.WithComponent("dispatcher"),
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan message, buffer)
		d.wg.Add(1)
		go d.run(d.lanes[i])
	}
	return d
}

// Dispatch queues a message, blocking while its lane is full.
// It returns false once the dispatcher is closed.
func (d *Dispatcher) Dispatch(topic string, payload []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.lanes[d.laneFor(payload)] <- message{topic: topic, payload: payload}
	return true
}

// Close stops accepting messages and waits until every queued one is handled
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, lane := range d.lanes {
		close(lane)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Dispatcher drained")
}

func (d *Dispatcher) run(lane <-chan message) {
	defer d.wg.Done()
	for msg := range lane {
		// failures are logged by the handler
		_ = d.handle(msg.topic, msg.payload)
	}
}

// laneFor hashes the payload uid. Unparseable payloads all share lane 0.
func (d *Dispatcher) laneFor(payload []byte) int {
	var probe struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.UID == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(probe.UID))
	return int(h.Sum32() % uint32(len(d.lanes)))
}
