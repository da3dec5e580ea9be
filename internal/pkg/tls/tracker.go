package tls

import (
	"sync"
	"time"
)

// FlowKey identifies a TCP connection by its four-tuple, used to
// correlate a ClientHello with the ServerHello that answers it.
type FlowKey string

// NewFlowKey builds a FlowKey from a connection's four-tuple.
func NewFlowKey(srcIP, dstIP string, srcPort, dstPort uint16) FlowKey {
	return FlowKey(srcIP + ":" + itoa(srcPort) + "-" + dstIP + ":" + itoa(dstPort))
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ConnectionRecord holds the handshake messages observed for one TCP
// flow, correlated by Tracker.
type ConnectionRecord struct {
	ClientHello *ClientHello
	ServerHello *ServerHello

	firstSeen time.Time
	lastSeen  time.Time
}

// Complete reports whether both halves of the handshake have been seen.
func (c *ConnectionRecord) Complete() bool {
	return c.ClientHello != nil && c.ServerHello != nil
}

// TrackerConfig configures Tracker's retention of incomplete flows.
type TrackerConfig struct {
	// FlowTTL is how long an incomplete flow (ClientHello seen, no
	// ServerHello yet) is retained before eviction. Default: 2 minutes.
	FlowTTL time.Duration

	// CleanupInterval is how often the eviction sweep runs. Default: 30s.
	CleanupInterval time.Duration
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		FlowTTL:         2 * time.Minute,
		CleanupInterval: 30 * time.Second,
	}
}

// Tracker correlates ClientHello and ServerHello messages observed on the
// same TCP flow, and builds the hostname-to-server-IP map a passive
// observer can derive from SNI plus the flow's destination address.
type Tracker struct {
	config TrackerConfig
	mu     sync.RWMutex
	flows  map[FlowKey]*ConnectionRecord

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTracker creates a Tracker and starts its background eviction loop.
func NewTracker(config TrackerConfig) *Tracker {
	if config.FlowTTL <= 0 {
		config.FlowTTL = DefaultTrackerConfig().FlowTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultTrackerConfig().CleanupInterval
	}

	t := &Tracker{
		config:   config,
		flows:    make(map[FlowKey]*ConnectionRecord),
		stopChan: make(chan struct{}),
	}

	t.wg.Add(1)
	go t.cleanupLoop()

	return t
}

// TrackClientHello records a ClientHello seen on key.
func (t *Tracker) TrackClientHello(key FlowKey, ch *ClientHello) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	rec, exists := t.flows[key]
	if !exists {
		rec = &ConnectionRecord{firstSeen: now}
		t.flows[key] = rec
	}
	rec.ClientHello = ch
	rec.lastSeen = now
}

// CorrelateServerHello records a ServerHello seen on key and returns the
// flow's ConnectionRecord, creating it if key was unseen. The record is
// Complete only if a ClientHello was already tracked for this flow.
func (t *Tracker) CorrelateServerHello(key FlowKey, sh *ServerHello) *ConnectionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.flows[key]
	if !exists {
		rec = &ConnectionRecord{firstSeen: time.Now()}
		t.flows[key] = rec
	}
	rec.ServerHello = sh
	rec.lastSeen = time.Now()
	return rec
}

// Get returns the ConnectionRecord for key, or nil if unseen.
func (t *Tracker) Get(key FlowKey) *ConnectionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.flows[key]
}

// SNIToIP builds a hostname-to-destination-IP map from every completed
// flow, the correlation original_source calls get_sni_to_ip: a hostname
// seen in a ClientHello's SNI resolves to the server address that
// answered the handshake on the same flow.
func (t *Tracker) SNIToIP(destIPByKey map[FlowKey]string) map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]string)
	for key, rec := range t.flows {
		if !rec.Complete() {
			continue
		}
		sni, err := GetSNI(rec.ClientHello)
		if err != nil {
			continue
		}
		if ip, ok := destIPByKey[key]; ok {
			result[sni] = ip
		}
	}
	return result
}

// Stop stops the background eviction loop.
func (t *Tracker) Stop() {
	close(t.stopChan)
	t.wg.Wait()
}

func (t *Tracker) cleanupLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopChan:
			return
		}
	}
}

func (t *Tracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, rec := range t.flows {
		if rec.Complete() {
			continue
		}
		if now.Sub(rec.lastSeen) > t.config.FlowTTL {
			delete(t.flows, key)
		}
	}
}
