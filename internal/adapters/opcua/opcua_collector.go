// Package opcua turns cumulative error counters exposed as OPC UA nodes, as
// published by BMCs and accelerator gateways, into classified errors.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps one counter node to the unit and error kind it reports.
type NodeConfig struct {
	NodeID string `yaml:"node_id"`
	Unit   int    `yaml:"unit"`
	Kind   string `yaml:"kind"`

	kind domain.ErrorKind
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisIsolate"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = time.Second
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].Kind == "" {
			c.Nodes[i].Kind = "corrected"
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.NodeID == "" {
			return fmt.Errorf("node %d: node_id is required", i)
		}
		if n.Unit < 0 {
			return fmt.Errorf("node %s: unit must be >= 0", n.NodeID)
		}
		k, err := domain.ParseErrorKind(n.Kind)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.NodeID, err)
		}
		n.kind = k
	}
	return nil
}

type Collector struct {
	cfg       Config
	obs       ports.Observability
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig
	counters  *counterTracker
	mu        sync.Mutex
	started   bool
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{
		cfg:      cfg,
		obs:      obs,
		counters: newCounterTracker(),
	}, nil
}

func (c *Collector) Name() string { return "opcua" }

func (c *Collector) Start(out chan<- *domain.ClassifiedError) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("opcua collector already started")
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(c.cfg.Endpoint, c.buildClientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: c.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if c.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q rejected by server", node.NodeID)
		}
		handleMap[handle] = node
	}

	c.mu.Lock()
	c.client = client
	c.sub = sub
	c.cancel = cancel
	c.handleMap = handleMap
	c.started = true
	c.mu.Unlock()

	c.obs.LogInfo("opcua_collector_started",
		ports.F("endpoint", c.cfg.Endpoint),
		ports.F("nodes", len(handleMap)))

	c.wg.Add(1)
	go c.consume(ctx, notifyCh, out)
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	sub := c.sub
	client := c.client
	c.started = false
	c.cancel = nil
	c.sub = nil
	c.client = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- *domain.ClassifiedError) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.obs.LogError("opcua_notification_error", notif.Error)
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range data.MonitoredItems {
				ev := c.classify(item)
				if ev == nil {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- ev:
				}
			}
		}
	}
}

// classify converts one data change into a classified error, or nil when
// the counter did not advance.
func (c *Collector) classify(item *ua.MonitoredItemNotification) *domain.ClassifiedError {
	if item == nil || item.Value == nil {
		return nil
	}
	node, ok := c.handleMap[item.ClientHandle]
	if !ok {
		return nil
	}
	v, ok := variantToUint(item.Value.Value)
	if !ok {
		c.obs.LogWarn("opcua_unsupported_value",
			ports.F("node", node.NodeID),
			ports.F("type", fmt.Sprintf("%T", item.Value.Value)))
		return nil
	}
	delta := c.counters.observe(node.NodeID, v)
	if delta == 0 {
		return nil
	}

	ts := item.Value.SourceTimestamp
	if ts.IsZero() {
		ts = item.Value.ServerTimestamp
	}
	return &domain.ClassifiedError{
		UnitID:    node.Unit,
		Kind:      node.kind,
		Magnitude: delta,
		Time:      ts,
		Source:    "opcua:" + node.NodeID,
	}
}

// counterTracker converts cumulative counters to deltas. The first reading of
// a node is its baseline; a decrease means the counter was reset and the new
// value is taken as the delta.
type counterTracker struct {
	mu   sync.Mutex
	last map[string]uint64
}

func newCounterTracker() *counterTracker {
	return &counterTracker{last: make(map[string]uint64)}
}

func (t *counterTracker) observe(node string, v uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, seen := t.last[node]
	t.last[node] = v
	switch {
	case !seen:
		return 0
	case v < prev:
		return v
	default:
		return v - prev
	}
}

func (c *Collector) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (c *Collector) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantToUint(v *ua.Variant) (uint64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case int8:
		return clampSigned(int64(val))
	case int16:
		return clampSigned(int64(val))
	case int32:
		return clampSigned(int64(val))
	case int64:
		return clampSigned(val)
	case float32:
		return clampSigned(int64(val))
	case float64:
		return clampSigned(int64(val))
	default:
		return 0, false
	}
}

func clampSigned(v int64) (uint64, bool) {
	if v < 0 {
		return 0, false
	}
	return uint64(v), true
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Collector = (*Collector)(nil)
