package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/junctionhq/junction/pkg/api"
	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/config"
	"github.com/junctionhq/junction/pkg/deintegration"
	"github.com/junctionhq/junction/pkg/discovery"
	"github.com/junctionhq/junction/pkg/log"
	"github.com/junctionhq/junction/pkg/ports"
	"github.com/junctionhq/junction/pkg/registry"
	"github.com/junctionhq/junction/pkg/storage"
	"github.com/junctionhq/junction/pkg/webhook"
)

// Hub wires every component together and owns their lifecycles.
type Hub struct {
	cfg *config.Config

	bus       *bus.Bus
	store     *storage.BoltStore
	allocator *ports.Allocator
	deliverer *webhook.Deliverer
	registry  *registry.Registry
	manager   *deintegration.Manager
	// scanner and transport are nil when their config sections are
	// disabled.
	scanner   *discovery.Scanner
	transport *bus.RedisTransport
	server    *api.Server

	cancel context.CancelFunc
	group  *errgroup.Group

	logger zerolog.Logger
}

// New builds a Hub from cfg. Nothing runs until Start.
func New(cfg *config.Config) (*Hub, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	b := bus.New(bus.Options{
		NodeID:         cfg.Node.ID,
		MaxHistorySize: cfg.EventBus.MaxHistorySize,
		DefaultTTL:     cfg.EventBus.DefaultTTL,
	})

	allocator := ports.NewAllocator(cfg.PortRange.Min, cfg.PortRange.Max)
	deliverer := webhook.NewDeliverer(webhook.Options{
		MaxConcurrent: int64(cfg.Webhook.MaxConcurrentDeliveries),
		Timeout:       cfg.Webhook.DeliveryTimeout,
	})

	reg := registry.New(registry.Options{
		Allocator:            allocator,
		Bus:                  b,
		Store:                store,
		Deliverer:            deliverer,
		DevelopmentMode:      cfg.DevelopmentMode,
		DefaultProbeInterval: cfg.HealthCheck.DefaultInterval,
		DefaultProbeTimeout:  cfg.HealthCheck.DefaultTimeout,
	})

	manager, err := deintegration.NewManager(deintegration.Options{
		Registry: reg,
		Bus:      b,
		Store:    store,
		Dir:      cfg.DeintegrationPath,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	h := &Hub{
		cfg:       cfg,
		bus:       b,
		store:     store,
		allocator: allocator,
		deliverer: deliverer,
		registry:  reg,
		manager:   manager,
		logger:    log.WithComponent("hub"),
	}

	if cfg.AutoDiscovery.Enabled {
		h.scanner = discovery.NewScanner(discovery.Options{
			Manager:  reg,
			Bus:      b,
			Interval: cfg.AutoDiscovery.ScanInterval,
		})
	}
	if cfg.Redis.Enabled {
		h.transport = bus.NewRedisTransport(cfg.Redis.Addr, cfg.Redis.Channel)
	}

	h.server = api.NewServer(api.Options{
		Registry: reg,
		Manager:  manager,
		Bus:      b,
		Scanner:  h.scanner,
	})

	return h, nil
}

// Start brings the hub up: the bus, the distributed transport, the
// persisted records, the discovery loop, and the API listener.
func (h *Hub) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)
	h.group, ctx = errgroup.WithContext(ctx)

	if h.transport != nil {
		h.bus.SetTransport(h.transport)
	}
	h.bus.Start()

	if h.transport != nil {
		h.group.Go(func() error {
			return h.transport.Run(ctx, h.bus.Inject)
		})
	}

	if err := h.registry.LoadPersisted(ctx); err != nil {
		return err
	}

	if h.scanner != nil {
		h.scanner.Start(ctx)
	}

	h.group.Go(func() error {
		return h.server.Start(h.cfg.API.ListenAddr)
	})

	h.logger.Info().
		Str("node_id", h.bus.NodeID()).
		Str("listen_addr", h.cfg.API.ListenAddr).
		Bool("discovery", h.scanner != nil).
		Bool("distributed", h.transport != nil).
		Msg("hub started")
	return nil
}

// Wait blocks until a background component fails or Shutdown runs.
func (h *Hub) Wait() error {
	return h.group.Wait()
}

// Shutdown stops everything in dependency order.
func (h *Hub) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if h.scanner != nil {
		h.scanner.Stop()
	}
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("api shutdown failed")
	}
	h.manager.Stop()
	h.registry.Close()
	if h.transport != nil {
		_ = h.transport.Close()
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.bus.Stop()

	err := h.store.Close()
	h.logger.Info().Msg("hub stopped")
	return err
}
