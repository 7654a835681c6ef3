// cmd/modbus-master/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/config"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/metrics"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/network"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/registry"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/sink"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/sink/eventlog"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/sink/mirror"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/sink/mqtt"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
)

const statusEvery = time.Minute

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		boot.Fatal().Msg("usage: modbus-master <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("config load failed")
	}

	if err := config.Validate(cfg); err != nil {
		boot.Fatal().Err(err).Msg("config validation failed")
	}
	config.Normalize(cfg)

	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Metrics
	// --------------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var srv *http.Server
	if mc := cfg.Sinks.Metrics; mc != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: mc.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("listen", mc.Listen).Msg("metrics server failed")
			}
		}()
	}

	// --------------------
	// Consumers
	// --------------------

	var (
		consumers []registry.Consumer
		closers   []func() error
		queues    = make(map[string]dropper)
	)

	if cfg.Sinks.Log {
		consumers = append(consumers, sink.NewLog(log))
	}

	if mc := cfg.Sinks.MQTT; mc != nil {
		s, err := mqtt.Dial(mqtt.Config{
			Broker:      mc.Broker,
			ClientID:    mc.ClientID,
			Username:    mc.Username,
			Password:    mc.Password,
			TopicPrefix: mc.TopicPrefix,
			QoS:         mc.QoS,
			Retained:    mc.Retained,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt sink failed")
		}
		consumers = append(consumers, s)
		closers = append(closers, s.Close)
		queues["mqtt"] = s
	}

	if ec := cfg.Sinks.EventLog; ec != nil {
		l, err := eventlog.Open(ec.Path, log)
		if err != nil {
			log.Fatal().Err(err).Msg("event log sink failed")
		}
		consumers = append(consumers, l)
		closers = append(closers, l.Close)
	}

	if len(consumers) == 0 && !anyMirror(cfg) {
		log.Warn().Msg("no sink enabled, values are polled but not delivered")
	}

	// --------------------
	// Network
	// --------------------

	nw := network.New(cfg.Engine(), network.WithLogger(log), network.WithMetrics(m))

	registered := 0
	for _, g := range cfg.Gateways {
		ds, err := g.Descriptors()
		if err != nil {
			log.Fatal().Err(err).Msg("register mapping failed")
		}

		targets := consumers
		if mirrored, closeMirror := newMirror(g, cfg.Engine().DefaultTimeout, log); mirrored != nil {
			targets = append(append([]registry.Consumer(nil), consumers...), mirrored)
			closers = append(closers, closeMirror)
			queues["mirror:"+g.Name] = mirrored
		}
		if len(targets) == 0 {
			targets = []registry.Consumer{discard{}}
		}

		for _, d := range ds {
			for _, c := range targets {
				if err := nw.AddRegister(d, c); err != nil {
					log.Fatal().Err(err).Str("register", d.Key().String()).Msg("registration failed")
				}
			}
		}
		registered += len(ds)
	}

	log.Info().
		Int("gateways", len(cfg.Gateways)).
		Int("registers", registered).
		Int("consumers", len(consumers)).
		Msg("modbus master running")

	// --------------------
	// Status ticker until shutdown
	// --------------------

	ticker := time.NewTicker(statusEvery)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			for _, s := range nw.Status() {
				log.Info().
					Str("gateway", s.Gateway).
					Bool("connected", s.Connected).
					Bool("reconnecting", s.Reconnect).
					Bool("gave_up", s.Terminal).
					Int("trials", s.Trials).
					Int("registers", s.Registers).
					Int("blacklisted", s.Blacklisted).
					Msg("gateway status")
			}
			for name, q := range queues {
				if n := q.Dropped(); n > 0 {
					log.Warn().Str("sink", name).Uint64("dropped", n).Msg("sink queue overflowed")
				}
			}
		}
	}

	// --------------------
	// Shutdown: pollers and connections first, then sinks
	// --------------------

	log.Info().Msg("shutting down")

	if err := nw.Close(); err != nil {
		log.Warn().Err(err).Msg("network close")
	}
	for _, c := range closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("sink close")
		}
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if c.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

// dropper is a sink that sheds updates when its queue is full.
type dropper interface {
	Dropped() uint64
}

// newMirror builds the mirror sink of g, or nil when g is not mirrored.
// The returned closer drains the sink before closing its connection.
func newMirror(g config.GatewayConfig, timeout time.Duration, log zerolog.Logger) (*mirror.Sink, func() error) {
	target, mc, ok, err := g.MirrorTarget()
	if err != nil {
		log.Fatal().Err(err).Str("gateway", g.Name).Msg("mirror mapping failed")
	}
	if !ok {
		return nil, nil
	}

	mlog := log.With().Str("gateway", g.Name).Str("target", target.ID()).Logger()
	cli := mirror.NewEndpointClient(target, transport.Options{Timeout: timeout, Logger: mlog})
	s := mirror.New(cli, mc, mlog)

	mlog.Info().Uint8("slave_id", mc.SlaveID).Uint16("offset", mc.Offset).Msg("mirroring enabled")

	return s, func() error {
		return errors.Join(s.Close(), cli.Close())
	}
}

func anyMirror(cfg *config.Config) bool {
	for _, g := range cfg.Gateways {
		if g.Mirror != nil {
			return true
		}
	}
	return false
}
