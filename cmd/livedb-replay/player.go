package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/livedb"
	"github.com/andreyvit/livedb/partialsync"
	"github.com/andreyvit/livedb/store"
)

// Delivery is one output line: a change set delivered to a query's listener.
type Delivery struct {
	Query  string           `json:"query"`
	Step   int              `json:"step"`
	Rows   int              `json:"rows"`
	Change livedb.ChangeSet `json:"change"`
}

type player struct {
	sc     *Scenario
	cfg    Config
	logger zerolog.Logger

	server *store.DB
	local  *store.DB
	srv    *partialsync.MemoryServer
	client *partialsync.Client
	loop   *livedb.Loop

	// owned by the loop goroutine
	results []*livedb.Results
	enc     *json.Encoder
	step    int
	outErr  error
}

// Replay plays sc, writing every delivered change set to out as a JSON line.
// The delivery loop runs on its own goroutine next to the scenario.
func Replay(ctx context.Context, sc *Scenario, cfg Config, logger zerolog.Logger, out io.Writer) (err error) {
	p := &player{
		sc:     sc,
		cfg:    cfg,
		logger: logger,
		enc:    json.NewEncoder(out),
	}

	p.server, err = store.Open(store.MemoryPath, store.Options{Logger: &logger, Verbose: cfg.Verbose})
	if err != nil {
		return err
	}
	defer p.server.Close()
	if err := p.seedServer(); err != nil {
		return err
	}

	p.local, err = store.Open(cfg.DBPath, store.Options{Logger: &logger, Verbose: cfg.Verbose})
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.DBPath, err)
	}
	defer p.local.Close()

	p.srv = partialsync.NewMemoryServer(p.server)
	p.srv.SetOffline(sc.Offline)
	p.client = partialsync.New(p.local, p.srv, partialsync.Options{
		Logger:         &logger,
		Verbose:        cfg.Verbose,
		InitialBackoff: cfg.RetryBackoff,
		MaxRetries:     cfg.MaxRetries,
		OnConnectionChange: func(online bool) {
			logger.Info().Bool("online", online).Msg("server connection changed")
		},
	})
	defer p.client.Close()

	reg := prometheus.NewRegistry()
	metrics := livedb.NewMetrics(reg)
	p.loop = livedb.NewLoop(livedb.LoopOptions{Logger: &logger})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := p.loop.Run(gctx)
		if errors.Is(err, livedb.ErrClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer p.loop.Close()
		return p.play(gctx, metrics)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logMetrics(logger, reg)
	return nil
}

func (p *player) seedServer() error {
	return p.server.Write(func(tx *store.Tx) error {
		for _, table := range slices.Sorted(maps.Keys(p.sc.Server)) {
			for key, row := range p.sc.Server[table] {
				if err := tx.Put(table, key, row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (p *player) play(ctx context.Context, metrics *livedb.Metrics) error {
	sources := make([]livedb.Source, len(p.sc.Queries))
	for i, qs := range p.sc.Queries {
		if qs.Partial {
			src, err := p.client.Subscribe(qs.Query)
			if err != nil {
				return err
			}
			sources[i] = src
		} else {
			sources[i] = p.local.Source(qs.Query)
		}
	}

	err := p.onLoop(ctx, func() {
		for i, qs := range p.sc.Queries {
			r := livedb.NewResults(p.loop, sources[i], livedb.Options{
				Name:    qs.Name,
				Logger:  &p.logger,
				Verbose: p.cfg.Verbose,
				Metrics: metrics,
			})
			r.AddListener(p.listener(qs.Name))
			p.results = append(p.results, r)
		}
	})
	if err != nil {
		return err
	}

	for i, s := range p.sc.Steps {
		p.logger.Debug().Int("step", i+1).Stringer("action", s).Msg("replaying")
		if err := p.onLoop(ctx, func() { p.step = i + 1 }); err != nil {
			return err
		}
		if err := p.apply(ctx, s); err != nil {
			return fmt.Errorf("step %d (%v): %w", i+1, s, err)
		}
		// wait for the deliveries the step caused
		if err := p.onLoop(ctx, func() {}); err != nil {
			return err
		}
	}

	return p.onLoop(ctx, func() {
		for _, r := range p.results {
			p.logger.Info().Stringer("results", r).Msg("final state")
			r.Close()
		}
	})
}

func (p *player) apply(ctx context.Context, s Step) error {
	db := p.local
	if s.OnServer {
		db = p.server
	}
	switch {
	case s.Put != nil:
		return db.Write(func(tx *store.Tx) error {
			return tx.Put(s.Put.Table, s.Put.Key, s.Put.Row)
		})
	case s.Delete != nil:
		return db.Write(func(tx *store.Tx) error {
			_, err := tx.Delete(s.Delete.Table, s.Delete.Key)
			return err
		})
	case s.Online != nil:
		p.srv.SetOffline(!*s.Online)
		return nil
	case s.Sync:
		return p.client.Wait(ctx)
	default:
		return nil
	}
}

func (p *player) listener(name string) livedb.Listener {
	return func(snap livedb.Snapshot, cs livedb.ChangeSet) {
		d := Delivery{Query: name, Step: p.step, Change: cs}
		if snap != nil {
			d.Rows = snap.Len()
		}
		if err := p.enc.Encode(d); err != nil && p.outErr == nil {
			p.outErr = err
		}
	}
}

// onLoop runs f on the loop goroutine after every task posted before it, and
// reports output errors collected so far.
func (p *player) onLoop(ctx context.Context, f func()) error {
	done := make(chan error, 1)
	ok := p.loop.Post(func() {
		f()
		done <- p.outErr
	})
	if !ok {
		return livedb.ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func logMetrics(logger zerolog.Logger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logger.Warn().Err(err).Msg("gathering metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			if c := m.GetCounter(); c != nil {
				value = c.GetValue()
			} else if g := m.GetGauge(); g != nil {
				value = g.GetValue()
			} else {
				continue
			}
			ev := logger.Debug().Str("metric", mf.GetName())
			for _, l := range m.GetLabel() {
				ev = ev.Str(l.GetName(), l.GetValue())
			}
			ev.Float64("value", value).Msg("metric")
		}
	}
}
