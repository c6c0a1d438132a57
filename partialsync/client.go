package partialsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/andreyvit/livedb"
	"github.com/andreyvit/livedb/store"
)

var ErrClosed = errors.New("partialsync: client closed")

type Options struct {
	Logger  *zerolog.Logger
	Verbose bool

	// InitialBackoff is the first delay between download attempts after a
	// transient error; it doubles up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetries bounds the retries of one download, 0 for no limit.
	// A download that runs out of retries leaves its subscription pending.
	MaxRetries uint64

	// OnConnectionChange is called from download goroutines whenever the
	// server goes from reachable to unreachable or back.
	OnConnectionChange func(online bool)

	Now func() time.Time
}

// Client maintains partial query subscriptions in a local store.DB and
// downloads their data from a Server.
type Client struct {
	db      *store.DB
	srv     Server
	opt     Options
	logger  zerolog.Logger
	verbose bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	downloads map[string]bool
	idle      chan struct{}
	online    bool
}

func New(db *store.DB, srv Server, opt Options) *Client {
	if opt.InitialBackoff <= 0 {
		opt.InitialBackoff = 100 * time.Millisecond
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = 10 * time.Second
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	c := &Client{
		db:        db,
		srv:       srv,
		opt:       opt,
		verbose:   opt.Verbose,
		downloads: make(map[string]bool),
		idle:      closedChan(),
		online:    true,
	}
	if opt.Logger != nil {
		c.logger = opt.Logger.With().Str("component", "partialsync").Logger()
	} else {
		c.logger = zerolog.Nop()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Subscribe returns a partial live query source for q, creating its
// subscription if needed and downloading its data in the background.
// Queries that are equal by their canonical text share one subscription.
func (c *Client) Subscribe(q store.Query) (livedb.Source, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	name := SubscriptionName(q)
	var sub *Subscription
	err := c.db.Write(func(tx *store.Tx) error {
		var err error
		sub, err = loadSubscription(tx, name)
		if err != nil || sub != nil {
			return err
		}
		now := c.opt.Now()
		sub = &Subscription{
			ID:        uuid.NewString(),
			Name:      name,
			Query:     q,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Put(subscriptionsTable, name, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("partialsync: subscribing to %s: %w", q, err)
	}
	if c.verbose {
		c.logger.Debug().Str("subscription", name).Str("id", sub.ID).Stringer("query", q).Str("status", string(sub.Status)).Msg("subscribed")
	}

	if sub.Status == StatusPending {
		if err := c.startDownload(sub.ID, name, q); err != nil {
			return nil, err
		}
	}
	return &source{db: c.db, name: name, id: sub.ID, q: q}, nil
}

// Subscriptions lists all subscription records ordered by name.
func (c *Client) Subscriptions() ([]*Subscription, error) {
	var result []*Subscription
	err := c.db.Read(func(tx *store.Tx) error {
		for _, name := range tx.Keys(subscriptionsTable) {
			sub, err := loadSubscription(tx, name)
			if err != nil {
				return err
			}
			result = append(result, sub)
		}
		return nil
	})
	return result, err
}

// Unsubscribe deletes a subscription record. Live results of its query fail
// on their next evaluation; downloaded rows stay in the local store.
func (c *Client) Unsubscribe(name string) (bool, error) {
	var existed bool
	err := c.db.Write(func(tx *store.Tx) error {
		var err error
		existed, err = tx.Delete(subscriptionsTable, name)
		return err
	})
	return existed, err
}

// Wait blocks until no downloads are in progress or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the downloads in progress and waits for them to stop.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) startDownload(id, name string, q store.Query) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.downloads[name] {
		return nil
	}
	if len(c.downloads) == 0 {
		c.idle = make(chan struct{})
	}
	c.downloads[name] = true
	c.wg.Add(1)
	go c.download(id, name, q)
	return nil
}

func (c *Client) finishDownload(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.downloads, name)
	if len(c.downloads) == 0 {
		close(c.idle)
	}
}

func (c *Client) download(id, name string, q store.Query) {
	defer c.wg.Done()
	defer c.finishDownload(name)

	logger := c.logger.With().Str("subscription", name).Logger()

	var records []Record
	attempt := 0
	err := retry.Do(c.ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		recs, err := c.srv.Query(ctx, q)
		if errors.Is(err, ErrTransient) {
			c.setOnline(false)
			logger.Warn().Err(err).Int("attempt", attempt).Msg("download failed, will retry")
			return retry.RetryableError(err)
		} else if err != nil {
			return err
		}
		c.setOnline(true)
		records = recs
		return nil
	})

	switch {
	case c.ctx.Err() != nil:
		return
	case errors.Is(err, ErrTransient):
		logger.Error().Err(err).Int("attempts", attempt).Msg("download abandoned")
		return
	case err != nil:
		logger.Warn().Err(err).Msg("subscription rejected")
		msg := rejectionMessage(err)
		err = c.commit(id, name, func(tx *store.Tx, sub *Subscription) error {
			sub.Status = StatusError
			sub.Error = msg
			return nil
		})
	default:
		err = c.commit(id, name, func(tx *store.Tx, sub *Subscription) error {
			for _, rec := range records {
				if err := tx.Put(rec.Table, rec.Key, rec.Row); err != nil {
					return err
				}
			}
			sub.Status = StatusComplete
			sub.Error = ""
			return nil
		})
		if err == nil && c.verbose {
			logger.Debug().Int("rows", len(records)).Msg("download complete")
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("saving subscription")
	}
}

// commit updates the subscription record in the same transaction as f's
// writes, unless the subscription was removed or replaced meanwhile.
func (c *Client) commit(id, name string, f func(tx *store.Tx, sub *Subscription) error) error {
	return c.db.Write(func(tx *store.Tx) error {
		sub, err := loadSubscription(tx, name)
		if err != nil {
			return err
		}
		if sub == nil || sub.ID != id {
			if c.verbose {
				c.logger.Debug().Str("subscription", name).Msg("subscription gone, dropping download")
			}
			return nil
		}
		if err := f(tx, sub); err != nil {
			return err
		}
		sub.UpdatedAt = c.opt.Now()
		return tx.Put(subscriptionsTable, name, sub)
	})
}

func (c *Client) backoff() retry.Backoff {
	b := retry.NewExponential(c.opt.InitialBackoff)
	b = retry.WithCappedDuration(c.opt.MaxBackoff, b)
	if c.opt.MaxRetries > 0 {
		b = retry.WithMaxRetries(c.opt.MaxRetries, b)
	}
	return b
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()
	if !changed {
		return
	}
	c.logger.Info().Bool("online", online).Msg("connection changed")
	if c.opt.OnConnectionChange != nil {
		c.opt.OnConnectionChange(online)
	}
}

func rejectionMessage(err error) string {
	var qe *livedb.QueryError
	if errors.As(err, &qe) && qe.Msg != "" {
		return qe.Msg
	}
	return err.Error()
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
