package booking

import (
	"context"
	"encoding/json"
	"time"

	"slotbook/api"
	"slotbook/cache"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypePaymentCheck = "payment:check"

// paymentCheckPayload is the task body the watcher passes through the queue.
type paymentCheckPayload struct {
	UserID     int64    `json:"user_id"`
	Baseline   []string `json:"baseline"`
	DeadlineMS int64    `json:"deadline_ms"`
}

// Watcher is the slow background settlement poll. When the in-app fast poll
// exhausts its attempts, the session is handed to a delayed queue task that
// keeps re-checking the club document at a relaxed cadence until settlement
// or the deadline. Failures never reach the user; the queue just tries again.
type Watcher struct {
	client   *asynq.Client
	docs     *api.DocsClient
	cache    *cache.Cache
	cacheTTL time.Duration
	interval time.Duration
	logger   *zap.Logger
}

var _ SettlementWatcher = (*Watcher)(nil)

func NewWatcher(redisOpt asynq.RedisClientOpt, docs *api.DocsClient, c *cache.Cache, cacheTTL, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		client:   asynq.NewClient(redisOpt),
		docs:     docs,
		cache:    c,
		cacheTTL: cacheTTL,
		interval: interval,
		logger:   logger,
	}
}

// Enqueue schedules the first background check.
func (w *Watcher) Enqueue(userID int64, baseline []string, deadline time.Time) error {
	return w.enqueue(paymentCheckPayload{
		UserID:     userID,
		Baseline:   baseline,
		DeadlineMS: deadline.UnixMilli(),
	})
}

func (w *Watcher) enqueue(p paymentCheckPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypePaymentCheck, payload)
	_, err = w.client.Enqueue(task, asynq.ProcessIn(w.interval), asynq.MaxRetry(0))
	return err
}

// HandlePaymentCheck processes one queued check: detect settlement, or
// re-enqueue until the deadline passes.
func (w *Watcher) HandlePaymentCheck(ctx context.Context, task *asynq.Task) error {
	var p paymentCheckPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		w.logger.Error("invalid payment check payload", zap.Error(err))
		return err
	}

	baseline := make(map[string]struct{}, len(p.Baseline))
	for _, k := range p.Baseline {
		baseline[k] = struct{}{}
	}

	doc, err := w.docs.FetchClub(ctx)
	if err == nil {
		for _, pay := range doc.SettledFor(p.UserID) {
			if _, known := baseline[pay.PaidAt]; !known {
				w.logger.Info("background watcher detected settlement",
					zap.Int64("user", p.UserID))
				if err := w.cache.Set(ctx, keyClub, doc, w.cacheTTL); err != nil {
					w.logger.Warn("club cache update failed", zap.Error(err))
				}
				for _, prefix := range []string{"dates_", "slots_"} {
					if err := w.cache.ClearPrefix(ctx, prefix); err != nil {
						w.logger.Warn("cache invalidation failed", zap.Error(err))
					}
				}
				if err := w.cache.Clear(ctx, keyBookings); err != nil {
					w.logger.Warn("cache invalidation failed", zap.Error(err))
				}
				return nil
			}
		}
	} else {
		w.logger.Debug("background watcher fetch failed", zap.Error(err))
	}

	if time.Now().UnixMilli() >= p.DeadlineMS {
		w.logger.Info("background watcher deadline reached, giving up",
			zap.Int64("user", p.UserID))
		return nil
	}
	return w.enqueue(p)
}

// Close releases the queue client.
func (w *Watcher) Close() error {
	return w.client.Close()
}

// RunWorker starts the queue worker that serves payment checks. It retries
// startup a few times before giving up, then blocks until the server stops.
func RunWorker(redisOpt asynq.RedisClientOpt, w *Watcher, logger *zap.Logger) *asynq.Server {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{"default": 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePaymentCheck, w.HandlePaymentCheck)

	go func() {
		const maxAttempts = 5
		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				logger.Error("payment watcher worker failed to start",
					zap.Int("attempt", attempts), zap.Error(err))
				if attempts == maxAttempts {
					logger.Fatal("payment watcher worker gave up starting")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()
	return srv
}
