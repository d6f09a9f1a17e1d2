// Package scheduler triggers workspace syncs on cron schedules. Runs for
// the same workspace are serialized: the persistence passes are not safe to
// interleave for one workspace, so an overlapping trigger is skipped.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/fernwake/prodsync/internal/collector"
	"github.com/fernwake/prodsync/internal/config"
	"github.com/fernwake/prodsync/internal/hierarchy"
	"github.com/fernwake/prodsync/internal/notify"
	"github.com/fernwake/prodsync/internal/syncrun"
)

// Scheduler owns the cron table and the per-workspace run locks.
type Scheduler struct {
	db       *gorm.DB
	cfg      *config.Config
	notifier notify.Notifier
	cron     *cron.Cron

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// newAPI is swappable for tests.
	newAPI func(baseURL, apiKey string) hierarchy.API
}

// New returns a Scheduler for the workspaces in cfg.
func New(db *gorm.DB, cfg *config.Config, notifier notify.Notifier) *Scheduler {
	return &Scheduler{
		db:       db,
		cfg:      cfg,
		notifier: notifier,
		cron:     cron.New(),
		locks:    make(map[string]*sync.Mutex),
		newAPI: func(baseURL, apiKey string) hierarchy.API {
			return hierarchy.NewClient(baseURL, apiKey)
		},
	}
}

// Start registers every scheduled workspace and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	registered := 0
	for _, w := range s.cfg.Workspaces {
		if w.Schedule == "" {
			continue
		}
		_, err := s.cron.AddFunc(w.Schedule, func() {
			s.RunWorkspace(ctx, w)
		})
		if err != nil {
			return fmt.Errorf("scheduler: workspace %s schedule %q: %w", w.ID, w.Schedule, err)
		}
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("scheduler: no workspaces with schedules configured")
	}

	s.cron.Start()
	log.Printf("scheduler: %d workspace schedule(s) active", registered)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// RunWorkspace executes one sync for a configured workspace. If a run for
// that workspace is still in flight the trigger is skipped, not queued.
func (s *Scheduler) RunWorkspace(ctx context.Context, w config.WorkspaceConfig) {
	lock := s.workspaceLock(w.ID)
	if !lock.TryLock() {
		log.Printf("scheduler: workspace %s: previous run still in flight, skipping", w.ID)
		return
	}
	defer lock.Unlock()

	apiKey := os.Getenv(w.APIKeyEnv)
	if apiKey == "" {
		log.Printf("scheduler: workspace %s: %s is not set, skipping", w.ID, w.APIKeyEnv)
		return
	}

	initiatives, components, features := w.Includes()
	filters := collector.Filters{
		ProductID:          w.ProductID,
		InitiativeID:       w.InitiativeID,
		IncludeInitiatives: initiatives,
		IncludeComponents:  components,
		IncludeFeatures:    features,
		MaxDepth:           w.MaxDepth,
	}

	opts := syncrun.Options{
		BatchSize:   s.cfg.Sync.BatchSize,
		Concurrency: s.cfg.Sync.Concurrency,
		Timeout:     s.cfg.Sync.Timeout(),
	}
	api := s.newAPI(s.cfg.Source.BaseURL, apiKey)

	out, err := syncrun.New(s.db, opts).Run(ctx, api, w.ID, filters)
	if err != nil {
		log.Printf("scheduler: workspace %s: run failed: %v", w.ID, err)
	} else {
		log.Printf("scheduler: workspace %s: run %s completed", w.ID, out.Run.ID)
	}
	if s.notifier != nil && out != nil {
		s.notifier.RunFinished(out.Run)
	}
}

func (s *Scheduler) workspaceLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}
