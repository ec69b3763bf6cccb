package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/geodata-aggregation/internal/pipeline"
	"github.com/i474232898/geodata-aggregation/internal/provider"
)

// Target names one dataset parameter whose recent assets get prefetched.
type Target struct {
	DatasetID string
	Parameter string
}

// Scheduler periodically warms the asset cache for configured targets so
// interactive requests hit local disk instead of the remote source.
type Scheduler struct {
	scheduler *gocron.Scheduler
	providers map[string]pipeline.AssetFetcher
	targets   []Target
	days      int
	interval  time.Duration
}

// New creates a new Scheduler. days controls how far back from today the
// warmup reaches.
func New(targets []Target, days int, interval time.Duration, providers map[string]pipeline.AssetFetcher) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		providers: providers,
		targets:   targets,
		days:      days,
		interval:  interval,
	}
}

// Start schedules the periodic warmup and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.targets) == 0 {
		log.Println("scheduler: no warmup targets configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}
	days := s.days
	if days <= 0 {
		days = 7
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		log.Println("scheduler: running cache warmup job")

		today := time.Now().UTC().Truncate(24 * time.Hour)
		var wg sync.WaitGroup
		for _, target := range s.targets {
			fetcher, ok := s.providers[target.DatasetID]
			if !ok {
				log.Printf("scheduler: no provider for dataset %s; skipping", target.DatasetID)
				continue
			}
			target := target
			wg.Add(1)
			go func() {
				defer wg.Done()
				for offset := 1; offset <= days; offset++ {
					day := today.AddDate(0, 0, -offset)

					ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
					key := provider.NewKey(target.DatasetID, target.Parameter, day, 1)
					if _, err := fetcher.Fetch(ctx, key); err != nil {
						log.Printf("scheduler: warmup failed for %s: %v", key, err)
					}
					cancel()
				}
			}()
		}
		wg.Wait()
		log.Println("scheduler: completed cache warmup job")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
