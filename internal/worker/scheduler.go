package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mailship/mailship/internal/mailing"
)

// Scheduler promotes scheduled campaigns whose send time has passed: it
// builds their queue and flips them to sending.
type Scheduler struct {
	store    *mailing.Store
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a campaign scheduler.
func NewScheduler(store *mailing.Store, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{store: store, interval: interval}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.run()
	log.Printf("[Scheduler] started (interval=%s)", s.interval)
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("[Scheduler] stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.PromoteDue(context.Background())
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.PromoteDue(context.Background())
		}
	}
}

// PromoteDue finds due scheduled campaigns, queues their recipients and marks
// them sending. Returns the number of campaigns promoted.
func (s *Scheduler) PromoteDue(ctx context.Context) int {
	campaigns, err := s.store.DueCampaigns(ctx, time.Now())
	if err != nil {
		log.Printf("[Scheduler] due campaigns: %v", err)
		return 0
	}

	promoted := 0
	for _, c := range campaigns {
		queued, err := s.store.BuildQueue(ctx, c.ID, time.Now())
		if err != nil {
			log.Printf("[Scheduler] build queue for campaign %d: %v", c.ID, err)
			continue
		}
		status := mailing.CampaignSending
		if queued == 0 {
			// With nothing queued and nothing in flight the processor will
			// never touch this campaign; close it out here.
			pending, err := s.store.PendingCount(ctx, c.ID)
			if err != nil {
				log.Printf("[Scheduler] pending count for campaign %d: %v", c.ID, err)
				continue
			}
			if pending == 0 {
				status = mailing.CampaignSent
			}
		}
		if err := s.store.SetCampaignStatus(ctx, c.ID, status); err != nil {
			log.Printf("[Scheduler] promote campaign %d: %v", c.ID, err)
			continue
		}
		log.Printf("[Scheduler] campaign %d promoted to %s (%d queued)", c.ID, status, queued)
		promoted++
	}
	return promoted
}
