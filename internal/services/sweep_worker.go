package services

import (
	"context"
	"sync"
	"time"

	"capsule-vault/pkg/logger"
)

// SweepWorker invokes the expiry sweep on a fixed interval.
type SweepWorker struct {
	service  *CapsuleService
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	log      *logger.Logger
}

func NewSweepWorker(service *CapsuleService, interval time.Duration, log *logger.Logger) *SweepWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SweepWorker{
		service:  service,
		interval: interval,
		stopChan: make(chan struct{}),
		log:      log,
	}
}

// Start begins the worker loop
func (w *SweepWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop gracefully shuts down
func (w *SweepWorker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *SweepWorker) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *SweepWorker) sweep() {
	ctx := context.Background()
	deleted, err := w.service.SweepExpired(ctx)
	if err != nil {
		if w.log != nil {
			w.log.Errorf("expiry sweep failed: %v", err)
		}
		return
	}
	if len(deleted) > 0 && w.log != nil {
		w.log.Infof("expiry sweep removed %d capsule(s)", len(deleted))
	}
}
