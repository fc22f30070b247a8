package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relowatch/config"
	"relowatch/models"
	"relowatch/scraper"
)

type fakeRunner struct {
	mu       sync.Mutex
	dueCalls int
	handled  []models.CommandType
	failOn   models.CommandType
}

func (f *fakeRunner) ScrapeDue(ctx context.Context, now time.Time) (scraper.DueSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dueCalls++
	return scraper.DueSummary{Due: 1, Succeeded: 1}, nil
}

func (f *fakeRunner) HandleCommand(ctx context.Context, cmd *models.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, cmd.Command)
	if cmd.Command == f.failOn {
		return errors.New("boom")
	}
	return nil
}

type fakeQueue struct {
	mu        sync.Mutex
	pending   []models.Command
	processed []int64
}

func (q *fakeQueue) GetPendingCommands() ([]models.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.Command
	for _, c := range q.pending {
		done := false
		for _, id := range q.processed {
			if id == c.ID {
				done = true
			}
		}
		if !done {
			out = append(out, c)
		}
	}
	return out, nil
}

func (q *fakeQueue) MarkCommandProcessed(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processed = append(q.processed, id)
	return nil
}

type countingWorker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWorker) Trigger() {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
}

func TestProcessCommands(t *testing.T) {
	runner := &fakeRunner{failOn: models.CmdScrapeWebsite}
	queue := &fakeQueue{pending: []models.Command{
		{ID: 1, Command: models.CmdPause},
		{ID: 2, Command: models.CmdScrapeWebsite},
		{ID: 3, Command: models.CmdRunRetention},
	}}
	worker := &countingWorker{}

	s := New(config.SchedulerConfig{}, runner, queue)
	s.SetWorkers(worker)
	s.processCommands(context.Background())

	if len(runner.handled) != 2 || runner.handled[0] != models.CmdPause || runner.handled[1] != models.CmdScrapeWebsite {
		t.Fatalf("handled = %v", runner.handled)
	}
	if worker.count != 1 {
		t.Errorf("retention triggered %d times", worker.count)
	}
	// failed commands are still marked so they are not retried forever
	if len(queue.processed) != 3 {
		t.Fatalf("processed = %v", queue.processed)
	}

	s.processCommands(context.Background())
	if len(runner.handled) != 2 {
		t.Errorf("commands handled twice: %v", runner.handled)
	}
}

func TestStartRejectsBadCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "every now and then"}, &fakeRunner{}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected invalid cron expression error")
	}
}

func TestPollCommandsUntilStopped(t *testing.T) {
	runner := &fakeRunner{}
	queue := &fakeQueue{pending: []models.Command{{ID: 7, Command: models.CmdResume}}}

	s := New(config.SchedulerConfig{}, runner, queue)
	s.pollInterval = 10 * time.Millisecond
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		queue.mu.Lock()
		n := len(queue.processed)
		queue.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("command was not processed")
}

func TestTriggerNow(t *testing.T) {
	runner := &fakeRunner{}
	s := New(config.SchedulerConfig{}, runner, nil)

	summary, err := s.TriggerNow(context.Background())
	if err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if summary.Succeeded != 1 || runner.dueCalls != 1 {
		t.Fatalf("summary = %+v, calls = %d", summary, runner.dueCalls)
	}
}
