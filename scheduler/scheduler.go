package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"relowatch/config"
	"relowatch/models"
	"relowatch/scraper"
)

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	ScrapeDue(ctx context.Context, now time.Time) (scraper.DueSummary, error)
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

// CommandQueue is the operator command table.
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

const commandPollInterval = 2 * time.Second

type Scheduler struct {
	cfg      config.SchedulerConfig
	runner   Runner
	commands CommandQueue
	cron     *cron.Cron
	stopCh   chan struct{}

	retentionWorker Triggerable
	pollInterval    time.Duration
}

func New(cfg config.SchedulerConfig, runner Runner, commands CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		commands:     commands,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollInterval: commandPollInterval,
	}
}

// SetWorkers registers background workers for manual triggering
func (s *Scheduler) SetWorkers(retention Triggerable) {
	s.retentionWorker = retention
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.commands != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.Cron == "" {
		log.Info("No schedule configured, daemon will only respond to commands and API calls")
		return nil
	}

	log.Info("Starting scheduler", "cron", s.cfg.Cron)
	_, err := s.cron.AddFunc(s.cfg.Cron, func() {
		s.runDue(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	close(s.stopCh)
}

func (s *Scheduler) runDue(ctx context.Context) {
	summary, err := s.runner.ScrapeDue(ctx, time.Now().UTC())
	if err != nil {
		log.Error("Scheduled run error", "error", err)
		return
	}
	if summary.Due > 0 {
		log.Info("Scheduled run finished", "due", summary.Due, "succeeded", summary.Succeeded, "failed", summary.Failed)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.commands.GetPendingCommands()
	if err != nil {
		log.Error("Error getting commands", "error", err)
		return
	}

	for _, cmd := range cmds {
		log.Info("Processing command", "command", cmd.Command, "id", cmd.ID)
		if err := s.handleCommand(ctx, &cmd); err != nil {
			log.Error("Command error", "command", cmd.Command, "error", err)
		}
		if err := s.commands.MarkCommandProcessed(cmd.ID); err != nil {
			log.Error("Error marking command processed", "id", cmd.ID, "error", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdRunRetention:
		if s.retentionWorker != nil {
			s.retentionWorker.Trigger()
			log.Info("Retention worker triggered via command")
		}
		return nil
	default:
		return s.runner.HandleCommand(ctx, cmd)
	}
}

func (s *Scheduler) TriggerNow(ctx context.Context) (scraper.DueSummary, error) {
	return s.runner.ScrapeDue(ctx, time.Now().UTC())
}
