package ssh

import (
	"fmt"

	"fleetssh/internal/logger"

	"github.com/robfig/cron/v3"
)

// Sweeper runs Pool.Sweep on a cron schedule. Without one, dead sessions are
// only noticed when they are next acquired.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper accepts standard cron expressions and descriptors such as "@every 5m".
func (p *Pool) StartSweeper(schedule string) (*Sweeper, error) {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		if evicted := p.Sweep(); evicted > 0 {
			logger.Info("Swept %d disconnected ssh session(s)", evicted)
		}
	})

	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	c.Start()

	logger.Info("ssh session sweeper started (schedule: %s)", schedule)

	return &Sweeper{cron: c}, nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
