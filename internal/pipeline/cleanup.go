package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cleanup deletes terminal tenders past the retention window. Notifications
// go with them through the cascade; payments, clients, and participants stay
// because they carry money and lead history.
func (p *Pipeline) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -p.cfg.Retention.Days)
	deleted, err := p.store.DeleteExpiredTenders(ctx, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "cleanup: delete expired")
	}

	if deleted > 0 {
		p.log.Info("cleanup finished",
			zap.Int("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
