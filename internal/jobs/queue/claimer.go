package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/wwfm-backend/internal/data/repos/ratings"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
)

// Claimer takes exclusive ownership of a queue entry. TryClaim returns false
// without error when someone else holds (or already finished) the entry.
type Claimer interface {
	TryClaim(ctx context.Context, entryID uuid.UUID) (bool, error)
}

type repoClaimer struct {
	repo repos.QueueRepo
	now  func() time.Time
}

// NewClaimer claims through a conditional UPDATE on processing, so exclusion
// holds across processes and hosts.
func NewClaimer(repo repos.QueueRepo, now func() time.Time) Claimer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &repoClaimer{repo: repo, now: now}
}

func (c *repoClaimer) TryClaim(ctx context.Context, entryID uuid.UUID) (bool, error) {
	return c.repo.TryClaim(dbctx.Context{Ctx: ctx}, entryID, c.now())
}
