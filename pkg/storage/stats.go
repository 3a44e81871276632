package storage

import (
	"context"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// KindStats holds ticket counts for one request kind.
type KindStats struct {
	Kind      core.RequestKind `json:"kind"`
	Pending   int64            `json:"pending"`
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
}

// Stats returns ticket counts grouped by request kind and outcome.
func (s *GormStorage) Stats(ctx context.Context) ([]*KindStats, error) {
	type row struct {
		RequestKind string
		Completed   bool
		Success     *bool
		Count       int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.QueueRecord{}).
		Select("request_kind, completed, success, count(*) as count").
		Group("request_kind, completed, success").
		Find(&rows).Error
	if err != nil {
		return nil, core.NewStorageError("stats", err)
	}

	statsMap := make(map[core.RequestKind]*KindStats)
	var order []core.RequestKind
	for _, r := range rows {
		kind := core.RequestKind(r.RequestKind)
		ks, ok := statsMap[kind]
		if !ok {
			ks = &KindStats{Kind: kind}
			statsMap[kind] = ks
			order = append(order, kind)
		}
		switch {
		case !r.Completed:
			ks.Pending += r.Count
		case r.Success != nil && *r.Success:
			ks.Succeeded += r.Count
		default:
			ks.Failed += r.Count
		}
	}

	result := make([]*KindStats, 0, len(order))
	for _, k := range order {
		result = append(result, statsMap[k])
	}
	return result, nil
}
