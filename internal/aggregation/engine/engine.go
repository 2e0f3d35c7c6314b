package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/yungbote/wwfm-backend/internal/aggregation/distribution"
	"github.com/yungbote/wwfm-backend/internal/aggregation/mapper"
	repos "github.com/yungbote/wwfm-backend/internal/data/repos/ratings"
	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

var ErrLinkNotFound = errors.New("engine: goal/implementation link not found")

// Engine rebuilds the aggregated_fields snapshot of a link from its raw
// ratings. Callers must not aggregate the same pair concurrently; the queue
// claim provides that exclusion.
type Engine struct {
	log     *logger.Logger
	ratings repos.RatingRepo
	links   repos.LinkRepo
	mapper  *mapper.Mapper
	metrics *observability.Metrics
	now     func() time.Time
}

func New(baseLog *logger.Logger, ratings repos.RatingRepo, links repos.LinkRepo, m *mapper.Mapper, metrics *observability.Metrics) *Engine {
	return &Engine{
		log:     baseLog.With("component", "AggregationEngine"),
		ratings: ratings,
		links:   links,
		mapper:  m,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AggregateLink recomputes and stores the snapshot of one pair. A pair with no
// ratings gets its dirty flag cleared and (nil, nil) is returned.
func (e *Engine) AggregateLink(ctx context.Context, goalID, implementationID uuid.UUID) (_ *types.AggregatedFields, err error) {
	ctx, span := observability.Tracer("aggregation").Start(ctx, "engine.AggregateLink")
	span.SetAttributes(
		attribute.String("goal_id", goalID.String()),
		attribute.String("implementation_id", implementationID.String()),
	)
	start := time.Now()
	fieldCount := 0
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.ObserveAggregation(status, fieldCount, time.Since(start))
		observability.EndSpan(span, err)
	}()

	dbc := dbctx.Context{Ctx: ctx}
	link, err := e.links.Get(dbc, goalID, implementationID)
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}

	rows, err := e.ratings.ListForPair(dbc, goalID, implementationID)
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}
	if len(rows) == 0 {
		if err := e.links.ClearDirty(dbc, goalID, implementationID, e.now()); err != nil {
			return nil, fmt.Errorf("clear dirty flag: %w", err)
		}
		return nil, nil
	}

	log := e.log.WithContext(ctx).With("goal_id", goalID, "implementation_id", implementationID)
	agg := e.build(log, link.SolutionCategory, rows)
	fieldCount = len(agg.Fields)

	blob, err := json.Marshal(agg)
	if err != nil {
		return nil, fmt.Errorf("encode aggregated fields: %w", err)
	}
	watermark := agg.Metadata.LastAggregated
	if err := e.links.WriteAggregation(dbc, goalID, implementationID, datatypes.JSON(blob), &watermark, e.now()); err != nil {
		return nil, fmt.Errorf("write aggregated fields: %w", err)
	}
	span.SetAttributes(
		attribute.Int("ratings", len(rows)),
		attribute.Int("fields", fieldCount),
	)
	log.Debug("link aggregated", "ratings", len(rows), "fields", fieldCount)
	return agg, nil
}

func (e *Engine) build(log *logger.Logger, category string, rows []*types.Rating) *types.AggregatedFields {
	byField := map[string][]string{}
	var human, ai int
	var watermark time.Time

	for _, row := range rows {
		switch row.DataSource {
		case types.SourceAI:
			ai++
		default:
			human++
		}
		if row.CreatedAt.After(watermark) {
			watermark = row.CreatedAt
		}

		fields, err := decodeFields(row.SolutionFields)
		if err != nil {
			log.Warn("skipping unreadable solution_fields", "rating_id", row.ID, "error", err)
			continue
		}
		for field, raw := range fields {
			if field == "" || field == types.MetadataKey {
				continue
			}
			for _, v := range flatten(raw) {
				res := e.mapper.MapToDropdownValue(field, v, category)
				if res.Value == "" {
					continue
				}
				if res.Miss() {
					log.Warn("field value not in dropdown options", "field", field, "value", res.Value, "category", category)
					e.metrics.IncMappingMiss(category, field)
				}
				byField[field] = append(byField[field], res.Value)
			}
		}
	}

	out := &types.AggregatedFields{
		Fields: make(map[string]distribution.Data, len(byField)),
		Metadata: types.AggregateMetadata{
			TotalRatings:   len(rows),
			LastAggregated: watermark.UTC(),
			DataSource:     sourceOf(human, ai),
			Confidence:     types.ConfidenceFor(len(rows)),
		},
	}
	for field, values := range byField {
		d, err := distribution.Build(values)
		if errors.Is(err, distribution.ErrEmptyDistribution) {
			continue
		}
		out.Fields[field] = d
	}
	return out
}

func sourceOf(human, ai int) types.AggregateSource {
	switch {
	case ai > 0 && human == 0:
		return types.AggregateSourceAI
	case human > 0 && ai == 0:
		return types.AggregateSourceUser
	default:
		return types.AggregateSourceMixed
	}
}

func decodeFields(raw datatypes.JSON) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// flatten turns one submitted field value into raw strings. Arrays contribute
// one value per element; nested objects and nulls contribute nothing.
func flatten(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case json.Number:
		return []string{formatNumber(t)}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	case bool:
		return []string{strconv.FormatBool(t)}
	case []interface{}:
		var out []string
		for _, el := range t {
			switch el.(type) {
			case []interface{}, map[string]interface{}:
				continue
			}
			out = append(out, flatten(el)...)
		}
		return out
	}
	return nil
}

// formatNumber renders 2, 2.0 and 2e0 identically.
func formatNumber(n json.Number) string {
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
