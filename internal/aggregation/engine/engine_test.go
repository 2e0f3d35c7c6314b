package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/wwfm-backend/internal/aggregation/distribution"
	"github.com/yungbote/wwfm-backend/internal/aggregation/mapper"
	repos "github.com/yungbote/wwfm-backend/internal/data/repos/ratings"
	"github.com/yungbote/wwfm-backend/internal/data/repos/testutil"
	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
)

type fixture struct {
	db      *gorm.DB
	engine  *Engine
	links   repos.LinkRepo
	ratings repos.RatingRepo
	metrics *observability.Metrics
	goalID  uuid.UUID
	implID  uuid.UUID
	base    time.Time
}

func newFixture(t *testing.T, category string) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	opts, err := mapper.DefaultOptions()
	require.NoError(t, err)

	f := &fixture{
		db:      db,
		links:   repos.NewLinkRepo(db, log),
		ratings: repos.NewRatingRepo(db, log),
		metrics: observability.New(prometheus.NewRegistry()),
		goalID:  uuid.New(),
		implID:  uuid.New(),
		base:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(log, f.ratings, f.links, mapper.New(opts), f.metrics)
	f.engine.now = func() time.Time { return f.base.Add(time.Hour) }
	require.NoError(t, f.links.Ensure(dbctx.Context{Ctx: context.Background()}, f.goalID, f.implID, category, 0))
	return f
}

func (f *fixture) rate(t *testing.T, i int, source types.DataSource, fields string) {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	at := f.base.Add(time.Duration(i) * time.Minute)
	require.NoError(t, f.ratings.Create(dbc, &types.Rating{
		GoalID:             f.goalID,
		ImplementationID:   f.implID,
		EffectivenessScore: 4,
		SolutionFields:     datatypes.JSON(fields),
		DataSource:         source,
		CreatedAt:          at,
	}))
	link, err := f.links.Get(dbc, f.goalID, f.implID)
	require.NoError(t, err)
	require.NoError(t, f.links.ApplyRating(dbc, link.ID, 4, source, at))
}

func (f *fixture) storedBlob(t *testing.T) []byte {
	t.Helper()
	link, err := f.links.Get(dbctx.Context{Ctx: context.Background()}, f.goalID, f.implID)
	require.NoError(t, err)
	require.NotNil(t, link)
	return []byte(link.AggregatedFields)
}

func TestAggregateLinkTwiceDaily(t *testing.T) {
	f := newFixture(t, "supplements_vitamins")
	f.rate(t, 1, types.SourceHuman, `{"frequency":"Twice daily"}`)
	f.rate(t, 2, types.SourceHuman, `{"frequency":"twice daily"}`)
	f.rate(t, 3, types.SourceHuman, `{"frequency":"Once daily"}`)

	agg, err := f.engine.AggregateLink(context.Background(), f.goalID, f.implID)
	require.NoError(t, err)
	require.NotNil(t, agg)

	freq := agg.Fields["frequency"]
	assert.Equal(t, "Twice daily", freq.Mode)
	assert.Equal(t, 3, freq.TotalReports)
	assert.Equal(t, []distribution.Value{
		{Value: "Twice daily", Count: 2, Percentage: 67},
		{Value: "Once daily", Count: 1, Percentage: 33},
	}, freq.Values)

	assert.Equal(t, 3, agg.Metadata.TotalRatings)
	assert.Equal(t, types.AggregateSourceUser, agg.Metadata.DataSource)
	assert.Equal(t, types.ConfidenceMedium, agg.Metadata.Confidence)
	assert.True(t, agg.Metadata.LastAggregated.Equal(f.base.Add(3*time.Minute)))

	link, err := f.links.Get(dbctx.Context{Ctx: context.Background()}, f.goalID, f.implID)
	require.NoError(t, err)
	assert.False(t, link.NeedsAggregation)
	require.NotNil(t, link.LastAggregatedAt)

	var stored types.AggregatedFields
	require.NoError(t, json.Unmarshal(link.AggregatedFields, &stored))
	assert.Equal(t, freq, stored.Fields["frequency"])
}

func TestAggregateLinkKeepsUnmappedNearDuplicate(t *testing.T) {
	f := newFixture(t, "supplements_vitamins")
	f.rate(t, 1, types.SourceHuman, `{"frequency":"Twice daily"}`)
	f.rate(t, 2, types.SourceHuman, `{"frequency":"twice daily"}`)
	f.rate(t, 3, types.SourceHuman, `{"frequency":"2x per day"}`)

	agg, err := f.engine.AggregateLink(context.Background(), f.goalID, f.implID)
	require.NoError(t, err)
	require.NotNil(t, agg)

	freq := agg.Fields["frequency"]
	assert.Equal(t, "Twice daily", freq.Mode)
	assert.Equal(t, 3, freq.TotalReports)
	assert.Equal(t, []distribution.Value{
		{Value: "Twice daily", Count: 2, Percentage: 67},
		{Value: "2x per day", Count: 1, Percentage: 33},
	}, freq.Values)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.MappingMissCounter("supplements_vitamins", "frequency")))
}

func TestAggregateLinkIsIdempotent(t *testing.T) {
	f := newFixture(t, "medications")
	f.rate(t, 1, types.SourceHuman, `{"frequency":"BID","side_effects":["Nausea","upset stomach"],"dose_mg":50}`)
	f.rate(t, 2, types.SourceAI, `{"frequency":"Once daily","side_effects":["None"],"dose_mg":50.0}`)
	f.rate(t, 3, types.SourceHuman, `{"frequency":"2x per day","side_effects":[],"notes":"  "}`)

	_, err := f.engine.AggregateLink(context.Background(), f.goalID, f.implID)
	require.NoError(t, err)
	first := f.storedBlob(t)

	f.engine.now = func() time.Time { return f.base.Add(48 * time.Hour) }
	_, err = f.engine.AggregateLink(context.Background(), f.goalID, f.implID)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(f.storedBlob(t)))
}

func TestAggregateLinkFlattensAndMaps(t *testing.T) {
	f := newFixture(t, "medications")
	f.rate(t, 1, types.SourceHuman, `{"side_effects":["Nausea","upset stomach"],"dose_mg":50}`)
	f.rate(t, 2, types.SourceAI, `{"side_effects":["None"],"dose_mg":50.0,"notes":null}`)
	f.rate(t, 3, types.SourceHuman, `{"side_effects":"Headache","frequency":"2x per day","_metadata":"spoofed"}`)

	agg, err := f.engine.AggregateLink(context.Background(), f.goalID, f.implID)
	require.NoError(t, err)

	side := agg.Fields["side_effects"]
	assert.Equal(t, 4, side.TotalReports)
	assert.Equal(t, []string{"Nausea", "Digestive issues", "None", "Headache"}, valuesOf(side))

	dose := agg.Fields["dose_mg"]
	assert.Equal(t, "50", dose.Mode)
	assert.Equal(t, 2, dose.Values[0].Count)

	assert.NotContains(t, agg.Fields, "notes")
	assert.NotContains(t, agg.Fields, types.MetadataKey)
	assert.Equal(t, "2x per day", agg.Fields["frequency"].Mode)
	assert.Equal(t, types.AggregateSourceMixed, agg.Metadata.DataSource)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.MappingMissCounter("medications", "frequency")))
}

func TestAggregateLinkAllAISeed(t *testing.T) {
	f := newFixture(t, "apps_software")
	f.rate(t, 1, types.SourceAI, `{"usage_frequency":"every day"}`)

	agg, err := f.engine.AggregateLink(context.Background(), f.goalID, f.implID)
	require.NoError(t, err)
	assert.Equal(t, types.AggregateSourceAI, agg.Metadata.DataSource)
	assert.Equal(t, types.ConfidenceLow, agg.Metadata.Confidence)
	assert.Equal(t, "Daily", agg.Fields["usage_frequency"].Mode)
}

func TestAggregateLinkWithoutRatingsClearsDirtyFlag(t *testing.T) {
	f := newFixture(t, "")
	dbc := dbctx.Context{Ctx: context.Background()}
	require.NoError(t, f.db.Model(&types.GoalImplementationLink{}).
		Where("goal_id = ?", f.goalID).
		Update("needs_aggregation", true).Error)

	agg, err := f.engine.AggregateLink(context.Background(), f.goalID, f.implID)
	require.NoError(t, err)
	assert.Nil(t, agg)

	link, err := f.links.Get(dbc, f.goalID, f.implID)
	require.NoError(t, err)
	assert.False(t, link.NeedsAggregation)
	assert.Empty(t, link.AggregatedFields)
}

func TestAggregateLinkUnknownPair(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.engine.AggregateLink(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func valuesOf(d distribution.Data) []string {
	out := make([]string, 0, len(d.Values))
	for _, v := range d.Values {
		out = append(out, v.Value)
	}
	return out
}
