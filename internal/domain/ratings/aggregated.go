package ratings

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/wwfm-backend/internal/aggregation/distribution"
)

// MetadataKey is the reserved key of the snapshot metadata inside the
// aggregated_fields blob. Submitted fields with this name are ignored.
const MetadataKey = "_metadata"

type AggregateSource string

const (
	AggregateSourceUser  AggregateSource = "user"
	AggregateSourceAI    AggregateSource = "ai"
	AggregateSourceMixed AggregateSource = "mixed"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFor grades a snapshot by how many ratings fed it.
func ConfidenceFor(total int) Confidence {
	switch {
	case total >= 10:
		return ConfidenceHigh
	case total >= 3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// AggregateMetadata describes the ratings behind a snapshot. LastAggregated is
// the created_at of the newest contributing rating, so rebuilding from the
// same rows reproduces the same bytes.
type AggregateMetadata struct {
	TotalRatings   int             `json:"total_ratings"`
	LastAggregated time.Time       `json:"last_aggregated"`
	DataSource     AggregateSource `json:"data_source"`
	Confidence     Confidence      `json:"confidence"`
}

// AggregatedFields is the per-link snapshot stored in aggregated_fields:
// one distribution per field plus the _metadata entry.
type AggregatedFields struct {
	Fields   map[string]distribution.Data
	Metadata AggregateMetadata
}

// MarshalJSON flattens Fields next to _metadata. encoding/json sorts map keys,
// which keeps the output stable.
func (a AggregatedFields) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(a.Fields)+1)
	for k, v := range a.Fields {
		if k == MetadataKey {
			continue
		}
		out[k] = v
	}
	out[MetadataKey] = a.Metadata
	return json.Marshal(out)
}

func (a *AggregatedFields) UnmarshalJSON(raw []byte) error {
	var parts map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return err
	}
	a.Fields = make(map[string]distribution.Data, len(parts))
	a.Metadata = AggregateMetadata{}
	for k, v := range parts {
		if k == MetadataKey {
			if err := json.Unmarshal(v, &a.Metadata); err != nil {
				return fmt.Errorf("decode %s: %w", MetadataKey, err)
			}
			continue
		}
		var d distribution.Data
		if err := json.Unmarshal(v, &d); err != nil {
			return fmt.Errorf("decode field %q: %w", k, err)
		}
		a.Fields[k] = d
	}
	return nil
}
