package search

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
)

// Response is the subset of a _search response the repository reads.
type Response struct {
	Took         int                        `json:"took"`
	TimedOut     bool                       `json:"timed_out"`
	Shards       Shards                     `json:"_shards"`
	Hits         Hits                       `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

// Shards reports per-shard success.
type Shards struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Failures   []ShardFailure `json:"failures"`
}

// ShardFailure is one failed shard.
type ShardFailure struct {
	Index  string     `json:"index"`
	Reason ErrorCause `json:"reason"`
}

// ErrorCause is the error object of an Elasticsearch error payload.
type ErrorCause struct {
	Type      string       `json:"type"`
	Reason    string       `json:"reason"`
	RootCause []ErrorCause `json:"root_cause"`
}

// Hits holds matched documents.
type Hits struct {
	Total Total `json:"total"`
	Hits  []Hit `json:"hits"`
}

// Total is hits.total. Clusters return either an object or, on old versions, a
// bare number.
type Total struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// UnmarshalJSON accepts both total formats.
func (t *Total) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid hits.total: %w", err)
		}
		v, err := n.Int64()
		if err != nil {
			return fmt.Errorf("invalid hits.total: %w", err)
		}
		t.Value, t.Relation = v, "eq"
		return nil
	}
	type plain Total
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Total(p)
	return nil
}

// Hit is one matched document.
type Hit struct {
	Index  string             `json:"_index"`
	ID     string             `json:"_id"`
	Source models.RawDocument `json:"_source"`
}

// Documents returns the _source of every hit.
func (r *Response) Documents() []models.RawDocument {
	docs := make([]models.RawDocument, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		if h.Source != nil {
			docs = append(docs, h.Source)
		}
	}
	return docs
}

// Bucket is one bucket of a terms aggregation.
type Bucket struct {
	Key      string
	DocCount int64
}

// UnmarshalJSON renders numeric and boolean keys as strings.
func (b *Bucket) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key      json.RawMessage `json:"key"`
		DocCount int64           `json:"doc_count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid bucket: %w", err)
	}
	if len(raw.Key) > 0 {
		var key any
		dec := json.NewDecoder(bytes.NewReader(raw.Key))
		dec.UseNumber()
		if err := dec.Decode(&key); err != nil {
			return fmt.Errorf("invalid bucket key: %w", err)
		}
		b.Key = fmt.Sprint(key)
	}
	b.DocCount = raw.DocCount
	return nil
}

// Terms decodes the buckets of a named terms aggregation. A missing aggregation
// yields no buckets.
func (r *Response) Terms(name string) ([]Bucket, error) {
	raw, ok := r.Aggregations[name]
	if !ok {
		return nil, nil
	}
	var agg struct {
		Buckets []Bucket `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, models.BackendError(err, "malformed aggregation %q", name)
	}
	return agg.Buckets, nil
}

// ClusterInfo is the response of GET /.
type ClusterInfo struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number       string `json:"number"`
		Distribution string `json:"distribution"`
	} `json:"version"`
}

// Distribution returns "opensearch" or "elasticsearch".
func (i *ClusterInfo) Distribution() string {
	if i.Version.Distribution != "" {
		return i.Version.Distribution
	}
	return "elasticsearch"
}
