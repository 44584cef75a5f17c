package e2e

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxReader queries the points the coordinator wrote through its
// influx metrics sink.
type InfluxReader struct {
	bucket string
	client influxdb2.Client
	query  api.QueryAPI
}

func NewInfluxReader(url, org, bucket, token string) *InfluxReader {
	c := influxdb2.NewClient(url, token)
	return &InfluxReader{bucket: bucket, client: c, query: c.QueryAPI(org)}
}

// Count returns how many records of measurement exist in the last hour,
// optionally restricted to one tag value.
func (r *InfluxReader) Count(ctx context.Context, measurement, tag, value string) (int, error) {
	flux := fmt.Sprintf(`from(bucket:%q) |> range(start:-1h) |> filter(fn: (r) => r._measurement == %q)`, r.bucket, measurement)
	if tag != "" {
		flux += fmt.Sprintf(` |> filter(fn: (r) => r[%q] == %q)`, tag, value)
	}
	res, err := r.query.Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

func (r *InfluxReader) Close() { r.client.Close() }
