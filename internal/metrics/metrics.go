// Package metrics publishes operational counters to CloudWatch.
// Publishing is best-effort: a metrics failure never fails a request.
package metrics

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/taxops/go-clearflow/internal/awsx"
)

// Publisher emits metrics under a single namespace. A nil client
// disables publishing.
type Publisher struct {
	client    awsx.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewPublisher returns a Publisher for the given namespace.
func NewPublisher(client awsx.CloudWatchAPI, namespace string) *Publisher {
	return &Publisher{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// JobProcessed records one worker outcome with its processing duration.
func (p *Publisher) JobProcessed(ctx context.Context, jobType, status string, duration time.Duration) {
	p.put(ctx,
		datum("JobProcessed", 1, cwtypes.StandardUnitCount, jobType, status, p.nowFunc()),
		datum("JobDuration", duration.Seconds(), cwtypes.StandardUnitSeconds, jobType, status, p.nowFunc()),
	)
}

// PollAnswered records one ingest poll answer by record status.
func (p *Publisher) PollAnswered(ctx context.Context, jobType, status string) {
	p.put(ctx, datum("PollAnswered", 1, cwtypes.StandardUnitCount, jobType, status, p.nowFunc()))
}

func (p *Publisher) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	if p.client == nil {
		return
	}
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &p.namespace,
		MetricData: data,
	})
	if err != nil {
		log.Printf("[metrics] put metric data: %v", err)
	}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, jobType, status string, ts time.Time) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       unit,
		Timestamp:  &ts,
		Dimensions: []cwtypes.Dimension{
			{Name: awsString("JobType"), Value: &jobType},
			{Name: awsString("Status"), Value: &status},
		},
	}
}

func awsString(s string) *string { return &s }
