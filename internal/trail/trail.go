// Package trail queries CloudTrail management events.
package trail

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/yairfalse/tara/internal/awsapi"
)

// Event is a CloudTrail management event.
type Event struct {
	EventID   string
	EventName string
	EventTime time.Time
	Username  string
	Resources []Resource
}

// Resource is a resource referenced by an event.
type Resource struct {
	Name string
	Type string
}

// Query selects events by one lookup attribute over a time range.
type Query struct {
	Key   types.LookupAttributeKey
	Value string
	Start time.Time
	End   time.Time
}

// ByResource selects events that reference a resource name or ID.
func ByResource(name string, start, end time.Time) Query {
	return Query{Key: types.LookupAttributeKeyResourceName, Value: name, Start: start, End: end}
}

// ByUser selects events made by a user name.
func ByUser(user string, start, end time.Time) Query {
	return Query{Key: types.LookupAttributeKeyUsername, Value: user, Start: start, End: end}
}

// Lookup returns every event matching q, following all result pages.
func Lookup(ctx context.Context, client awsapi.CloudTrailAPI, q Query) ([]Event, error) {
	input := &cloudtrail.LookupEventsInput{
		LookupAttributes: []types.LookupAttribute{{
			AttributeKey:   q.Key,
			AttributeValue: aws.String(q.Value),
		}},
		StartTime:  aws.Time(q.Start),
		EndTime:    aws.Time(q.End),
		MaxResults: aws.Int32(50),
	}

	var events []Event
	pages := cloudtrail.NewLookupEventsPaginator(client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup cloudtrail events for %s: %w", q.Value, err)
		}
		for _, e := range page.Events {
			events = append(events, convertEvent(e))
		}
	}
	return events, nil
}

func convertEvent(e types.Event) Event {
	out := Event{
		EventID:   aws.ToString(e.EventId),
		EventName: aws.ToString(e.EventName),
		EventTime: aws.ToTime(e.EventTime),
		Username:  aws.ToString(e.Username),
	}
	for _, r := range e.Resources {
		out.Resources = append(out.Resources, Resource{
			Name: aws.ToString(r.ResourceName),
			Type: aws.ToString(r.ResourceType),
		})
	}
	return out
}

// IsAttachmentEvent reports whether eventName attaches or detaches a volume.
func IsAttachmentEvent(eventName string) bool {
	return eventName == "AttachVolume" || eventName == "DetachVolume"
}
