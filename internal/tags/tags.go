// Package tags provides tag lookups and matching for AWS resources.
package tags

import (
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	taggingtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Set is a resource's tags keyed by tag key.
type Set map[string]string

// FromEC2 converts EC2 tags.
func FromEC2(in []ec2types.Tag) Set {
	s := make(Set, len(in))
	for _, t := range in {
		s[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return s
}

// FromEC2Descriptions converts DescribeTags results.
func FromEC2Descriptions(in []ec2types.TagDescription) Set {
	s := make(Set, len(in))
	for _, t := range in {
		s[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return s
}

// FromS3 converts S3 bucket tags.
func FromS3(in []s3types.Tag) Set {
	s := make(Set, len(in))
	for _, t := range in {
		s[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return s
}

// FromTagging converts Resource Groups Tagging API tags.
func FromTagging(in []taggingtypes.Tag) Set {
	s := make(Set, len(in))
	for _, t := range in {
		s[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return s
}

// Get returns the value for key and whether it is present.
func (s Set) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// Has reports whether key is present.
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Matches reports whether key is present with exactly value.
func (s Set) Matches(key, value string) bool {
	v, ok := s[key]
	return ok && v == value
}

// EqualFold reports whether key is present with value, ignoring case.
func (s Set) EqualFold(key, value string) bool {
	v, ok := s[key]
	return ok && strings.EqualFold(v, value)
}

// Bool parses the value for key with strconv.ParseBool. ok is false when
// the key is missing or the value is not a boolean.
func (s Set) Bool(key string) (value, ok bool) {
	v, present := s[key]
	if !present {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false
	}
	return b, true
}

// MatchesAll reports whether every pair in want is present. An empty want
// matches everything.
func (s Set) MatchesAll(want map[string]string) bool {
	for k, v := range want {
		if !s.Matches(k, v) {
			return false
		}
	}
	return true
}

// EC2 builds EC2 tags from key/value pairs, preserving order.
func EC2(kv ...string) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, ec2types.Tag{Key: aws.String(kv[i]), Value: aws.String(kv[i+1])})
	}
	return out
}
