package awsapi

import (
	"errors"

	"github.com/aws/smithy-go"
)

// Common AWS error codes.
const (
	CodeDryRun           = "DryRunOperation"
	CodeResourceConflict = "ResourceConflictException"
	CodeNotFound         = "ResourceNotFoundException"
	CodeNoSuchEntity     = "NoSuchEntity"
	CodeNoSuchTagSet     = "NoSuchTagSet"
	CodeNoSuchLifecycle  = "NoSuchLifecycleConfiguration"
	CodeConditionFailed  = "ConditionalCheckFailedException"
	CodeAddressNotFound  = "InvalidAddress.NotFound"
)

// ErrorCode returns the API error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsCode reports whether err is an API error with one of the given codes.
func IsCode(err error, codes ...string) bool {
	code := ErrorCode(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// IsDryRun reports whether err is EC2's answer to a permitted dry-run call.
func IsDryRun(err error) bool {
	return IsCode(err, CodeDryRun)
}
