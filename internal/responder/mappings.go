package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/tara/internal/awsapi"
)

var validate = validator.New()

// mappingFile is the YAML layout accepted by LoadMappings:
//
//	mappings:
//	  - checkName: Security groups should not allow unrestricted access to ports with high risk
//	    ssmAutomationDocument: AWS-DisablePublicAccessForSecurityGroup
//	    regexPattern: (sg-\w+)
//	    automationStatus: true
//	    automationParameters:
//	      GroupId: ["$resourceId"]
type mappingFile struct {
	Mappings []mappingEntry `yaml:"mappings"`
}

type mappingEntry struct {
	CheckName             string         `yaml:"checkName"`
	SSMAutomationDocument string         `yaml:"ssmAutomationDocument"`
	RegexPattern          string         `yaml:"regexPattern"`
	AutomationStatus      bool           `yaml:"automationStatus"`
	AutomationParameters  map[string]any `yaml:"automationParameters"`
}

// LoadMappings reads automation mappings from YAML.
func LoadMappings(r io.Reader) ([]Mapping, error) {
	var file mappingFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse mappings: %w", err)
	}

	out := make([]Mapping, 0, len(file.Mappings))
	for i, e := range file.Mappings {
		params := e.AutomationParameters
		if params == nil {
			params = map[string]any{}
		}
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mapping %d: automation parameters: %w", i, err)
		}

		m := Mapping{
			CheckName:             e.CheckName,
			SSMAutomationDocument: e.SSMAutomationDocument,
			RegexPattern:          e.RegexPattern,
			AutomationParameters:  string(encoded),
			AutomationStatus:      e.AutomationStatus,
		}
		if err := validate.Struct(m); err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i, err)
		}
		if _, err := regexp.Compile(m.RegexPattern); err != nil {
			return nil, fmt.Errorf("mapping %d: regex pattern: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ImportMappings writes mappings into table, replacing existing entries
// for the same check. It stops at the first failure and reports how many
// were written.
func ImportMappings(ctx context.Context, client awsapi.DynamoDBAPI, table string, mappings []Mapping) (int, error) {
	for i, m := range mappings {
		av, err := attributevalue.MarshalMap(m)
		if err != nil {
			return i, fmt.Errorf("marshal mapping %q: %w", m.CheckName, err)
		}
		if _, err := client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(table),
			Item:      av,
		}); err != nil {
			return i, fmt.Errorf("put mapping %q: %w", m.CheckName, err)
		}
	}
	return len(mappings), nil
}
