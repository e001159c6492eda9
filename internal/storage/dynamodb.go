package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/optimode/deliverkit/types"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoDB stores one item per address in a table whose partition key is
// the string attribute "email".
type DynamoDB struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoDB returns a table backed store.
func NewDynamoDB(client DynamoDBAPI, table string) *DynamoDB {
	return &DynamoDB{client: client, table: table}
}

// NewDynamoDBFromConfig builds the store on a client created from cfg.
func NewDynamoDBFromConfig(cfg aws.Config, table string) *DynamoDB {
	return NewDynamoDB(dynamodb.NewFromConfig(cfg), table)
}

type dynamoItem struct {
	Email         string    `dynamodbav:"email"`
	Address       string    `dynamodbav:"address"`
	CorrelationID string    `dynamodbav:"correlation_id,omitempty"`
	Verdict       string    `dynamodbav:"verdict"`
	Confidence    int       `dynamodbav:"confidence"`
	Reasons       []string  `dynamodbav:"reasons,omitempty"`
	Checks        string    `dynamodbav:"checks"`
	ElapsedMS     int64     `dynamodbav:"elapsed_ms"`
	VerifiedAt    time.Time `dynamodbav:"verified_at"`
}

func (d *DynamoDB) Upsert(ctx context.Context, res types.VerificationResult) error {
	checks, err := json.Marshal(res.Checks)
	if err != nil {
		return fmt.Errorf("encode checks: %w", err)
	}
	item, err := attributevalue.MarshalMap(dynamoItem{
		Email:         Key(res.Address),
		Address:       res.Address,
		CorrelationID: res.CorrelationID,
		Verdict:       res.Verdict,
		Confidence:    res.Confidence,
		Reasons:       res.Reasons,
		Checks:        string(checks),
		ElapsedMS:     res.Elapsed.Milliseconds(),
		VerifiedAt:    res.VerifiedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item %s: %w", res.Address, err)
	}
	return nil
}

func (d *DynamoDB) Get(ctx context.Context, address string) (types.VerificationResult, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]ddbtypes.AttributeValue{
			"email": &ddbtypes.AttributeValueMemberS{Value: Key(address)},
		},
	})
	if err != nil {
		return types.VerificationResult{}, fmt.Errorf("get item %s: %w", address, err)
	}
	if len(out.Item) == 0 {
		return types.VerificationResult{}, ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return types.VerificationResult{}, fmt.Errorf("unmarshal item: %w", err)
	}
	res := types.VerificationResult{
		Address:       item.Address,
		CorrelationID: item.CorrelationID,
		Verdict:       item.Verdict,
		Confidence:    item.Confidence,
		Reasons:       item.Reasons,
		Elapsed:       time.Duration(item.ElapsedMS) * time.Millisecond,
		VerifiedAt:    item.VerifiedAt,
	}
	if item.Checks != "" {
		if err := json.Unmarshal([]byte(item.Checks), &res.Checks); err != nil {
			return types.VerificationResult{}, fmt.Errorf("decode checks: %w", err)
		}
	}
	return res, nil
}
