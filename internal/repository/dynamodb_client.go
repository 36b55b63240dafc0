package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"chat-history-agent/internal/domain"
)

const (
	pkPrefixChat = "CHAT#"
	skPrefixTurn = "TURN#"

	// sortableLayout is fixed width so that sort keys order the same way
	// lexically and chronologically.
	sortableLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client stores one flat collection of turns in a single DynamoDB partition.
type Client struct {
	api        dynamodbAPI
	tableName  string
	collection string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName, collection string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("repository: collection must not be empty")
	}
	return &Client{api: api, tableName: tableName, collection: collection}, nil
}

// collectionPK returns the partition key shared by every turn in a collection.
func collectionPK(collection string) string {
	return pkPrefixChat + collection
}

// turnSK returns the sort key for a turn created at ts.
func turnSK(ts time.Time, id string) string {
	return skPrefixTurn + ts.UTC().Format(sortableLayout) + "#" + id
}

var newRecordID = func() string {
	return uuid.NewString()
}

// Append writes one turn. A zero CreatedAt is stamped with the current time.
// There is no idempotency key: appending the same turn twice stores it twice.
func (c *Client) Append(ctx context.Context, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(c.collection, turn, newRecordID()),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// ReadAll returns every turn in the collection ordered by creation instant.
func (c *Client) ReadAll(ctx context.Context) ([]domain.Turn, error) {
	var turns []domain.Turn
	err := c.query(ctx, nil, func(item map[string]types.AttributeValue) error {
		turn, err := itemToTurn(item)
		if err != nil {
			return err
		}
		turns = append(turns, turn)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ReadAll: %w", err)
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return turns, nil
}

// DeleteAll removes every turn in the collection. Deletions run concurrently
// and fail independently; the returned count covers the successful ones.
func (c *Client) DeleteAll(ctx context.Context) (int, error) {
	var keys []map[string]types.AttributeValue
	err := c.query(ctx, aws.String("PK, SK"), func(item map[string]types.AttributeValue) error {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteAll list: %w", err)
	}

	n, err := deleteEach(keys, func(key map[string]types.AttributeValue) error {
		_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(c.tableName),
			Key:       key,
		})
		return err
	})
	if err != nil {
		return n, fmt.Errorf("repository: DeleteAll: %w", err)
	}
	return n, nil
}

// query pages through the collection in ascending sort-key order.
func (c *Client) query(ctx context.Context, projection *string, fn func(map[string]types.AttributeValue) error) error {
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: collectionPK(c.collection)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
			},
			ProjectionExpression: projection,
			ScanIndexForward:     aws.Bool(true),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, item := range out.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func turnItem(collection string, turn domain.Turn, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: collectionPK(collection)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(turn.CreatedAt, id)},
		"type":      &types.AttributeValueMemberS{Value: string(turn.Type)},
		"content":   &types.AttributeValueMemberS{Value: turn.Content},
		"timestamp": &types.AttributeValueMemberS{Value: turn.Timestamp},
		"createdAt": &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	typ, err := strAttr(item, "type")
	if err != nil {
		return domain.Turn{}, err
	}
	if !domain.TurnType(typ).Valid() {
		return domain.Turn{}, fmt.Errorf("repository: unknown turn type %q", typ)
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	rawCreated, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawCreated)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
	}
	timestamp, _ := strAttr(item, "timestamp") // allow empty

	return domain.Turn{
		Type:      domain.TurnType(typ),
		Content:   content,
		Timestamp: timestamp,
		CreatedAt: createdAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
