package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/medlinkhq/auth-service/internal/authsvc/app"
	"github.com/medlinkhq/auth-service/internal/domain"
	"github.com/medlinkhq/auth-service/internal/dynamo"
)

// challengeDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the challenge store. Only the methods this adapter
// calls are declared. The *dynamodb.Client satisfies this interface (optFns
// is variadic so callers may omit it), and test stubs implement it directly.
type challengeDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamo.TransactWriteItemsInput, optFns ...func(*dynamo.Options)) (*dynamo.TransactWriteItemsOutput, error)
}

// challengeItem is the DynamoDB item shape for the otp_challenges table.
// The partition key is the identifier and the sort key the creation instant,
// so a Query in descending sort-key order yields the newest challenge first.
// Struct tags drive attributevalue.MarshalMap / UnmarshalMap serialization.
type challengeItem struct {
	Identifier  string `dynamodbav:"identifier"`
	CreatedAt   string `dynamodbav:"created_at"`
	ChallengeID string `dynamodbav:"challenge_id"`
	Channel     string `dynamodbav:"channel"`
	CodeHash    string `dynamodbav:"code_hash"`
	Salt        string `dynamodbav:"salt"`
	ExpiresAt   string `dynamodbav:"expires_at"`
	Attempts    int    `dynamodbav:"attempts"`
	MaxAttempts int    `dynamodbav:"max_attempts"`
	Used        bool   `dynamodbav:"used"`
	TTL         int64  `dynamodbav:"ttl"`
}

// Compile-time check: ChallengeStore implements app.ChallengeStore.
var _ app.ChallengeStore = (*ChallengeStore)(nil)

// ChallengeStore persists OTP challenges in DynamoDB.
type ChallengeStore struct {
	db        challengeDynamoDB
	tableName string
	indexName string
}

// NewChallengeStore creates a ChallengeStore backed by the given DynamoDB client.
func NewChallengeStore(db challengeDynamoDB, tableName string) *ChallengeStore {
	return &ChallengeStore{
		db:        db,
		tableName: tableName,
		indexName: "challenge_id-index",
	}
}

// Supersede retires the identifier's current active challenge (if any) and
// writes record as the new one in a single TransactWriteItems, so no moment
// exists where two challenges are simultaneously active.
//
// Returns domain.ErrConflict when a concurrent request changed the active
// challenge between the read and the write; the caller may retry.
func (s *ChallengeStore) Supersede(ctx context.Context, record domain.Challenge) error {
	ctx, span := tracer.Start(ctx, "dynamo.challenges.supersede")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "TransactWriteItems"),
	)

	prior, err := s.queryLatestActive(ctx, record.Identifier.String())
	if err != nil && !domain.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	av, err := dynamo.MarshalMap(s.toItem(record))
	if err != nil {
		return fmt.Errorf("challenge store: marshal item: %w", err)
	}

	newKeyFree := "attribute_not_exists(identifier) AND attribute_not_exists(created_at)"
	items := []dynamo.TransactWriteItem{
		{
			Put: &dynamo.Put{
				TableName:           &s.tableName,
				Item:                av,
				ConditionExpression: &newKeyFree,
			},
		},
	}

	if prior != nil {
		stillActive := "attribute_exists(identifier) AND #u = :false"
		retire := "SET #u = :true"
		items = append(items, dynamo.TransactWriteItem{
			Update: &dynamo.Update{
				TableName:           &s.tableName,
				Key:                 challengeKey(prior.Identifier, prior.CreatedAt),
				UpdateExpression:    &retire,
				ConditionExpression: &stillActive,
				ExpressionAttributeNames: map[string]string{
					"#u": "used",
				},
				ExpressionAttributeValues: map[string]dynamo.AttributeValue{
					":true":  &dynamo.AttributeValueMemberBOOL{Value: true},
					":false": &dynamo.AttributeValueMemberBOOL{Value: false},
				},
			},
		})
	}

	_, err = s.db.TransactWriteItems(ctx, &dynamo.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		txErr := s.classifySupersedeError(err)
		span.RecordError(txErr)
		span.SetStatus(codes.Error, txErr.Error())
		return txErr
	}

	return nil
}

// FindLatestActive returns the newest unretired challenge for identifier.
// Returns domain.ErrNotFound when every stored challenge is used or none exist.
// Expiry is not evaluated here; the caller owns that decision.
func (s *ChallengeStore) FindLatestActive(ctx context.Context, identifier string) (*domain.Challenge, error) {
	item, err := s.queryLatestActive(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.toDomain(*item)
}

// GetByID retrieves a challenge by its ID via the challenge_id-index GSI,
// then fetches the full record with a strongly consistent GetItem read.
// Returns domain.ErrNotFound when no challenge exists for the given ID.
func (s *ChallengeStore) GetByID(ctx context.Context, id domain.ChallengeID) (*domain.Challenge, error) {
	keyExpr := "challenge_id = :cid"

	queryOut, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.indexName,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":cid": &dynamo.AttributeValueMemberS{Value: id.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("challenge store: get by id query: %w", err)
	}

	if len(queryOut.Items) == 0 {
		return nil, fmt.Errorf("challenge store: get by id: %w", domain.ErrNotFound)
	}

	// Extract the table key from the GSI projection, then read the full
	// record consistently — the GSI itself is eventually consistent.
	var projected struct {
		Identifier string `dynamodbav:"identifier"`
		CreatedAt  string `dynamodbav:"created_at"`
	}
	if err := dynamo.UnmarshalMap(queryOut.Items[0], &projected); err != nil {
		return nil, fmt.Errorf("challenge store: unmarshal gsi projection: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("challenge store: get by id: %w", err)
	}

	consistentRead := true
	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:      &s.tableName,
		Key:            challengeKey(projected.Identifier, projected.CreatedAt),
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		return nil, fmt.Errorf("challenge store: get by id: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("challenge store: get by id: %w", domain.ErrNotFound)
	}

	var item challengeItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("challenge store: unmarshal challenge: %w", err)
	}

	return s.toDomain(item)
}

// MarkUsed retires the challenge identified by (identifier, createdAt).
func (s *ChallengeStore) MarkUsed(ctx context.Context, identifier string, createdAt time.Time) error {
	retire := "SET #u = :true"
	exists := "attribute_exists(identifier)"

	_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 challengeKey(identifier, formatSortKey(createdAt)),
		UpdateExpression:    &retire,
		ConditionExpression: &exists,
		ExpressionAttributeNames: map[string]string{
			"#u": "used",
		},
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":true": &dynamo.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("challenge store: mark used: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("challenge store: mark used: %w", err)
	}

	return nil
}

// IncrementAttempts adds one to the attempt counter of the challenge
// identified by (identifier, createdAt), conditional on the stored counter
// still holding expected and the challenge being unretired.
//
// Returns domain.ErrConflict on a lost race, which guarantees every guess
// across concurrent verifiers consumes exactly one attempt.
func (s *ChallengeStore) IncrementAttempts(ctx context.Context, identifier string, createdAt time.Time, expected int) error {
	updateExpr := "SET attempts = attempts + :one"
	condExpr := "attempts = :expected AND #u = :false"

	_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 challengeKey(identifier, formatSortKey(createdAt)),
		UpdateExpression:    &updateExpr,
		ConditionExpression: &condExpr,
		ExpressionAttributeNames: map[string]string{
			"#u": "used",
		},
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":one":      &dynamo.AttributeValueMemberN{Value: strconv.Itoa(1)},
			":expected": &dynamo.AttributeValueMemberN{Value: strconv.Itoa(expected)},
			":false":    &dynamo.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("challenge store: increment attempts: %w", domain.ErrConflict)
		}
		return fmt.Errorf("challenge store: increment attempts: %w", err)
	}

	return nil
}

// queryLatestActive returns the newest item with used = false, or ErrNotFound.
func (s *ChallengeStore) queryLatestActive(ctx context.Context, identifier string) (*challengeItem, error) {
	keyExpr := "identifier = :id"
	filterExpr := "#u = :false"
	scanForward := false

	queryOut, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: &keyExpr,
		FilterExpression:       &filterExpr,
		ScanIndexForward:       &scanForward,
		ExpressionAttributeNames: map[string]string{
			"#u": "used",
		},
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":id":    &dynamo.AttributeValueMemberS{Value: identifier},
			":false": &dynamo.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("challenge store: find latest active: %w", err)
	}

	if len(queryOut.Items) == 0 {
		return nil, fmt.Errorf("challenge store: find latest active: %w", domain.ErrNotFound)
	}

	var item challengeItem
	if err := dynamo.UnmarshalMap(queryOut.Items[0], &item); err != nil {
		return nil, fmt.Errorf("challenge store: unmarshal challenge: %w", err)
	}

	return &item, nil
}

// classifySupersedeError maps a condition failure inside the transaction to
// domain.ErrConflict and wraps everything else with context.
func (s *ChallengeStore) classifySupersedeError(err error) error {
	reasons, ok := dynamo.IsTransactionCanceledException(err)
	if !ok {
		return fmt.Errorf("challenge store: supersede: %w", err)
	}

	for _, reason := range reasons {
		if reason == "ConditionalCheckFailed" {
			return fmt.Errorf("challenge store: supersede: %w", domain.ErrConflict)
		}
	}

	return fmt.Errorf("challenge store: supersede: transaction canceled: %w", err)
}

func (s *ChallengeStore) toItem(record domain.Challenge) challengeItem {
	return challengeItem{
		Identifier:  record.Identifier.String(),
		CreatedAt:   formatSortKey(record.CreatedAt),
		ChallengeID: record.ID.String(),
		Channel:     string(record.Identifier.Channel()),
		CodeHash:    record.CodeHash,
		Salt:        record.Salt,
		ExpiresAt:   record.ExpiresAt.UTC().Format(time.RFC3339Nano),
		Attempts:    record.Attempts,
		MaxAttempts: record.MaxAttempts,
		Used:        record.Used,
		TTL:         record.CreatedAt.Add(domain.ChallengeRetention).Unix(),
	}
}

func (s *ChallengeStore) toDomain(item challengeItem) (*domain.Challenge, error) {
	id, err := domain.NewChallengeID(item.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("challenge store: parse challenge id: %w", err)
	}
	identifier, err := domain.NewIdentifier(item.Identifier, domain.Channel(item.Channel))
	if err != nil {
		return nil, fmt.Errorf("challenge store: parse identifier: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("challenge store: parse created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, item.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("challenge store: parse expires_at: %w", err)
	}

	return &domain.Challenge{
		ID:          id,
		Identifier:  identifier,
		CodeHash:    item.CodeHash,
		Salt:        item.Salt,
		ExpiresAt:   expiresAt,
		Attempts:    item.Attempts,
		MaxAttempts: item.MaxAttempts,
		Used:        item.Used,
		CreatedAt:   createdAt,
	}, nil
}

func challengeKey(identifier, createdAt string) map[string]dynamo.AttributeValue {
	return map[string]dynamo.AttributeValue{
		"identifier": &dynamo.AttributeValueMemberS{Value: identifier},
		"created_at": &dynamo.AttributeValueMemberS{Value: createdAt},
	}
}

// formatSortKey renders the creation instant as the table sort key.
// RFC3339Nano would drop trailing zeros and break lexicographic ordering,
// so the layout is fixed-width.
func formatSortKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
