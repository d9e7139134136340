package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/medlinkhq/auth-service/internal/authsvc/app"
	"github.com/medlinkhq/auth-service/internal/domain"
	"github.com/medlinkhq/auth-service/internal/dynamo"
)

// userDynamoDB is a narrow, consumer-defined interface for DynamoDB operations
// required by the user store. The *dynamodb.Client satisfies this interface.
type userDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamo.TransactWriteItemsInput, optFns ...func(*dynamo.Options)) (*dynamo.TransactWriteItemsOutput, error)
}

// userItem is the DynamoDB item shape for the users table.
type userItem struct {
	UserID        string `dynamodbav:"user_id"`
	PhoneNumber   string `dynamodbav:"phone_number"`
	Email         string `dynamodbav:"email,omitempty"`
	EmailVerified bool   `dynamodbav:"email_verified"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// profileItem is the DynamoDB item shape for the user_profiles table.
type profileItem struct {
	UserID      string `dynamodbav:"user_id"`
	FirstName   string `dynamodbav:"first_name"`
	LastName    string `dynamodbav:"last_name"`
	DateOfBirth string `dynamodbav:"date_of_birth"`
	Gender      string `dynamodbav:"gender"`
	Referred    bool   `dynamodbav:"referred"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

// phoneSentinelPrefix namespaces uniqueness sentinels inside the users table.
// A sentinel item's user_id is "phone#<E.164>"; it carries no phone_number
// attribute, so it never appears in the phone_number-index GSI.
const phoneSentinelPrefix = "phone#"

// Compile-time check: UserStore implements app.UserStore.
var _ app.UserStore = (*UserStore)(nil)

// UserStore persists accounts and profiles in DynamoDB, split across the
// users and user_profiles tables.
type UserStore struct {
	db            userDynamoDB
	usersTable    string
	profilesTable string
	emailIndex    string
	phoneIndex    string
	clock         domain.Clock
}

// NewUserStore creates a UserStore backed by the given DynamoDB client.
func NewUserStore(db userDynamoDB, usersTable, profilesTable string, clock domain.Clock) *UserStore {
	return &UserStore{
		db:            db,
		usersTable:    usersTable,
		profilesTable: profilesTable,
		emailIndex:    "email-index",
		phoneIndex:    "phone_number-index",
		clock:         clock,
	}
}

// GetByID retrieves an account by user ID using a strongly consistent read.
// Returns domain.ErrNotFound when no account exists for the given ID.
func (s *UserStore) GetByID(ctx context.Context, userID domain.UserID) (*domain.User, error) {
	consistentRead := true

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.usersTable,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		return nil, fmt.Errorf("user store: get by id: %w", err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("user store: get by id: %w", domain.ErrNotFound)
	}

	var item userItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("user store: unmarshal user: %w", err)
	}

	return userFromItem(item)
}

// FindByEmail looks up an account by email via the email-index GSI, then
// fetches the full record with a consistent GetItem read.
// Returns domain.ErrNotFound when no account carries the given email.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	keyExpr := "email = :email"

	queryOut, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.usersTable,
		IndexName:              &s.emailIndex,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":email": &dynamo.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("user store: find by email query: %w", err)
	}

	if len(queryOut.Items) == 0 {
		return nil, fmt.Errorf("user store: find by email: %w", domain.ErrNotFound)
	}

	var projected struct {
		UserID string `dynamodbav:"user_id"`
	}
	if err := dynamo.UnmarshalMap(queryOut.Items[0], &projected); err != nil {
		return nil, fmt.Errorf("user store: unmarshal gsi projection: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("user store: find by email: %w", err)
	}

	userID, err := domain.NewUserID(projected.UserID)
	if err != nil {
		return nil, fmt.Errorf("user store: find by email: %w", err)
	}

	return s.GetByID(ctx, userID)
}

// GetOrCreateByPhone returns the account owning candidate's phone number,
// creating it when none exists. The returned bool reports whether a new
// account was created.
//
// Creation writes the account and a phone uniqueness sentinel in one
// TransactWriteItems. When the transaction loses a race the winner's account
// is read back, so concurrent first logins converge on a single account.
func (s *UserStore) GetOrCreateByPhone(ctx context.Context, candidate domain.User) (*domain.User, bool, error) {
	ctx, span := tracer.Start(ctx, "dynamo.users.get_or_create_by_phone")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "TransactWriteItems"),
	)

	existing, err := s.findByPhone(ctx, candidate.PhoneNumber)
	if err == nil {
		return existing, false, nil
	}
	if !domain.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}

	if err := s.createWithSentinel(ctx, candidate); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, false, err
		}

		// Lost the race: another request created the account first.
		winner, findErr := s.findByPhone(ctx, candidate.PhoneNumber)
		if findErr != nil {
			span.RecordError(findErr)
			span.SetStatus(codes.Error, findErr.Error())
			return nil, false, fmt.Errorf("user store: get or create: winner lookup: %w", findErr)
		}
		return winner, false, nil
	}

	created := candidate
	return &created, true, nil
}

// SetEmailVerified flags the account's email address as verified.
func (s *UserStore) SetEmailVerified(ctx context.Context, userID domain.UserID) error {
	updateExpr := "SET email_verified = :true"
	exists := "attribute_exists(user_id)"

	_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.usersTable,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()},
		},
		UpdateExpression:    &updateExpr,
		ConditionExpression: &exists,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":true": &dynamo.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("user store: set email verified: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("user store: set email verified: %w", err)
	}

	return nil
}

// GetOrCreateProfile returns the account's profile, seeding an empty one on
// first access. An empty profile never passes the completeness predicate, so
// fresh accounts always go through onboarding.
func (s *UserStore) GetOrCreateProfile(ctx context.Context, userID domain.UserID) (*domain.Profile, error) {
	profile, err := s.getProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	seed := profileItem{
		UserID:    userID.String(),
		UpdatedAt: s.clock.Now().UTC().Format(time.RFC3339),
	}
	av, err := dynamo.MarshalMap(seed)
	if err != nil {
		return nil, fmt.Errorf("user store: marshal profile: %w", err)
	}

	notExists := "attribute_not_exists(user_id)"
	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:           &s.profilesTable,
		Item:                av,
		ConditionExpression: &notExists,
	})
	if err != nil && !dynamo.IsConditionalCheckFailed(err) {
		return nil, fmt.Errorf("user store: seed profile: %w", err)
	}
	if err != nil {
		// A concurrent seed won; read back whatever it wrote.
		return s.getProfile(ctx, userID)
	}

	return profileFromItem(seed)
}

// ApplyProfile writes the onboarding profile and the account's email address
// in a single TransactWriteItems, so the account never ends up with a profile
// but no email or vice versa.
func (s *UserStore) ApplyProfile(ctx context.Context, userID domain.UserID, email string, profile domain.Profile) error {
	ctx, span := tracer.Start(ctx, "dynamo.users.apply_profile")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "TransactWriteItems"),
	)

	item := profileItem{
		UserID:      userID.String(),
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		DateOfBirth: profile.DateOfBirth,
		Gender:      string(profile.Gender),
		Referred:    profile.Referred,
		UpdatedAt:   s.clock.Now().UTC().Format(time.RFC3339),
	}
	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("user store: marshal profile: %w", err)
	}

	setEmail := "SET email = :email"
	accountExists := "attribute_exists(user_id)"

	_, err = s.db.TransactWriteItems(ctx, &dynamo.TransactWriteItemsInput{
		TransactItems: []dynamo.TransactWriteItem{
			{
				Update: &dynamo.Update{
					TableName:           &s.usersTable,
					Key:                 map[string]dynamo.AttributeValue{"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()}},
					UpdateExpression:    &setEmail,
					ConditionExpression: &accountExists,
					ExpressionAttributeValues: map[string]dynamo.AttributeValue{
						":email": &dynamo.AttributeValueMemberS{Value: email},
					},
				},
			},
			{
				Put: &dynamo.Put{
					TableName: &s.profilesTable,
					Item:      av,
				},
			},
		},
	})
	if err != nil {
		txErr := s.classifyApplyError(err)
		span.RecordError(txErr)
		span.SetStatus(codes.Error, txErr.Error())
		return txErr
	}

	return nil
}

// findByPhone resolves a phone number to its account via the
// phone_number-index GSI followed by a consistent GetItem read.
func (s *UserStore) findByPhone(ctx context.Context, phoneNumber string) (*domain.User, error) {
	keyExpr := "phone_number = :phone"

	queryOut, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.usersTable,
		IndexName:              &s.phoneIndex,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":phone": &dynamo.AttributeValueMemberS{Value: phoneNumber},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("user store: find by phone query: %w", err)
	}

	if len(queryOut.Items) == 0 {
		return nil, fmt.Errorf("user store: find by phone: %w", domain.ErrNotFound)
	}

	var projected struct {
		UserID string `dynamodbav:"user_id"`
	}
	if err := dynamo.UnmarshalMap(queryOut.Items[0], &projected); err != nil {
		return nil, fmt.Errorf("user store: unmarshal gsi projection: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("user store: find by phone: %w", err)
	}

	userID, err := domain.NewUserID(projected.UserID)
	if err != nil {
		return nil, fmt.Errorf("user store: find by phone: %w", err)
	}

	return s.GetByID(ctx, userID)
}

// createWithSentinel writes the account item and its phone sentinel in one
// transaction. A ConditionalCheckFailed on either item maps to ErrConflict.
func (s *UserStore) createWithSentinel(ctx context.Context, candidate domain.User) error {
	av, err := dynamo.MarshalMap(userItem{
		UserID:      candidate.ID.String(),
		PhoneNumber: candidate.PhoneNumber,
		Email:       candidate.Email,
		CreatedAt:   candidate.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("user store: marshal user: %w", err)
	}

	notExists := "attribute_not_exists(user_id)"

	_, err = s.db.TransactWriteItems(ctx, &dynamo.TransactWriteItemsInput{
		TransactItems: []dynamo.TransactWriteItem{
			{
				Put: &dynamo.Put{
					TableName:           &s.usersTable,
					Item:                av,
					ConditionExpression: &notExists,
				},
			},
			{
				Put: &dynamo.Put{
					TableName: &s.usersTable,
					Item: map[string]dynamo.AttributeValue{
						"user_id":  &dynamo.AttributeValueMemberS{Value: phoneSentinelPrefix + candidate.PhoneNumber},
						"owner_id": &dynamo.AttributeValueMemberS{Value: candidate.ID.String()},
					},
					ConditionExpression: &notExists,
				},
			},
		},
	})
	if err != nil {
		reasons, canceled := dynamo.IsTransactionCanceledException(err)
		if canceled {
			for _, reason := range reasons {
				if reason == "ConditionalCheckFailed" {
					return fmt.Errorf("user store: create: %w", domain.ErrConflict)
				}
			}
		}
		return fmt.Errorf("user store: create: %w", err)
	}

	return nil
}

func (s *UserStore) getProfile(ctx context.Context, userID domain.UserID) (*domain.Profile, error) {
	consistentRead := true

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.profilesTable,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID.String()},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		return nil, fmt.Errorf("user store: get profile: %w", err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("user store: get profile: %w", domain.ErrNotFound)
	}

	var item profileItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("user store: unmarshal profile: %w", err)
	}

	return profileFromItem(item)
}

func (s *UserStore) classifyApplyError(err error) error {
	reasons, ok := dynamo.IsTransactionCanceledException(err)
	if !ok {
		return fmt.Errorf("user store: apply profile: %w", err)
	}

	for _, reason := range reasons {
		if reason == "ConditionalCheckFailed" {
			return fmt.Errorf("user store: apply profile: %w", domain.ErrNotFound)
		}
	}

	return fmt.Errorf("user store: apply profile: transaction canceled: %w", err)
}

func userFromItem(item userItem) (*domain.User, error) {
	userID, err := domain.NewUserID(item.UserID)
	if err != nil {
		return nil, fmt.Errorf("user store: parse user id: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("user store: parse created_at: %w", err)
	}

	return &domain.User{
		ID:            userID,
		PhoneNumber:   item.PhoneNumber,
		Email:         item.Email,
		EmailVerified: item.EmailVerified,
		CreatedAt:     createdAt,
	}, nil
}

func profileFromItem(item profileItem) (*domain.Profile, error) {
	userID, err := domain.NewUserID(item.UserID)
	if err != nil {
		return nil, fmt.Errorf("user store: parse user id: %w", err)
	}

	profile := &domain.Profile{
		UserID:      userID,
		FirstName:   item.FirstName,
		LastName:    item.LastName,
		DateOfBirth: item.DateOfBirth,
		Gender:      domain.Gender(item.Gender),
		Referred:    item.Referred,
	}
	if item.UpdatedAt != "" {
		updatedAt, err := time.Parse(time.RFC3339, item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("user store: parse updated_at: %w", err)
		}
		profile.UpdatedAt = updatedAt
	}

	return profile, nil
}
