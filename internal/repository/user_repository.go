package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fintrack/fintrack/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrUserExists = errors.New("user already exists")

// UserRepository stores accounts. Lookups return nil, nil when no account
// matches.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByPhone(ctx context.Context, phone string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func prepareAccount(account *models.Account) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.Email = NormalizeEmail(account.Email)
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
}

// DynamoAPI is the subset of the DynamoDB client the repository uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoUserRepository keeps each account under PK=USER!<id>, SK=METADATA,
// with EMAIL!<email> and PHONE!<phone> lookup items pointing at the ID.
type DynamoUserRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

const lookupSK = "LOOKUP"

func NewDynamoUserRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *DynamoUserRepository {
	return &DynamoUserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (r *DynamoUserRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	account := &models.Account{ID: id}
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(account.GetPK(), account.GetSK()),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var dbAccount models.Account
	if err := attributevalue.UnmarshalMap(result.Item, &dbAccount); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &dbAccount, nil
}

func (r *DynamoUserRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.lookup(ctx, "EMAIL!"+NormalizeEmail(email))
}

func (r *DynamoUserRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	return r.lookup(ctx, "PHONE!"+phone)
}

func (r *DynamoUserRepository) lookup(ctx context.Context, pk string) (*models.Account, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(pk, lookupSK),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}
	id, ok := result.Item["user_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("lookup item %s has no user_id", pk)
	}
	return r.GetByID(ctx, id.Value)
}

// Create claims the email and phone lookups first so that two accounts can
// never share them, then writes the account item.
func (r *DynamoUserRepository) Create(ctx context.Context, account *models.Account) error {
	prepareAccount(account)

	var claimed []string
	release := func() {
		for _, pk := range claimed {
			r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(r.tableName),
				Key:       itemKey(pk, lookupSK),
			})
		}
	}

	for _, pk := range lookupKeys(account) {
		item := itemKey(pk, lookupSK)
		item["user_id"] = &types.AttributeValueMemberS{Value: account.ID}
		_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		if err != nil {
			release()
			var conflict *types.ConditionalCheckFailedException
			if errors.As(err, &conflict) {
				return ErrUserExists
			}
			r.logger.WithError(err).Error("Failed to reserve user lookup in DynamoDB")
			return fmt.Errorf("failed to create user: %w", err)
		}
		claimed = append(claimed, pk)
	}

	item, err := attributevalue.MarshalMap(account)
	if err != nil {
		release()
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: account.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: account.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		release()
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func lookupKeys(account *models.Account) []string {
	var keys []string
	if account.Email != "" {
		keys = append(keys, "EMAIL!"+account.Email)
	}
	if account.PhoneNumber != "" {
		keys = append(keys, "PHONE!"+account.PhoneNumber)
	}
	return keys
}

func (r *DynamoUserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	account := &models.Account{ID: id}
	stamp, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return fmt.Errorf("failed to marshal login time: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(account.GetPK(), account.GetSK()),
		UpdateExpression:    aws.String("SET last_login = :t, updated_at = :t"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": stamp,
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to update user in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// MemoryUserRepository keeps accounts in process memory.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.Account
	byEmail map[string]string
	byPhone map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    map[string]*models.Account{},
		byEmail: map[string]string{},
		byPhone: map[string]string{},
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(id), nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(r.byEmail[NormalizeEmail(email)]), nil
}

func (r *MemoryUserRepository) GetByPhone(_ context.Context, phone string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(r.byPhone[phone]), nil
}

func (r *MemoryUserRepository) copyOf(id string) *models.Account {
	a, ok := r.byID[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (r *MemoryUserRepository) Create(_ context.Context, account *models.Account) error {
	prepareAccount(account)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[account.ID]; ok {
		return ErrUserExists
	}
	if _, ok := r.byEmail[account.Email]; ok && account.Email != "" {
		return ErrUserExists
	}
	if _, ok := r.byPhone[account.PhoneNumber]; ok && account.PhoneNumber != "" {
		return ErrUserExists
	}

	cp := *account
	r.byID[account.ID] = &cp
	if account.Email != "" {
		r.byEmail[account.Email] = account.ID
	}
	if account.PhoneNumber != "" {
		r.byPhone[account.PhoneNumber] = account.ID
	}
	return nil
}

func (r *MemoryUserRepository) RecordLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("user %s not found", id)
	}
	at = at.UTC()
	a.LastLogin = &at
	a.UpdatedAt = at
	return nil
}
