package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-sender-api/internal/domain"
)

// SenderRepo provides typed DynamoDB operations for sender records in the
// single table. Every call runs under the configured store timeout.
type SenderRepo struct {
	client      *dynamodb.Client
	tableName   string
	tenantIndex string
	timeout     time.Duration
}

func NewSenderRepo(client *dynamodb.Client, tableName, tenantIndex string, timeout time.Duration) *SenderRepo {
	return &SenderRepo{client: client, tableName: tableName, tenantIndex: tenantIndex, timeout: timeout}
}

// senderItem decorates a sender record with the single-table key attributes.
type senderItem struct {
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk"`
	domain.Sender
}

// metaItem decorates the per-tenant aggregate row with its key attributes.
type metaItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	domain.TenantMeta
}

func (r *SenderRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// GetMeta loads the tenant's aggregate row. A tenant that has never created
// a sender has no row yet; that is reported as nil, not an error.
func (r *SenderRepo) GetMeta(ctx context.Context, tenantID string) (*domain.TenantMeta, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(tenantPK(tenantID), metaSK),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var m domain.TenantMeta
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Create persists a new sender and bumps the tenant's sender count in one
// transaction. The meta write is conditioned on the count the caller observed
// before deciding quota and default placement, so a concurrent create that
// moved the count first makes this one fail with ErrConflict.
func (r *SenderRepo) Create(ctx context.Context, s *domain.Sender, observed *domain.TenantMeta) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	item, err := attributevalue.MarshalMap(senderItem{
		PK:     senderPK(s.SenderID),
		SK:     tenantSK(s.TenantID),
		GSI1PK: tenantGSI(s.TenantID),
		Sender: *s,
	})
	if err != nil {
		return fmt.Errorf("marshal sender: %w", err)
	}

	count := 0
	if observed != nil {
		count = observed.SenderCount
	}
	metaAV, err := attributevalue.MarshalMap(metaItem{
		PK: tenantPK(s.TenantID),
		SK: metaSK,
		TenantMeta: domain.TenantMeta{
			TenantID:    s.TenantID,
			SenderCount: count + 1,
			UpdatedAt:   time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("marshal tenant meta: %w", err)
	}
	metaPut := &types.Put{
		TableName: aws.String(r.tableName),
		Item:      metaAV,
	}
	if observed == nil {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(pk)")
	} else {
		metaPut.ConditionExpression = aws.String("sender_count = :observed")
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":observed": &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
		}
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			{Put: metaPut},
		},
	})
	if isTransactionCanceled(err) {
		return fmt.Errorf("tenant %s senders changed concurrently: %w", s.TenantID, domain.ErrConflict)
	}
	return err
}

// Get loads a sender by id. Tenant ownership is enforced both by the sort
// key and by comparing the stored tenant_id, so a guessed id from another
// tenant resolves to ErrNotFound rather than leaking the record.
func (r *SenderRepo) Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(senderPK(senderID), tenantSK(tenantID)),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("sender %s: %w", senderID, domain.ErrNotFound)
	}
	var s domain.Sender
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, err
	}
	if s.TenantID != tenantID {
		return nil, fmt.Errorf("sender %s: %w", senderID, domain.ErrNotFound)
	}
	return &s, nil
}

// ListByTenant returns all of a tenant's senders via the tenant GSI.
// Order is whatever the index returns; callers must not rely on it.
func (r *SenderRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.Sender, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var senders []domain.Sender
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.tableName),
			IndexName:                 aws.String(r.tenantIndex),
			KeyConditionExpression:    aws.String("#g = :t"),
			ExpressionAttributeNames:  map[string]string{"#g": attrGSI1PK},
			ExpressionAttributeValues: map[string]types.AttributeValue{":t": &types.AttributeValueMemberS{Value: tenantGSI(tenantID)}},
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, err
		}
		var page []domain.Sender
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		senders = append(senders, page...)
		if out.LastEvaluatedKey == nil {
			return senders, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Update applies a partial update to an owned sender and bumps updated_at.
// A missing or foreign record fails with ErrNotFound.
func (r *SenderRepo) Update(ctx context.Context, tenantID, senderID string, updates map[string]interface{}) error {
	err := r.update(ctx, tenantID, senderID, updates, "", nil)
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("sender %s: %w", senderID, domain.ErrNotFound)
	}
	return err
}

// UpdateConditional applies a partial update only while condField still holds
// condValue. A lost race fails with ErrConflict so the caller can retry.
func (r *SenderRepo) UpdateConditional(ctx context.Context, tenantID, senderID string, updates map[string]interface{}, condField string, condValue interface{}) error {
	err := r.update(ctx, tenantID, senderID, updates, condField, condValue)
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("sender %s changed concurrently: %w", senderID, domain.ErrConflict)
	}
	return err
}

func (r *SenderRepo) update(ctx context.Context, tenantID, senderID string, updates map[string]interface{}, condField string, condValue interface{}) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	updates[fieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}

	cond := "attribute_exists(pk) AND #tid = :tid"
	ue.Names["#tid"] = fieldTenantID
	ue.Values[":tid"] = &types.AttributeValueMemberS{Value: tenantID}
	if condField != "" {
		av, mErr := attributevalue.Marshal(condValue)
		if mErr != nil {
			return fmt.Errorf("marshal condition %s: %w", condField, mErr)
		}
		cond += " AND #cond = :cond"
		ue.Names["#cond"] = condField
		ue.Values[":cond"] = av
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(senderPK(senderID), tenantSK(tenantID)),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}

// Delete removes an owned sender and decrements the tenant's sender count in
// one transaction. Deleting a missing or foreign record fails with ErrNotFound.
func (r *SenderRepo) Delete(ctx context.Context, tenantID, senderID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	now, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:                 aws.String(r.tableName),
				Key:                       compositeKey(senderPK(senderID), tenantSK(tenantID)),
				ConditionExpression:       aws.String("attribute_exists(pk) AND #tid = :tid"),
				ExpressionAttributeNames:  map[string]string{"#tid": fieldTenantID},
				ExpressionAttributeValues: map[string]types.AttributeValue{":tid": &types.AttributeValueMemberS{Value: tenantID}},
			}},
			{Update: &types.Update{
				TableName:           aws.String(r.tableName),
				Key:                 compositeKey(tenantPK(tenantID), metaSK),
				UpdateExpression:    aws.String("SET sender_count = sender_count - :one, updated_at = :now"),
				ConditionExpression: aws.String("attribute_exists(pk) AND sender_count >= :one"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":one": &types.AttributeValueMemberN{Value: "1"},
					":now": now,
				},
			}},
		},
	})
	if isTransactionCanceled(err) {
		// First item is the sender row; its condition failing means the
		// tenant does not own such a sender.
		if reasonFailed(err, 0) {
			return fmt.Errorf("sender %s: %w", senderID, domain.ErrNotFound)
		}
		return fmt.Errorf("tenant %s senders changed concurrently: %w", tenantID, domain.ErrConflict)
	}
	return err
}
