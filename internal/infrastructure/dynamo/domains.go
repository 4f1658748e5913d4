package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-sender-api/internal/domain"
)

// DomainRepo provides typed DynamoDB operations for domain verification
// records in the single table.
type DomainRepo struct {
	client    *dynamodb.Client
	tableName string
	timeout   time.Duration
}

func NewDomainRepo(client *dynamodb.Client, tableName string, timeout time.Duration) *DomainRepo {
	return &DomainRepo{client: client, tableName: tableName, timeout: timeout}
}

type domainItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	domain.DomainVerificationRecord
}

func (r *DomainRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Upsert creates or replaces the record in a single PutItem. The whole DNS
// record set swaps atomically; concurrent readers never see a partial set.
func (r *DomainRepo) Upsert(ctx context.Context, rec *domain.DomainVerificationRecord) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	item, err := attributevalue.MarshalMap(domainItem{
		PK:                       domainPK(rec.Domain),
		SK:                       tenantSK(rec.TenantID),
		DomainVerificationRecord: *rec,
	})
	if err != nil {
		return fmt.Errorf("marshal domain record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// Get loads the tenant's verification record for a domain.
func (r *DomainRepo) Get(ctx context.Context, tenantID, dom string) (*domain.DomainVerificationRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(domainPK(dom), tenantSK(tenantID)),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("domain %s: %w", dom, domain.ErrNotFound)
	}
	var rec domain.DomainVerificationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, fmt.Errorf("domain %s: %w", dom, domain.ErrNotFound)
	}
	return &rec, nil
}

// UpdateConditional applies a partial update only while condField still holds
// condValue, bumping updated_at. A lost race fails with ErrConflict.
func (r *DomainRepo) UpdateConditional(ctx context.Context, tenantID, dom string, updates map[string]interface{}, condField string, condValue interface{}) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	updates[fieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	av, err := attributevalue.Marshal(condValue)
	if err != nil {
		return fmt.Errorf("marshal condition %s: %w", condField, err)
	}
	ue.Names["#cond"] = condField
	ue.Values[":cond"] = av

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(domainPK(dom), tenantSK(tenantID)),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(pk) AND #cond = :cond"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("domain %s changed concurrently: %w", dom, domain.ErrConflict)
	}
	return err
}

// Delete removes the record. Deleting a missing record fails with ErrNotFound.
func (r *DomainRepo) Delete(ctx context.Context, tenantID, dom string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(domainPK(dom), tenantSK(tenantID)),
		ConditionExpression:       aws.String("attribute_exists(pk) AND #tid = :tid"),
		ExpressionAttributeNames:  map[string]string{"#tid": fieldTenantID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":tid": &types.AttributeValueMemberS{Value: tenantID}},
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("domain %s: %w", dom, domain.ErrNotFound)
	}
	return err
}
