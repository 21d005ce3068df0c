package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoStore implements Store using two DynamoDB tables, one keyed by
// tenant_id and one keyed by session_id. Uniqueness of usernames and
// per-tenant session names is checked with a scan before writing.
type DynamoStore struct {
	db            *dynamodb.Client
	tenantsTable  string
	sessionsTable string
}

// NewDynamo creates a new DynamoDB-backed store
func NewDynamo(db *dynamodb.Client, tenantsTable, sessionsTable string) *DynamoStore {
	return &DynamoStore{db: db, tenantsTable: tenantsTable, sessionsTable: sessionsTable}
}

// CreateTables creates both tables with on-demand billing. Tables that
// already exist are left alone.
func (s *DynamoStore) CreateTables(ctx context.Context) error {
	for table, key := range map[string]string{s.tenantsTable: "tenant_id", s.sessionsTable: "session_id"} {
		_, err := s.db.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:            aws.String(table),
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String(key), KeyType: types.KeyTypeHash}},
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String(key), AttributeType: types.ScalarAttributeTypeS}},
			BillingMode:          types.BillingModePayPerRequest,
		})
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("dynamodb CreateTable %s: %w", table, err)
		}
	}
	return nil
}

func tenantKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"tenant_id": &types.AttributeValueMemberS{Value: id}}
}

func sessionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"session_id": &types.AttributeValueMemberS{Value: id}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// scan runs a paginated scan and unmarshals every item into T.
func scan[T any](ctx context.Context, db *dynamodb.Client, in *dynamodb.ScanInput) ([]*T, error) {
	var records []*T
	p := dynamodb.NewScanPaginator(db, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb Scan: %w", err)
		}
		for _, item := range out.Items {
			var rec T
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshal %s: %w", aws.ToString(in.TableName), err)
			}
			records = append(records, &rec)
		}
	}
	return records, nil
}

// GetTenant fetches a tenant record by ID
func (s *DynamoStore) GetTenant(ctx context.Context, tenantID string) (*TenantRecord, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tenantsTable),
		Key:       tenantKey(tenantID),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var rec TenantRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal tenant: %w", err)
	}
	return &rec, nil
}

func (s *DynamoStore) GetTenantByUsername(ctx context.Context, username string) (*TenantRecord, error) {
	if username == "" {
		return nil, nil
	}
	recs, err := scan[TenantRecord](ctx, s.db, &dynamodb.ScanInput{
		TableName:                 aws.String(s.tenantsTable),
		FilterExpression:          aws.String("username = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": &types.AttributeValueMemberS{Value: username}},
	})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// ListTenants returns all tenants ordered by name.
func (s *DynamoStore) ListTenants(ctx context.Context) ([]*TenantRecord, error) {
	recs, err := scan[TenantRecord](ctx, s.db, &dynamodb.ScanInput{TableName: aws.String(s.tenantsTable)})
	if err != nil {
		return nil, err
	}
	sortTenants(recs)
	return recs, nil
}

func (s *DynamoStore) usernameTaken(ctx context.Context, tenantID, username string) (bool, error) {
	other, err := s.GetTenantByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	return other != nil && other.TenantID != tenantID, nil
}

// CreateTenant creates a new tenant record (fails if already exists)
func (s *DynamoStore) CreateTenant(ctx context.Context, record *TenantRecord) error {
	taken, err := s.usernameTaken(ctx, record.TenantID, record.Username)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("username %q: %w", record.Username, ErrConflict)
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal tenant: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tenantsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(tenant_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("tenant %s: %w", record.TenantID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("dynamodb PutItem: %w", err)
	}
	return nil
}

// UpdateTenant replaces an existing tenant record.
func (s *DynamoStore) UpdateTenant(ctx context.Context, record *TenantRecord) error {
	taken, err := s.usernameTaken(ctx, record.TenantID, record.Username)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("username %q: %w", record.Username, ErrConflict)
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal tenant: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tenantsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(tenant_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("tenant %s: %w", record.TenantID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("dynamodb PutItem: %w", err)
	}
	return nil
}

// DeleteTenant removes a tenant record and its sessions
func (s *DynamoStore) DeleteTenant(ctx context.Context, tenantID string) error {
	sessions, err := s.ListSessionsByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.DeleteSession(ctx, sess.SessionID); err != nil {
			return err
		}
	}
	_, err = s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tenantsTable),
		Key:       tenantKey(tenantID),
	})
	if err != nil {
		return fmt.Errorf("dynamodb DeleteItem: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.sessionsTable),
		Key:            sessionKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var rec SessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &rec, nil
}

func (s *DynamoStore) scanSessions(ctx context.Context, filter string, values map[string]types.AttributeValue) ([]*SessionRecord, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(s.sessionsTable)}
	if filter != "" {
		in.FilterExpression = aws.String(filter)
		in.ExpressionAttributeValues = values
		if strings.Contains(filter, "#s") {
			in.ExpressionAttributeNames = map[string]string{"#s": "status"}
		}
	}
	recs, err := scan[SessionRecord](ctx, s.db, in)
	if err != nil {
		return nil, err
	}
	sortSessions(recs)
	return recs, nil
}

func (s *DynamoStore) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	return s.scanSessions(ctx, "", nil)
}

func (s *DynamoStore) ListSessionsByTenant(ctx context.Context, tenantID string) ([]*SessionRecord, error) {
	return s.scanSessions(ctx, "tenant_id = :t", map[string]types.AttributeValue{
		":t": &types.AttributeValueMemberS{Value: tenantID},
	})
}

// ListSessionsByStatus returns all sessions with the given status
func (s *DynamoStore) ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]*SessionRecord, error) {
	return s.scanSessions(ctx, "#s = :status", map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
	})
}

func (s *DynamoStore) CreateSession(ctx context.Context, sessionID, tenantID string, status SessionStatus) error {
	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	item, err := attributevalue.MarshalMap(&SessionRecord{
		SessionID:    sessionID,
		TenantID:     tenantID,
		Status:       status,
		LastActiveAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.sessionsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(session_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("session %s: %w", sessionID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("dynamodb PutItem: %w", err)
	}
	return nil
}

// UpdateSession applies u and bumps last_active_at atomically.
func (s *DynamoStore) UpdateSession(ctx context.Context, sessionID string, u SessionUpdate) error {
	if u.Name != nil && *u.Name != "" {
		cur, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		siblings, err := s.ListSessionsByTenant(ctx, cur.TenantID)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			if sib.SessionID != sessionID && sib.Name == *u.Name {
				return fmt.Errorf("session name %q: %w", *u.Name, ErrConflict)
			}
		}
	}

	set := []string{"last_active_at = :la"}
	var remove []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":la": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	if u.Status != nil {
		set = append(set, "#s = :s")
		names["#s"] = "status"
		values[":s"] = &types.AttributeValueMemberS{Value: string(*u.Status)}
	}
	setOrRemove := func(attr, placeholder string, v *string) {
		switch {
		case v == nil:
		case *v == "":
			remove = append(remove, attr)
		default:
			set = append(set, attr+" = "+placeholder)
			values[placeholder] = &types.AttributeValueMemberS{Value: *v}
		}
	}
	setOrRemove("scan_code", ":qr", u.ScanCode)
	setOrRemove("#n", ":n", u.Name)
	if u.Name != nil {
		names["#n"] = "name"
	}

	expr := "SET " + strings.Join(set, ", ")
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}
	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.sessionsTable),
		Key:                       sessionKey(sessionID),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(session_id)"),
	}
	if len(names) > 0 {
		in.ExpressionAttributeNames = names
	}
	_, err := s.db.UpdateItem(ctx, in)
	if isConditionFailed(err) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("dynamodb UpdateItem: %w", err)
	}
	return nil
}

// DeleteSession removes a session record
func (s *DynamoStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.sessionsTable),
		Key:       sessionKey(sessionID),
	})
	if err != nil {
		return fmt.Errorf("dynamodb DeleteItem: %w", err)
	}
	return nil
}

func (s *DynamoStore) CleanUpStaleSessions(ctx context.Context) (int, error) {
	stale, err := s.scanSessions(ctx, "#s IN (:i, :p)", map[string]types.AttributeValue{
		":i": &types.AttributeValueMemberS{Value: string(StatusInitializing)},
		":p": &types.AttributeValueMemberS{Value: string(StatusPendingScan)},
	})
	if err != nil {
		return 0, err
	}
	for _, sess := range stale {
		if err := s.DeleteSession(ctx, sess.SessionID); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (s *DynamoStore) Close() error { return nil }
