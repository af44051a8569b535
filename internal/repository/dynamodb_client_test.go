package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut    *dynamodb.GetItemOutput
	getErr    error
	putErr    error
	queryOuts []*dynamodb.QueryOutput
	queryErr  error
	deleteErr error

	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	queryInputs  []*dynamodb.QueryInput
	deleted      []string
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, in.Key["SK"].(*types.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func makeValueItem(value string, ttl int64) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: "SESSION#s1"},
		"SK":    &types.AttributeValueMemberS{Value: "KEY#activeDataset"},
		"value": &types.AttributeValueMemberS{Value: value},
	}
	if ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)}
	}
	return item
}

func keyItem(sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SESSION#s1"},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func mustNewDynamoStore(t *testing.T, db *fakeDynamo, ttl time.Duration) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(db, "sessions", ttl)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return s
}

// ---------------------------------------------------------------------------
// NewDynamoStore
// ---------------------------------------------------------------------------

func TestNewDynamoStore_Validation(t *testing.T) {
	_, err := NewDynamoStore(nil, "sessions", 0)
	require.ErrorContains(t, err, "api must not be nil")

	_, err = NewDynamoStore(&fakeDynamo{}, " ", 0)
	require.ErrorContains(t, err, "table name")

	_, err = NewDynamoStore(&fakeDynamo{}, "sessions", -time.Second)
	require.ErrorContains(t, err, "ttl")
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestDynamoGet_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeValueItem("/tmp/q3.db", 0)}}
	s := mustNewDynamoStore(t, db, 0)

	v, ok, err := s.Get(context.Background(), "s1", "activeDataset")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/tmp/q3.db", v)

	in := db.lastGetInput
	require.Equal(t, "sessions", *in.TableName)
	require.True(t, *in.ConsistentRead)
	require.Equal(t, "SESSION#s1", in.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "KEY#activeDataset", in.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoGet_Missing(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}, 0)
	_, ok, err := s.Get(context.Background(), "s1", "activeDataset")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoGet_ExpiredItemIsMissing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeValueItem("/tmp/q3.db", 1_699_999_999)}}
	s := mustNewDynamoStore(t, db, time.Hour)
	_, ok, err := s.Get(context.Background(), "s1", "activeDataset")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoGet_UnexpiredItem(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeValueItem("/tmp/q3.db", 1_700_000_100)}}
	s := mustNewDynamoStore(t, db, time.Hour)
	v, ok, err := s.Get(context.Background(), "s1", "activeDataset")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/tmp/q3.db", v)
}

func TestDynamoGet_Errors(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getErr: errors.New("throttled")}, 0)
	_, _, err := s.Get(context.Background(), "s1", "activeDataset")
	require.ErrorContains(t, err, "throttled")

	bad := map[string]types.AttributeValue{"value": &types.AttributeValueMemberN{Value: "1"}}
	s = mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: bad}}, 0)
	_, _, err = s.Get(context.Background(), "s1", "activeDataset")
	require.ErrorContains(t, err, "not a string")
}

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

func TestDynamoSet_WritesItemWithTTL(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db, time.Hour)

	require.NoError(t, s.Set(context.Background(), "s1", "activeDataset", "/tmp/q3.db"))
	item := db.lastPutInput.Item
	require.Equal(t, "sessions", *db.lastPutInput.TableName)
	require.Equal(t, "SESSION#s1", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "KEY#activeDataset", item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "/tmp/q3.db", item["value"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "1700003600", item["ttl"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "2023-11-14T22:13:20Z", item["updatedAt"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoSet_NoTTL(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db, 0)
	require.NoError(t, s.Set(context.Background(), "s1", "activeDataset", "/tmp/q3.db"))
	_, hasTTL := db.lastPutInput.Item["ttl"]
	require.False(t, hasTTL)
}

func TestDynamoSet_Error(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{putErr: errors.New("denied")}, 0)
	require.ErrorContains(t, s.Set(context.Background(), "s1", "k", "v"), "denied")
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDynamoDelete_PagesThroughItems(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{keyItem("KEY#activeDataset")}, LastEvaluatedKey: keyItem("KEY#activeDataset")},
		{Items: []map[string]types.AttributeValue{keyItem("KEY#other")}},
	}}
	s := mustNewDynamoStore(t, db, 0)

	require.NoError(t, s.Delete(context.Background(), "s1"))
	require.Equal(t, []string{"KEY#activeDataset", "KEY#other"}, db.deleted)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
	require.Equal(t, "SESSION#s1", db.queryInputs[0].ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoDelete_Errors(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{queryErr: errors.New("boom")}, 0)
	require.ErrorContains(t, s.Delete(context.Background(), "s1"), "boom")

	db := &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{keyItem("KEY#a")}}},
		deleteErr: errors.New("conditional"),
	}
	s = mustNewDynamoStore(t, db, 0)
	require.ErrorContains(t, s.Delete(context.Background(), "s1"), "conditional")
}
