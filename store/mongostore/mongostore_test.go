package mongostore

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"

	"reaction-commerce/store"
	"reaction-commerce/store/storetest"
)

func TestMongoStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err, "Failed to start MongoDB container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	n := 0
	storetest.Run(t, func(t *testing.T) *store.Store {
		n++
		s, err := Connect(ctx, uri, fmt.Sprintf("reaction_test_%d", n))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close(ctx) })
		return s
	})
}

func TestDecimalCodec(t *testing.T) {
	reg := newRegistry()
	type doc struct {
		Amount decimal.Decimal `bson:"amount"`
	}

	raw, err := bson.MarshalWithRegistry(reg, doc{Amount: decimal.RequireFromString("19.99")})
	require.NoError(t, err)

	var out doc
	require.NoError(t, bson.UnmarshalWithRegistry(reg, raw, &out))
	assert.True(t, out.Amount.Equal(decimal.RequireFromString("19.99")))

	for name, v := range map[string]interface{}{
		"double": 2.5,
		"string": "2.5",
		"int32":  int32(2),
		"int64":  int64(2),
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := bson.Marshal(bson.M{"amount": v})
			require.NoError(t, err)
			var out doc
			require.NoError(t, bson.UnmarshalWithRegistry(reg, raw, &out))
			assert.False(t, out.Amount.IsZero())
		})
	}
}
