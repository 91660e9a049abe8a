// Package mongostore is the MongoDB implementation of store.Store.
package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"reaction-commerce/models"
	"reaction-commerce/store"
)

// Collection names.
const (
	colUsers          = "users"
	colShops          = "shops"
	colProducts       = "products"
	colCarts          = "carts"
	colOrders         = "orders"
	colReservations   = "reservations"
	colTaxRates       = "tax_rates"
	colSurcharges     = "surcharges"
	colServiceConfigs = "service_configurations"
)

// Connect dials MongoDB, ensures indexes and returns a store backed by database.
func Connect(ctx context.Context, uri, database string) (*store.Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRegistry(newRegistry()))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongodb")
	}

	db := client.Database(database)
	if err := ensureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &store.Store{
		Users:          &users{db.Collection(colUsers)},
		Shops:          &shops{db.Collection(colShops)},
		Products:       &products{db.Collection(colProducts)},
		Carts:          &carts{db.Collection(colCarts)},
		Orders:         &orders{db.Collection(colOrders)},
		Reservations:   &reservations{db.Collection(colReservations)},
		TaxRates:       &taxRates{db.Collection(colTaxRates)},
		Surcharges:     &surcharges{db.Collection(colSurcharges)},
		ServiceConfigs: &serviceConfigs{db.Collection(colServiceConfigs)},
		Close:          client.Disconnect,
	}, nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		colShops: {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$type": "string"}})},
			{Keys: bson.D{{Key: "verification_token", Value: 1}}},
		},
		colProducts: {
			{Keys: bson.D{{Key: "ancestors", Value: 1}}},
			{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "type", Value: 1}}},
		},
		colCarts: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
		},
		colOrders: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "cart_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colReservations: {
			{Keys: bson.D{{Key: "cart_item_id", Value: 1}}, Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(models.ReservationReserved)})},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
			{Keys: bson.D{{Key: "cart_id", Value: 1}}},
			{Keys: bson.D{{Key: "variant_id", Value: 1}}},
		},
		colTaxRates: {
			{Keys: bson.D{{Key: "shop_id", Value: 1}}},
		},
	}
	for name, idx := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return errors.Wrapf(err, "create indexes on %s", name)
		}
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicate
	default:
		return err
	}
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts ...*options.FindOneOptions) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter, opts...).Decode(&out); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func findMany[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]*T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := []*T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func insert(ctx context.Context, coll *mongo.Collection, doc interface{}) error {
	_, err := coll.InsertOne(ctx, doc)
	return translate(err)
}

func upsert(ctx context.Context, coll *mongo.Collection, id interface{}, doc interface{}) error {
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return translate(err)
}

// replaceCAS replaces the document only while its stored version equals
// *version, storing and reporting *version+1.
func replaceCAS(ctx context.Context, coll *mongo.Collection, id string, version *int, doc interface{}) error {
	expected := *version
	*version = expected + 1
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "version": expected}, doc)
	if err != nil {
		*version = expected
		return translate(err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	*version = expected
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func deleteByID(ctx context.Context, coll *mongo.Collection, id string) error {
	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

type users struct{ coll *mongo.Collection }

func (s *users) Create(ctx context.Context, u *models.User) error { return insert(ctx, s.coll, u) }

func (s *users) Get(ctx context.Context, id string) (*models.User, error) {
	return findOne[models.User](ctx, s.coll, bson.M{"_id": id})
}

func (s *users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return findOne[models.User](ctx, s.coll, bson.M{"email": email})
}

func (s *users) GetByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return findOne[models.User](ctx, s.coll, bson.M{"verification_token": token})
}

func (s *users) Update(ctx context.Context, u *models.User) error {
	return replaceCAS(ctx, s.coll, u.ID, &u.Version, u)
}

func (s *users) Delete(ctx context.Context, id string) error { return deleteByID(ctx, s.coll, id) }

type shops struct{ coll *mongo.Collection }

func (s *shops) Upsert(ctx context.Context, shop *models.Shop) error {
	return upsert(ctx, s.coll, shop.ID, shop)
}

func (s *shops) Get(ctx context.Context, id string) (*models.Shop, error) {
	return findOne[models.Shop](ctx, s.coll, bson.M{"_id": id})
}

func (s *shops) GetBySlug(ctx context.Context, slug string) (*models.Shop, error) {
	return findOne[models.Shop](ctx, s.coll, bson.M{"slug": slug})
}

func (s *shops) GetPrimary(ctx context.Context) (*models.Shop, error) {
	return findOne[models.Shop](ctx, s.coll, bson.M{"primary": true})
}

func (s *shops) List(ctx context.Context) ([]*models.Shop, error) {
	return findMany[models.Shop](ctx, s.coll, bson.M{}, options.Find().SetSort(bson.D{{Key: "slug", Value: 1}}))
}

type products struct{ coll *mongo.Collection }

var productOrder = options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

func (s *products) Create(ctx context.Context, p *models.Product) error {
	return insert(ctx, s.coll, p)
}

func (s *products) Upsert(ctx context.Context, p *models.Product) error {
	return upsert(ctx, s.coll, p.ID, p)
}

func (s *products) Get(ctx context.Context, id string) (*models.Product, error) {
	return findOne[models.Product](ctx, s.coll, bson.M{"_id": id})
}

func (s *products) List(ctx context.Context, f store.ProductFilter) ([]*models.Product, error) {
	filter := bson.M{}
	if f.ShopID != "" {
		filter["shop_id"] = f.ShopID
	}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if !f.IncludeDeleted {
		filter["is_deleted"] = bson.M{"$ne": true}
	}
	return findMany[models.Product](ctx, s.coll, filter, productOrder)
}

func (s *products) Variants(ctx context.Context, productID string) ([]*models.Product, error) {
	return findMany[models.Product](ctx, s.coll, bson.M{"ancestors": productID, "is_deleted": bson.M{"$ne": true}}, productOrder)
}

func (s *products) Update(ctx context.Context, p *models.Product) error {
	return replaceCAS(ctx, s.coll, p.ID, &p.Version, p)
}

func (s *products) AdjustInventory(ctx context.Context, variantID string, delta models.InventoryDelta, guard bool) (*models.Product, error) {
	filter := bson.M{"_id": variantID}
	if guard {
		filter["inventory_available_to_sell"] = bson.M{"$gte": -delta.AvailableToSell}
	}
	inc := bson.M{"$inc": bson.M{
		"inventory_quantity":          delta.Quantity,
		"inventory_available_to_sell": delta.AvailableToSell,
		"version":                     1,
	}}

	var variant models.Product
	err := s.coll.FindOneAndUpdate(ctx, filter, inc, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&variant)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := s.coll.CountDocuments(ctx, bson.M{"_id": variantID})
		if cerr != nil {
			return nil, cerr
		}
		if n == 0 {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrInsufficientStock
	}
	if err != nil {
		return nil, err
	}

	if len(variant.Ancestors) > 0 {
		if _, err := s.coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": variant.Ancestors}}, inc); err != nil {
			return nil, errors.Wrapf(err, "adjust ancestors of %s", variantID)
		}
	}
	return &variant, nil
}

type carts struct{ coll *mongo.Collection }

func (s *carts) Create(ctx context.Context, c *models.Cart) error { return insert(ctx, s.coll, c) }

func (s *carts) Get(ctx context.Context, id string) (*models.Cart, error) {
	return findOne[models.Cart](ctx, s.coll, bson.M{"_id": id})
}

func (s *carts) GetByUser(ctx context.Context, userID string) (*models.Cart, error) {
	return findOne[models.Cart](ctx, s.coll, bson.M{"user_id": userID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (s *carts) ListBySession(ctx context.Context, sessionID string) ([]*models.Cart, error) {
	if sessionID == "" {
		return nil, nil
	}
	return findMany[models.Cart](ctx, s.coll, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (s *carts) Update(ctx context.Context, c *models.Cart) error {
	return replaceCAS(ctx, s.coll, c.ID, &c.Version, c)
}

func (s *carts) Delete(ctx context.Context, id string) error { return deleteByID(ctx, s.coll, id) }

type orders struct{ coll *mongo.Collection }

var newestFirst = options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

func (s *orders) Create(ctx context.Context, o *models.Order) error { return insert(ctx, s.coll, o) }

func (s *orders) Get(ctx context.Context, id string) (*models.Order, error) {
	return findOne[models.Order](ctx, s.coll, bson.M{"_id": id})
}

func (s *orders) GetByCart(ctx context.Context, cartID string) (*models.Order, error) {
	return findOne[models.Order](ctx, s.coll, bson.M{"cart_id": cartID})
}

func (s *orders) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return findMany[models.Order](ctx, s.coll, bson.M{"user_id": userID}, newestFirst)
}

func (s *orders) ListAll(ctx context.Context) ([]*models.Order, error) {
	return findMany[models.Order](ctx, s.coll, bson.M{}, newestFirst)
}

func (s *orders) Update(ctx context.Context, o *models.Order) error {
	return replaceCAS(ctx, s.coll, o.ID, &o.Version, o)
}

type reservations struct{ coll *mongo.Collection }

var oldestFirst = options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

func (s *reservations) Create(ctx context.Context, r *models.Reservation) error {
	return insert(ctx, s.coll, r)
}

func (s *reservations) FindActiveByCartItem(ctx context.Context, cartItemID string) (*models.Reservation, error) {
	return findOne[models.Reservation](ctx, s.coll, bson.M{"cart_item_id": cartItemID, "status": models.ReservationReserved})
}

func (s *reservations) FindByCart(ctx context.Context, cartID string) ([]*models.Reservation, error) {
	return findMany[models.Reservation](ctx, s.coll, bson.M{"cart_id": cartID}, oldestFirst)
}

func (s *reservations) FindActiveByVariant(ctx context.Context, variantID string) ([]*models.Reservation, error) {
	return findMany[models.Reservation](ctx, s.coll, bson.M{"variant_id": variantID, "status": models.ReservationReserved}, oldestFirst)
}

func (s *reservations) FindExpired(ctx context.Context, before time.Time, limit int) ([]*models.Reservation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findMany[models.Reservation](ctx, s.coll, bson.M{
		"status":     models.ReservationReserved,
		"expires_at": bson.M{"$lt": before},
	}, opts)
}

func (s *reservations) Update(ctx context.Context, r *models.Reservation) error {
	return replaceCAS(ctx, s.coll, r.ID, &r.Version, r)
}

type taxRates struct{ coll *mongo.Collection }

func (s *taxRates) Upsert(ctx context.Context, r *models.TaxRate) error {
	return upsert(ctx, s.coll, r.ID, r)
}

func (s *taxRates) ListByShop(ctx context.Context, shopID string) ([]*models.TaxRate, error) {
	return findMany[models.TaxRate](ctx, s.coll, bson.M{"shop_id": shopID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

type surcharges struct{ coll *mongo.Collection }

func (s *surcharges) Upsert(ctx context.Context, sc *models.Surcharge) error {
	return upsert(ctx, s.coll, sc.ID, sc)
}

func (s *surcharges) Get(ctx context.Context, shopID, id string) (*models.Surcharge, error) {
	return findOne[models.Surcharge](ctx, s.coll, bson.M{"_id": id, "shop_id": shopID})
}

type serviceConfigs struct{ coll *mongo.Collection }

func (s *serviceConfigs) Upsert(ctx context.Context, c *models.ServiceConfiguration) error {
	return upsert(ctx, s.coll, c.Service, c)
}

func (s *serviceConfigs) Get(ctx context.Context, service string) (*models.ServiceConfiguration, error) {
	return findOne[models.ServiceConfiguration](ctx, s.coll, bson.M{"_id": service})
}
