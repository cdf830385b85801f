// Package mongostore stores fixes and vehicles in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store"
)

const (
	positionCollection = "positions"
	vehicleCollection  = "vehicles"
	counterCollection  = "counters"
)

type positionDoc struct {
	DeviceID   string    `bson:"device_id"`
	Timestamp  time.Time `bson:"timestamp"`
	Latitude   float64   `bson:"latitude"`
	Longitude  float64   `bson:"longitude"`
	SpeedKmh   float64   `bson:"speed"`
	CourseDeg  float64   `bson:"course"`
	Satellites int       `bson:"satellites"`
	Valid      bool      `bson:"valid"`
	RawMessage string    `bson:"raw_message"`
	ReceivedAt time.Time `bson:"received_at"`
}

func toDoc(f fix.Fix) positionDoc {
	return positionDoc{
		DeviceID:   f.DeviceID,
		Timestamp:  f.Timestamp,
		Latitude:   f.Latitude,
		Longitude:  f.Longitude,
		SpeedKmh:   f.SpeedKmh,
		CourseDeg:  f.CourseDeg,
		Satellites: f.Satellites,
		Valid:      f.Valid,
		RawMessage: fix.TruncateRaw(f.RawMessage),
		ReceivedAt: f.ReceivedAt,
	}
}

func (d positionDoc) fix() fix.Fix {
	return fix.Fix{
		DeviceID:   d.DeviceID,
		Timestamp:  d.Timestamp.UTC(),
		Latitude:   d.Latitude,
		Longitude:  d.Longitude,
		SpeedKmh:   d.SpeedKmh,
		CourseDeg:  d.CourseDeg,
		Satellites: d.Satellites,
		Valid:      d.Valid,
		RawMessage: d.RawMessage,
		ReceivedAt: d.ReceivedAt.UTC(),
	}
}

type vehicleDoc struct {
	ID           int64     `bson:"_id"`
	DeviceID     string    `bson:"device_id"`
	Name         string    `bson:"name"`
	LicensePlate string    `bson:"license_plate"`
	DriverName   string    `bson:"driver_name"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d vehicleDoc) vehicle() fix.Vehicle {
	return fix.Vehicle{ID: d.ID, DeviceID: d.DeviceID, Name: d.Name, LicensePlate: d.LicensePlate, DriverName: d.DriverName, Active: d.Active, CreatedAt: d.CreatedAt.UTC()}
}

type Store struct {
	client    *mongo.Client
	positions *mongo.Collection
	vehicles  *mongo.Collection
	counters  *mongo.Collection
	log       log.Logger
}

// Connect dials uri, pings it and returns a store on database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return New(client, client.Database(database)), nil
}

func New(client *mongo.Client, db *mongo.Database) *Store {
	st := &Store{
		client:    client,
		positions: db.Collection(positionCollection),
		vehicles:  db.Collection(vehicleCollection),
		counters:  db.Collection(counterCollection),
	}
	st.log = log.DefaultLogger
	st.log.Context = log.NewContext(nil).Str("module", "mongostore").Value()
	return st
}

// EnsureIndexes creates the query indexes and the unique device index.
func (st *Store) EnsureIndexes(ctx context.Context) error {
	_, err := st.positions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "received_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: position indexes: %w", err)
	}
	_, err = st.vehicles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "device_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongostore: vehicle index: %w", err)
	}
	return nil
}

func (st *Store) Close() {
	if st.client != nil {
		_ = st.client.Disconnect(context.Background())
	}
}

func (st *Store) Save(ctx context.Context, f fix.Fix) error {
	_, err := st.positions.InsertOne(ctx, toDoc(f))
	if err != nil {
		st.log.Error().Err(err).EmbedObject(f).Msg("error saving fix")
	}
	return err
}

func (st *Store) SaveBatch(ctx context.Context, fixes []fix.Fix) error {
	if len(fixes) == 0 {
		return nil
	}
	docs := make([]interface{}, len(fixes))
	for i, f := range fixes {
		docs[i] = toDoc(f)
	}
	_, err := st.positions.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		st.log.Error().Err(err).Int("length", len(fixes)).Msg("flush error")
	}
	return err
}

func (st *Store) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]fix.Fix, error) {
	cursor, err := st.positions.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var docs []positionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]fix.Fix, len(docs))
	for i, d := range docs {
		out[i] = d.fix()
	}
	return out, nil
}

func (st *Store) Latest(ctx context.Context, n int) ([]fix.Fix, error) {
	if n <= 0 {
		n = store.DefaultLatestCount
	}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}}).SetLimit(int64(n))
	return st.find(ctx, bson.M{}, opts)
}

func (st *Store) ByDeviceAndRange(ctx context.Context, deviceID string, from, to time.Time) ([]fix.Fix, error) {
	filter := bson.M{
		"device_id": deviceID,
		"timestamp": bson.M{"$gte": from, "$lte": to},
	}
	return st.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
}

func (st *Store) LatestByDevice(ctx context.Context, deviceID string) (fix.Fix, error) {
	var d positionDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "received_at", Value: -1}})
	err := st.positions.FindOne(ctx, bson.M{"device_id": deviceID}, opts).Decode(&d)
	if err != nil {
		return fix.Fix{}, mapErr(err)
	}
	return d.fix(), nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicate
	}
	return err
}

func (st *Store) nextVehicleID(ctx context.Context) (int64, error) {
	var c struct {
		Seq int64 `bson:"seq"`
	}
	err := st.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": vehicleCollection},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	return c.Seq, err
}

func (st *Store) CreateVehicle(ctx context.Context, v *fix.Vehicle) error {
	id, err := st.nextVehicleID(ctx)
	if err != nil {
		return err
	}
	created := time.Now().UTC().Truncate(time.Millisecond)
	doc := vehicleDoc{ID: id, DeviceID: v.DeviceID, Name: v.Name, LicensePlate: v.LicensePlate, DriverName: v.DriverName, Active: v.Active, CreatedAt: created}
	if _, err := st.vehicles.InsertOne(ctx, doc); err != nil {
		return mapErr(err)
	}
	v.ID = id
	v.CreatedAt = created
	return nil
}

func (st *Store) vehicle(ctx context.Context, filter bson.M) (fix.Vehicle, error) {
	var d vehicleDoc
	if err := st.vehicles.FindOne(ctx, filter).Decode(&d); err != nil {
		return fix.Vehicle{}, mapErr(err)
	}
	return d.vehicle(), nil
}

func (st *Store) Vehicle(ctx context.Context, id int64) (fix.Vehicle, error) {
	return st.vehicle(ctx, bson.M{"_id": id})
}

func (st *Store) VehicleByDevice(ctx context.Context, deviceID string) (fix.Vehicle, error) {
	return st.vehicle(ctx, bson.M{"device_id": deviceID})
}

func (st *Store) Vehicles(ctx context.Context) ([]fix.Vehicle, error) {
	cursor, err := st.vehicles.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var docs []vehicleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]fix.Vehicle, len(docs))
	for i, d := range docs {
		out[i] = d.vehicle()
	}
	return out, nil
}

func (st *Store) UpdateVehicle(ctx context.Context, v fix.Vehicle) error {
	res, err := st.vehicles.UpdateOne(ctx, bson.M{"_id": v.ID}, bson.M{"$set": bson.M{
		"device_id":     v.DeviceID,
		"name":          v.Name,
		"license_plate": v.LicensePlate,
		"driver_name":   v.DriverName,
		"active":        v.Active,
	}})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (st *Store) DeleteVehicle(ctx context.Context, id int64) error {
	res, err := st.vehicles.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
