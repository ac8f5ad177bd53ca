package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoDeviceRepository struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoDeviceRepository(coll *mongo.Collection) *MongoDeviceRepository {
	return &MongoDeviceRepository{coll: coll, timeout: 5 * time.Second}
}

// EnsureIndexes creates the unique uid index the atomic upsert relies on
func (r *MongoDeviceRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "uid", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uid_unique")},
		{Keys: bson.D{{Key: "lastUpdated", Value: -1}}, Options: options.Index().SetName("last_updated_desc")},
	})
	if err != nil {
		return fmt.Errorf("failed to create device indexes: %w", err)
	}
	return nil
}

// FindOrCreate is a single findOneAndUpdate upsert keyed on uid. Two concurrent
// upserts for a new uid can both miss the filter; the loser gets a duplicate key
// error from the unique index and is retried once, which then matches the winner.
func (r *MongoDeviceRepository) FindOrCreate(ctx context.Context, candidate mqtmodels.Device, firmware string) (*mqtmodels.Device, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	set := bson.M{"lastUpdated": candidate.LastUpdated}
	if firmware != "" {
		set["fw"] = firmware
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"_id":       candidate.ID,
			"name":      candidate.Name,
			"createdAt": candidate.CreatedAt,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var device mqtmodels.Device
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"uid": candidate.UID}, update, opts).Decode(&device)
	if mongo.IsDuplicateKeyError(err) {
		err = r.coll.FindOneAndUpdate(ctx, bson.M{"uid": candidate.UID}, update, opts).Decode(&device)
	}
	if err != nil {
		return nil, false, err
	}
	return &device, device.ID == candidate.ID, nil
}

func (r *MongoDeviceRepository) GetByUID(ctx context.Context, uid string) (*mqtmodels.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var device mqtmodels.Device
	err := r.coll.FindOne(ctx, bson.M{"uid": uid}).Decode(&device)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *MongoDeviceRepository) List(ctx context.Context) ([]mqtmodels.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "lastUpdated", Value: -1}}))
	if err != nil {
		return nil, err
	}
	devices := make([]mqtmodels.Device, 0)
	if err := cur.All(ctx, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *MongoDeviceRepository) UpdateSnapshot(ctx context.Context, deviceID string, snapshot mqtmodels.LatestReading) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": deviceID},
		bson.M{"$set": bson.M{"latestReading": snapshot, "lastUpdated": snapshot.Timestamp}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *MongoDeviceRepository) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, readpref.Primary())
}
