package implementation

import (
	"context"
	"fmt"
	"time"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoTelemetryRepository struct {
	coll *mongo.Collection
}

func NewMongoTelemetryRepository(coll *mongo.Collection) *MongoTelemetryRepository {
	return &MongoTelemetryRepository{coll: coll}
}

func (r *MongoTelemetryRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "device", Value: 1}, {Key: "serverTimestamp", Value: -1}, {Key: "_id", Value: -1}},
		Options: options.Index().SetName("device_server_ts_desc"),
	})
	if err != nil {
		return fmt.Errorf("failed to create telemetry index: %w", err)
	}
	return nil
}

func (r *MongoTelemetryRepository) Insert(ctx context.Context, rd mqtmodels.Reading) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.coll.InsertOne(ctx, rd)
	return err
}

// Recent breaks serverTimestamp ties on _id, which is a time-ordered UUIDv7
func (r *MongoTelemetryRepository) Recent(ctx context.Context, deviceID string, limit int) ([]mqtmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "serverTimestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, bson.M{"device": deviceID}, opts)
	if err != nil {
		return nil, err
	}
	readings := make([]mqtmodels.Reading, 0, limit)
	if err := cur.All(ctx, &readings); err != nil {
		return nil, err
	}
	return readings, nil
}
