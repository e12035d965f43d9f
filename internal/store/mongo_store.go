package store

import (
	"context"
	"errors"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/clock"
	"github.com/EpicMandM/evcharge-booking/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists bookings and stations in two collections. Mongo keeps
// millisecond precision for dates, which is finer than any booking boundary.
type MongoStore struct {
	client   *mongo.Client
	bookings *mongo.Collection
	stations *mongo.Collection
	clock    clock.Clock
}

func NewMongoStore(ctx context.Context, uri, database string, c clock.Clock) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apperror.Store("connect to mongo", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, apperror.Store("ping mongo", err)
	}
	if c == nil {
		c = clock.Real{}
	}
	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		bookings: db.Collection("bookings"),
		stations: db.Collection("stations"),
		clock:    c,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	idxs := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "stationId", Value: 1}, {Key: "startTimeUtc", Value: 1}, {Key: "endTimeUtc", Value: 1}},
			Options: options.Index().SetName("station_window"),
		},
		{
			Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "startTimeUtc", Value: -1}},
			Options: options.Index().SetName("owner_start"),
		},
	}
	if _, err := s.bookings.Indexes().CreateMany(ctx, idxs); err != nil {
		return apperror.Store("create booking indexes", err)
	}
	return nil
}

// Drop removes both collections. Used by tests against a scratch database.
func (s *MongoStore) Drop(ctx context.Context) error {
	if err := s.bookings.Drop(ctx); err != nil {
		return apperror.Store("drop bookings", err)
	}
	if err := s.stations.Drop(ctx); err != nil {
		return apperror.Store("drop stations", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *MongoStore) CreateBooking(ctx context.Context, booking *models.Booking) (string, error) {
	if err := prepareNew(booking, s.clock.Now()); err != nil {
		return "", err
	}
	if _, err := s.bookings.InsertOne(ctx, booking); err != nil {
		return "", apperror.Store("insert booking", err)
	}
	return booking.ID, nil
}

func (s *MongoStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errBookingNotFound(id)
	}
	if err != nil {
		return nil, apperror.Store("get booking", err)
	}
	return &b, nil
}

func (s *MongoStore) SaveBooking(ctx context.Context, booking *models.Booking) error {
	res, err := s.bookings.ReplaceOne(ctx, bson.M{"_id": booking.ID}, booking)
	if err != nil {
		return apperror.Store("update booking", err)
	}
	if res.MatchedCount == 0 {
		return errBookingNotFound(booking.ID)
	}
	return nil
}

func (s *MongoStore) ListBookings(ctx context.Context) ([]*models.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdUtc", Value: -1}})
	return s.findBookings(ctx, bson.M{}, opts)
}

func (s *MongoStore) ListBookingsByStation(ctx context.Context, stationID string) ([]*models.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startTimeUtc", Value: -1}})
	return s.findBookings(ctx, bson.M{"stationId": stationID}, opts)
}

func (s *MongoStore) ListBookingsByOwner(ctx context.Context, ownerID string) ([]*models.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startTimeUtc", Value: -1}})
	return s.findBookings(ctx, bson.M{"ownerId": ownerID}, opts)
}

func overlapFilter(stationID string, w models.Window) bson.M {
	return bson.M{
		"stationId":    stationID,
		"status":       bson.M{"$in": activeStatusStrings()},
		"startTimeUtc": bson.M{"$lt": w.End.UTC()},
		"endTimeUtc":   bson.M{"$gt": w.Start.UTC()},
	}
}

func (s *MongoStore) CountActiveOverlapping(ctx context.Context, stationID string, w models.Window, excludeID string) (int, error) {
	filter := overlapFilter(stationID, w)
	if excludeID != "" {
		filter["_id"] = bson.M{"$ne": excludeID}
	}
	n, err := s.bookings.CountDocuments(ctx, filter)
	if err != nil {
		return 0, apperror.Store("count overlapping bookings", err)
	}
	return int(n), nil
}

func (s *MongoStore) ListActiveOverlapping(ctx context.Context, stationID string, w models.Window) ([]*models.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startTimeUtc", Value: 1}})
	return s.findBookings(ctx, overlapFilter(stationID, w), opts)
}

func (s *MongoStore) HasActiveBookings(ctx context.Context, stationID string) (bool, error) {
	filter := bson.M{"stationId": stationID, "status": bson.M{"$in": activeStatusStrings()}}
	n, err := s.bookings.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, apperror.Store("check active bookings", err)
	}
	return n > 0, nil
}

func (s *MongoStore) findBookings(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Booking, error) {
	cursor, err := s.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperror.Store("find bookings", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var bookings []*models.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, apperror.Store("decode bookings", err)
	}
	return bookings, nil
}

func (s *MongoStore) GetStation(ctx context.Context, id string) (*models.Station, error) {
	var st models.Station
	err := s.stations.FindOne(ctx, bson.M{"_id": id}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errStationNotFound(id)
	}
	if err != nil {
		return nil, apperror.Store("get station", err)
	}
	return &st, nil
}

func (s *MongoStore) CreateStation(ctx context.Context, station *models.Station) error {
	_, err := s.stations.InsertOne(ctx, station)
	if mongo.IsDuplicateKeyError(err) {
		return errStationExists(station.ID)
	}
	if err != nil {
		return apperror.Store("insert station", err)
	}
	return nil
}

func (s *MongoStore) SaveStation(ctx context.Context, station *models.Station) error {
	res, err := s.stations.ReplaceOne(ctx, bson.M{"_id": station.ID}, station)
	if err != nil {
		return apperror.Store("update station", err)
	}
	if res.MatchedCount == 0 {
		return errStationNotFound(station.ID)
	}
	return nil
}

func (s *MongoStore) ListStations(ctx context.Context) ([]*models.Station, error) {
	cursor, err := s.stations.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, apperror.Store("list stations", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var stations []*models.Station
	if err := cursor.All(ctx, &stations); err != nil {
		return nil, apperror.Store("decode stations", err)
	}
	return stations, nil
}

func (s *MongoStore) DeleteStation(ctx context.Context, id string) error {
	res, err := s.stations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperror.Store("delete station", err)
	}
	if res.DeletedCount == 0 {
		return errStationNotFound(id)
	}
	return nil
}
