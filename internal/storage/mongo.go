package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"parcelharvest/internal/config"
	"parcelharvest/internal/model"
)

const (
	subjectCollection = "subject_records"
	historyCollection = "collection_history"
)

// MongoStore owns the MongoDB client and hands out session-backed
// connections through its Factory. One pooled Conn maps to one session,
// so a Lease corresponds to one transaction scope at a time.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects and ensures the engine's indexes exist.
func NewMongoStore(cfg config.MongoDBConfig) (*MongoStore, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	client, err := mongo.Connect(context.TODO(), clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(cfg.DB)

	subjectIndexes := []mongo.IndexModel{
		{
			// One current record per subject and collection type.
			Keys:    bson.D{{Key: "subject_key", Value: 1}, {Key: "type", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	historyIndexes := []mongo.IndexModel{
		{
			// History rows reference their subject record.
			Keys:    bson.D{{Key: "subject_key", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "collected_at", Value: -1}},
			Options: options.Index(),
		},
	}

	if _, err := db.Collection(subjectCollection).Indexes().CreateMany(context.Background(), subjectIndexes); err != nil {
		log.Warn().Err(err).Str("Collection", subjectCollection).Msg("Error creating indexes")
	}
	if _, err := db.Collection(historyCollection).Indexes().CreateMany(context.Background(), historyIndexes); err != nil {
		log.Warn().Err(err).Str("Collection", historyCollection).Msg("Error creating indexes")
	}

	log.Info().Str("db", cfg.DB).Msg("MongoDB store initialized")
	return &MongoStore{client: client, db: db}, nil
}

// Factory returns the connection factory the pool builds leases from.
func (m *MongoStore) Factory() Factory {
	return func(context.Context) (Conn, error) {
		sess, err := m.client.StartSession()
		if err != nil {
			return nil, err
		}
		return &mongoConn{store: m, sess: sess}, nil
	}
}

// Health pings the server.
func (m *MongoStore) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := m.client.Ping(ctx, nil); err != nil {
		log.Error().Msgf("Storage health error: %v", err)
		return err
	}
	return nil
}

// Disconnect tears down the underlying client once the pool is closed.
func (m *MongoStore) Disconnect(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoConn struct {
	store *MongoStore
	sess  mongo.Session
}

func (c *mongoConn) Begin(ctx context.Context) (Tx, error) {
	if err := c.sess.StartTransaction(); err != nil {
		return nil, err
	}
	return &mongoTx{conn: c}, nil
}

func (c *mongoConn) Ping(ctx context.Context) error {
	return c.store.client.Ping(ctx, nil)
}

func (c *mongoConn) Close(ctx context.Context) error {
	c.sess.EndSession(ctx)
	return nil
}

type mongoTx struct {
	conn *mongoConn
}

func (t *mongoTx) sessionContext(ctx context.Context) mongo.SessionContext {
	return mongo.NewSessionContext(ctx, t.conn.sess)
}

func (t *mongoTx) UpsertSubject(ctx context.Context, rec *model.SubjectRecord) error {
	sc := t.sessionContext(ctx)
	filter := bson.D{
		{Key: "subject_key", Value: rec.SubjectKey},
		{Key: "type", Value: rec.Type},
	}
	opts := options.Replace().SetUpsert(true)
	_, err := t.conn.store.db.Collection(subjectCollection).ReplaceOne(sc, filter, rec, opts)
	return err
}

func (t *mongoTx) InsertHistory(ctx context.Context, entries []model.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	sc := t.sessionContext(ctx)
	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e)
	}
	_, err := t.conn.store.db.Collection(historyCollection).InsertMany(sc, docs)
	return err
}

func (t *mongoTx) Commit(ctx context.Context) error {
	return t.conn.sess.CommitTransaction(t.sessionContext(ctx))
}

func (t *mongoTx) Abort(ctx context.Context) error {
	return t.conn.sess.AbortTransaction(t.sessionContext(ctx))
}
