package dbclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"doctransfer/internal/document"
	"doctransfer/internal/domain"
	"doctransfer/internal/transfer"
)

// mongoConnector implements Connector for MongoDB.
type mongoConnector struct {
	client *mongo.Client
	uri    string
	dbName string
}

// BuildMongoURI returns the connection string and default database for
// conn. A host that is already a mongodb:// or mongodb+srv:// URI is used
// as is, with <password> placeholders filled in; otherwise the URI is
// built from host, port and credentials.
func BuildMongoURI(conn *domain.DatabaseConnection, password string) (uri, dbName string) {
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri = conn.Host
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
		if conn.Database != "" && !strings.Contains(uri, "/"+conn.Database) {
			if idx := strings.Index(uri, "?"); idx != -1 {
				uri = strings.TrimRight(uri[:idx], "/") + "/" + conn.Database + uri[idx:]
			} else {
				uri = strings.TrimRight(uri, "/") + "/" + conn.Database
			}
		}
	} else {
		port := conn.Port
		if port == 0 {
			port = 27017
		}
		if conn.Username != "" {
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
		}
		if conn.Database != "" {
			uri += "/" + conn.Database
		}
		// authSource, replicaSet, ... from extraJSON, in key order.
		if conn.ExtraJSON != "" && conn.ExtraJSON != "{}" {
			var extras map[string]string
			if json.Unmarshal([]byte(conn.ExtraJSON), &extras) == nil && len(extras) > 0 {
				keys := make([]string, 0, len(extras))
				for k := range extras {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				params := make([]string, 0, len(keys))
				for _, k := range keys {
					params = append(params, k+"="+extras[k])
				}
				if conn.Database == "" {
					uri += "/"
				}
				uri += "?" + strings.Join(params, "&")
			}
		}
	}

	dbName = conn.Database
	if dbName == "" {
		dbName = databaseFromURI(uri)
	}
	return uri, dbName
}

// databaseFromURI extracts the path database of a connection string,
// defaulting to "test" as the server does.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	if slash := strings.Index(rest, "/"); slash != -1 {
		path := rest[slash+1:]
		if q := strings.Index(path, "?"); q != -1 {
			path = path[:q]
		}
		if path != "" {
			return path
		}
	}
	return "test"
}

// MaskPassword hides password inside uri for logging.
func MaskPassword(uri, password string) string {
	if password == "" || !strings.Contains(uri, password) {
		return uri
	}
	return strings.ReplaceAll(uri, password, "***")
}

func newMongoConnector(conn *domain.DatabaseConnection, password string) (*mongoConnector, error) {
	uri, dbName := BuildMongoURI(conn, password)
	log.Printf("[MONGO] Connecting with URI: %s", MaskPassword(uri, password))
	log.Printf("[MONGO] Database: %s", dbName)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		log.Printf("[MONGO] Connect failed: %v", err)
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, uri: uri, dbName: dbName}, nil
}

func (m *mongoConnector) database(name string) *mongo.Database {
	if name == "" {
		name = m.dbName
	}
	return m.client.Database(name)
}

func (m *mongoConnector) URI() string { return m.uri }

func (m *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoConnector) Collections(ctx context.Context, database string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	names, err := m.database(database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (m *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// ── Source ─────────────────────────────────────────────────

func (m *mongoConnector) Source(_ context.Context, database, collection string, q transfer.ParsedQuery, limit int64) (transfer.Source, error) {
	db := m.database(database)
	return &mongoSource{
		coll:  db.Collection(collection),
		query: q,
		limit: limit,
		label: db.Name() + "." + collection,
	}, nil
}

type mongoSource struct {
	coll  *mongo.Collection
	query transfer.ParsedQuery
	limit int64
	label string
}

func (s *mongoSource) Label() string { return s.label }

func (s *mongoSource) filter() bson.D {
	if len(s.query.Filter) == 0 {
		return bson.D{}
	}
	return s.query.Filter.BSON()
}

// FindOptions builds the find options for a read starting at offset.
// ok is false when offset is already past the limit.
func (s *mongoSource) findOptions(offset int64) (opts *options.FindOptionsBuilder, ok bool) {
	opts = options.Find().SetBatchSize(1000)
	if offset > 0 {
		opts.SetSkip(offset)
	}
	if s.limit > 0 {
		rem := s.limit - offset
		if rem <= 0 {
			return nil, false
		}
		opts.SetLimit(rem)
	}
	if len(s.query.Projection) > 0 {
		opts.SetProjection(s.query.Projection.BSON())
	}
	if len(s.query.Sort) > 0 {
		opts.SetSort(s.query.Sort.BSON())
	}
	return opts, true
}

func (s *mongoSource) Open(ctx context.Context, offset int64) (transfer.Cursor, error) {
	opts, ok := s.findOptions(offset)
	if !ok {
		return emptyCursor{}, nil
	}
	cur, err := s.coll.Find(ctx, s.filter(), opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return &mongoCursor{cur: cur}, nil
}

func (s *mongoSource) Estimate(ctx context.Context) (int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var (
		n   int64
		err error
	)
	if len(s.query.Filter) == 0 {
		n, err = s.coll.EstimatedDocumentCount(ctx)
	} else {
		n, err = s.coll.CountDocuments(ctx, s.filter())
	}
	if err != nil {
		log.Printf("[MONGO] Count %s failed: %v", s.label, err)
		return 0, false
	}
	if s.limit > 0 && n > s.limit {
		n = s.limit
	}
	return n, true
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) (document.Document, error) {
	if !c.cur.Next(ctx) {
		if err := c.cur.Err(); err != nil {
			return nil, fmt.Errorf("cursor: %w", err)
		}
		return nil, io.EOF
	}
	var raw bson.D
	if err := c.cur.Decode(&raw); err != nil {
		return nil, transfer.SkipRecord(fmt.Errorf("decode: %w", err))
	}
	doc, err := document.FromBSON(raw)
	if err != nil {
		return nil, transfer.SkipRecord(err)
	}
	return doc, nil
}

func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

type emptyCursor struct{}

func (emptyCursor) Next(context.Context) (document.Document, error) { return nil, io.EOF }
func (emptyCursor) Close(context.Context) error                     { return nil }

// ── Destination ────────────────────────────────────────────

func (m *mongoConnector) Destination(ctx context.Context, database, collection string, opts transfer.DestinationOptions) (transfer.Destination, error) {
	coll := m.database(database).Collection(collection)
	if opts.Drop {
		if err := coll.Drop(ctx); err != nil {
			return nil, fmt.Errorf("drop %s: %w", collection, err)
		}
		log.Printf("[MONGO] Dropped %s.%s", coll.Database().Name(), collection)
	}
	return &mongoDestination{coll: coll, opts: opts}, nil
}

type mongoDestination struct {
	coll *mongo.Collection
	opts transfer.DestinationOptions
}

func (d *mongoDestination) WriteBatch(ctx context.Context, docs []document.Document) (transfer.WriteResult, error) {
	if len(docs) == 0 {
		return transfer.WriteResult{}, nil
	}
	var err error
	if d.opts.Mode == transfer.InsertStrict {
		batch := make([]any, len(docs))
		for i, doc := range docs {
			batch[i] = doc.BSON()
		}
		_, err = d.coll.InsertMany(ctx, batch, options.InsertMany().SetOrdered(d.opts.Ordered))
	} else {
		models := make([]mongo.WriteModel, len(docs))
		for i, doc := range docs {
			models[i] = writeModel(doc, d.opts.Mode)
		}
		_, err = d.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(d.opts.Ordered))
	}
	return bulkResult(len(docs), d.opts.Ordered, err)
}

func (d *mongoDestination) Close(context.Context) error { return nil }

// writeModel maps a document to an upsert or replace keyed by _id.
// Documents without _id are plain inserts.
func writeModel(doc document.Document, mode transfer.InsertMode) mongo.WriteModel {
	id, ok := doc.ID()
	if !ok {
		return mongo.NewInsertOneModel().SetDocument(doc.BSON())
	}
	filter := bson.D{{Key: "_id", Value: document.ToBSON(id)}}
	rest := doc.Without(document.IDKey)
	if mode == transfer.InsertUpsert && len(rest) > 0 {
		return mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.D{{Key: "$set", Value: rest.BSON()}}).
			SetUpsert(true)
	}
	return mongo.NewReplaceOneModel().
		SetFilter(filter).
		SetReplacement(doc.BSON()).
		SetUpsert(true)
}

// bulkResult maps a bulk write error onto per-document failures. An
// ordered write stops at its first failure, so only the documents before
// it were written.
func bulkResult(n int, ordered bool, err error) (transfer.WriteResult, error) {
	if err == nil {
		return transfer.WriteResult{Written: int64(n)}, nil
	}
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return transfer.WriteResult{}, err
	}
	var res transfer.WriteResult
	for _, we := range bwe.WriteErrors {
		res.Failures = append(res.Failures, transfer.WriteFailure{
			Index: we.Index,
			Err:   fmt.Errorf("%s (code %d)", we.Message, we.Code),
		})
	}
	if ordered {
		res.Written = int64(bwe.WriteErrors[0].Index)
	} else {
		res.Written = int64(n - len(bwe.WriteErrors))
	}
	if bwe.WriteConcernError != nil {
		return res, bwe.WriteConcernError
	}
	return res, nil
}
