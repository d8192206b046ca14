package clients

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"smartshopai/provisioner/internal/config"
	"smartshopai/provisioner/internal/manifest"
	"smartshopai/provisioner/internal/orchestrator"
)

const mongoProbeName = "mongo"

// codeNamespaceExists is returned by create on a collection that already exists.
const codeNamespaceExists = 48

// mongoBackend is the subset of server operations the bootstrap needs.
// realMongoBackend implements it over *mongo.Client; tests inject a fake.
type mongoBackend interface {
	Ping(ctx context.Context) error
	UserRoles(ctx context.Context, db, name string) (roles []manifest.Role, found bool, err error)
	CreateUser(ctx context.Context, db, name, secret string, roles []manifest.Role) error
	HasDatabase(ctx context.Context, db string) (bool, error)
	HasCollection(ctx context.Context, db, name string) (bool, error)
	CreateCollection(ctx context.Context, db, name string) error
	IndexNames(ctx context.Context, db, coll string) ([]string, error)
	CreateIndex(ctx context.Context, db, coll string, model mongo.IndexModel) (string, error)
	InsertOne(ctx context.Context, db, coll string, doc bson.D) error
	InsertIfAbsent(ctx context.Context, db, coll string, id any, doc bson.D) (inserted bool, err error)
	Disconnect(ctx context.Context) error
}

// MongoClient opens administrative sessions against MongoDB. Each Connect
// dials a fresh driver client; the circuit breaker wraps dialing and probing.
type MongoClient struct {
	cfg  config.MongoConfig
	cb   *gobreaker.CircuitBreaker
	dial func(ctx context.Context, cfg config.MongoConfig) (mongoBackend, error)
}

// NewMongoClient creates a MongoClient. No connection is made at
// construction time.
func NewMongoClient(cfg config.MongoConfig, cb *gobreaker.CircuitBreaker) *MongoClient {
	return &MongoClient{
		cfg:  cfg,
		cb:   cb,
		dial: realMongoDial,
	}
}

// Connect dials the server, pings the primary and returns a session bound to
// the new driver client. The caller must Close it.
func (c *MongoClient) Connect(ctx context.Context) (orchestrator.Engine, error) {
	v, err := c.cb.Execute(func() (any, error) {
		backend, err := c.dial(ctx, c.cfg)
		if err != nil {
			return nil, err
		}
		if err := backend.Ping(ctx); err != nil {
			_ = backend.Disconnect(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("ping: %w", err)
		}
		return backend, nil
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return &mongoSession{b: v.(mongoBackend)}, nil
}

// Probe dials and pings MongoDB.
func (c *MongoClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		backend, err := c.dial(ctx, c.cfg)
		if err != nil {
			return nil, err
		}
		defer backend.Disconnect(context.WithoutCancel(ctx)) //nolint:errcheck

		if err := backend.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return nil, nil
	})

	return probeResult(mongoProbeName, start, err)
}

// mongoSession implements orchestrator.Engine.
type mongoSession struct {
	b mongoBackend
}

func (s *mongoSession) CreatePrincipal(ctx context.Context, p manifest.Principal) (orchestrator.Outcome, error) {
	existing, found, err := s.b.UserRoles(ctx, p.Database, p.Name)
	if err != nil {
		return 0, fmt.Errorf("looking up user: %w", err)
	}
	if found {
		if !sameRoleSet(existing, p.Roles) {
			return 0, fmt.Errorf("%w: has %v, want %v", orchestrator.ErrPrincipalConflict, existing, p.Roles)
		}
		return orchestrator.OutcomeExisting, nil
	}
	if err := s.b.CreateUser(ctx, p.Database, p.Name, p.Secret, p.Roles); err != nil {
		return 0, err
	}
	return orchestrator.OutcomeCreated, nil
}

// SelectNamespace only reports whether the database exists; MongoDB creates
// it with its first collection.
func (s *mongoSession) SelectNamespace(ctx context.Context, ns string) (orchestrator.Outcome, error) {
	ok, err := s.b.HasDatabase(ctx, ns)
	if err != nil {
		return 0, err
	}
	if ok {
		return orchestrator.OutcomeExisting, nil
	}
	return orchestrator.OutcomeCreated, nil
}

func (s *mongoSession) CreateCollection(ctx context.Context, ns, name string) (orchestrator.Outcome, error) {
	ok, err := s.b.HasCollection(ctx, ns, name)
	if err != nil {
		return 0, err
	}
	if ok {
		return orchestrator.OutcomeExisting, nil
	}

	err = s.b.CreateCollection(ctx, ns, name)
	var cmdErr mongo.CommandError
	switch {
	case err == nil:
		return orchestrator.OutcomeCreated, nil
	case errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists:
		// created concurrently between the check and the create
		return orchestrator.OutcomeExisting, nil
	default:
		return 0, err
	}
}

// CreateIndex refuses to implicitly create the collection. An index that
// already exists with the same name and options is reported as existing;
// the server rejects one with conflicting options.
func (s *mongoSession) CreateIndex(ctx context.Context, spec manifest.IndexSpec) (orchestrator.Outcome, error) {
	ok, err := s.b.HasCollection(ctx, spec.Namespace, spec.Collection)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, orchestrator.ErrCollectionMissing
	}

	model, err := indexModel(spec)
	if err != nil {
		return 0, err
	}
	before, err := s.b.IndexNames(ctx, spec.Namespace, spec.Collection)
	if err != nil {
		return 0, fmt.Errorf("listing indexes: %w", err)
	}

	name, err := s.b.CreateIndex(ctx, spec.Namespace, spec.Collection, model)
	if err != nil {
		return 0, err
	}
	if slices.Contains(before, name) {
		return orchestrator.OutcomeExisting, nil
	}
	return orchestrator.OutcomeCreated, nil
}

func (s *mongoSession) InsertDocument(ctx context.Context, ns, coll string, doc manifest.Document, mode manifest.SeedMode) (orchestrator.Outcome, error) {
	d := toBSON(doc)

	if mode == manifest.SeedModeEnsure {
		id, ok := doc.Get("_id")
		if !ok {
			return 0, errors.New("ensure mode requires an _id")
		}
		inserted, err := s.b.InsertIfAbsent(ctx, ns, coll, id, toBSON(doc.Without("_id")))
		if err != nil {
			return 0, mapWriteErr(err)
		}
		if inserted {
			return orchestrator.OutcomeCreated, nil
		}
		return orchestrator.OutcomeExisting, nil
	}

	if err := s.b.InsertOne(ctx, ns, coll, d); err != nil {
		return 0, mapWriteErr(err)
	}
	return orchestrator.OutcomeCreated, nil
}

func (s *mongoSession) Close(ctx context.Context) error {
	return s.b.Disconnect(ctx)
}

func mapWriteErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", orchestrator.ErrDuplicateKey, err)
	}
	return err
}

func sameRoleSet(a, b []manifest.Role) bool {
	if len(a) != len(b) {
		return false
	}
	for _, r := range b {
		if !slices.Contains(a, r) {
			return false
		}
	}
	return true
}

// indexModel converts an IndexSpec into a driver IndexModel. Ascending keys
// map to 1, descending to -1 and text keys to "text".
func indexModel(spec manifest.IndexSpec) (mongo.IndexModel, error) {
	keys := make(bson.D, 0, len(spec.Keys))
	for _, k := range spec.Keys {
		var v any
		switch k.Kind {
		case manifest.KindAsc:
			v = 1
		case manifest.KindDesc:
			v = -1
		case manifest.KindText:
			v = "text"
		default:
			return mongo.IndexModel{}, fmt.Errorf("unknown index kind %q on %s", k.Kind, k.Field)
		}
		keys = append(keys, bson.E{Key: k.Field, Value: v})
	}

	opts := options.Index()
	if spec.Unique {
		opts.SetUnique(true)
	}
	if spec.Name != "" {
		opts.SetName(spec.Name)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}, nil
}

// toBSON converts an ordered manifest document, recursively, into bson.D.
func toBSON(doc manifest.Document) bson.D {
	d := make(bson.D, 0, len(doc))
	for _, f := range doc {
		d = append(d, bson.E{Key: f.Key, Value: toBSONValue(f.Value)})
	}
	return d
}

func toBSONValue(v any) any {
	switch val := v.(type) {
	case manifest.Document:
		return toBSON(val)
	case []any:
		arr := make(bson.A, len(val))
		for i, e := range val {
			arr[i] = toBSONValue(e)
		}
		return arr
	default:
		return val
	}
}

// realMongoDial connects a driver client with the configured timeouts.
func realMongoDial(ctx context.Context, cfg config.MongoConfig) (mongoBackend, error) {
	opts := options.Client().
		ApplyURI(cfg.ConnString()).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetSocketTimeout(cfg.SocketTimeout).
		SetHeartbeatInterval(cfg.HeartbeatInterval)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return &realMongoBackend{client: client}, nil
}

// realMongoBackend adapts *mongo.Client to mongoBackend.
type realMongoBackend struct {
	client *mongo.Client
}

func (r *realMongoBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

type usersInfoReply struct {
	Users []struct {
		Roles []struct {
			Role string `bson:"role"`
			DB   string `bson:"db"`
		} `bson:"roles"`
	} `bson:"users"`
}

func (r *realMongoBackend) UserRoles(ctx context.Context, db, name string) ([]manifest.Role, bool, error) {
	var reply usersInfoReply
	cmd := bson.D{{Key: "usersInfo", Value: bson.D{{Key: "user", Value: name}, {Key: "db", Value: db}}}}
	if err := r.client.Database(db).RunCommand(ctx, cmd).Decode(&reply); err != nil {
		return nil, false, err
	}
	if len(reply.Users) == 0 {
		return nil, false, nil
	}
	roles := make([]manifest.Role, 0, len(reply.Users[0].Roles))
	for _, role := range reply.Users[0].Roles {
		roles = append(roles, manifest.Role{Role: role.Role, DB: role.DB})
	}
	return roles, true, nil
}

func (r *realMongoBackend) CreateUser(ctx context.Context, db, name, secret string, roles []manifest.Role) error {
	arr := make(bson.A, 0, len(roles))
	for _, role := range roles {
		arr = append(arr, bson.D{{Key: "role", Value: role.Role}, {Key: "db", Value: role.DB}})
	}
	cmd := bson.D{
		{Key: "createUser", Value: name},
		{Key: "pwd", Value: secret},
		{Key: "roles", Value: arr},
	}
	return r.client.Database(db).RunCommand(ctx, cmd).Err()
}

func (r *realMongoBackend) HasDatabase(ctx context.Context, db string) (bool, error) {
	names, err := r.client.ListDatabaseNames(ctx, bson.D{{Key: "name", Value: db}})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (r *realMongoBackend) HasCollection(ctx context.Context, db, name string) (bool, error) {
	names, err := r.client.Database(db).ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (r *realMongoBackend) CreateCollection(ctx context.Context, db, name string) error {
	return r.client.Database(db).CreateCollection(ctx, name)
}

func (r *realMongoBackend) IndexNames(ctx context.Context, db, coll string) ([]string, error) {
	specs, err := r.client.Database(db).Collection(coll).Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names, nil
}

func (r *realMongoBackend) CreateIndex(ctx context.Context, db, coll string, model mongo.IndexModel) (string, error) {
	return r.client.Database(db).Collection(coll).Indexes().CreateOne(ctx, model)
}

func (r *realMongoBackend) InsertOne(ctx context.Context, db, coll string, doc bson.D) error {
	_, err := r.client.Database(db).Collection(coll).InsertOne(ctx, doc)
	return err
}

func (r *realMongoBackend) InsertIfAbsent(ctx context.Context, db, coll string, id any, doc bson.D) (bool, error) {
	res, err := r.client.Database(db).Collection(coll).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$setOnInsert", Value: doc}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (r *realMongoBackend) Disconnect(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
