package catalog

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	ProductsCollection     = "products"
	PackagesCollection     = "packages"
	TransactionsCollection = "transactions"
	PurchasesCollection    = "purchases"
	ImagesCollection       = "images"
)

var collections = []string{
	ProductsCollection,
	PackagesCollection,
	TransactionsCollection,
	PurchasesCollection,
	ImagesCollection,
}

// Store is the document database behind the catalog. Documents carry their
// own "id" plus cr_time/ch_time stamps in unix milliseconds.
type Store struct {
	db     *clover.DB
	logger types.Logger
	path   string
	state  atomic.Int32

	// writes serializes read-modify-write sequences such as stock updates.
	writes sync.Mutex
}

type query struct {
	collection string
	where      []*clover.Criteria
	sortField  string
	sortDir    int
	skip       int
	limit      int
}

func OpenStore(config *types.CatalogConfig, logger types.Logger) (*Store, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrCatalogIsDisabled
	}

	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, types.WrapError(err, "failed to create catalog directory")
	}

	db, err := clover.Open(config.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open catalog database")
	}

	s := &Store{
		db:     db,
		logger: logger,
		path:   config.Path,
	}

	for _, name := range collections {
		if err := s.ensureCollection(name); err != nil && !types.IsError(err, types.ErrCollectionExists) {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	s.setState(StateRunning)
	s.logger.Info("Catalog store started", zap.String("path", s.path))
	return nil
}

// Stop closes the database. The store cannot be restarted afterwards.
func (s *Store) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer s.setState(StateStopped)

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close catalog database")
	}

	s.logger.Info("Catalog store stopped gracefully")
	return nil
}

func (s *Store) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Store) ensureCollection(name string) error {
	exists, err := s.db.HasCollection(name)
	if err != nil {
		return types.WrapError(err, "failed to check collection existence")
	}

	if exists {
		return types.ErrCollectionExists
	}

	if err = s.db.CreateCollection(name); err != nil {
		return types.WrapError(err, "failed to create collection")
	}

	return nil
}

// insert stores value as a new document and returns the generated id.
func (s *Store) insert(collection string, value interface{}) (string, error) {
	fields, err := toFields(value)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	now := time.Now().UnixMilli()
	fields["id"] = id
	fields["cr_time"] = now
	fields["ch_time"] = now

	doc := clover.NewDocument()
	for key, v := range fields {
		doc.Set(key, v)
	}

	if err = s.db.Insert(collection, doc); err != nil {
		return "", types.WrapError(err, "failed to insert document")
	}

	return id, nil
}

func (s *Store) build(q query) *clover.Query {
	cq := s.db.Query(q.collection)
	for _, criteria := range q.where {
		cq = cq.Where(criteria)
	}
	return cq
}

// find returns the page described by q and the number of documents matching
// its criteria regardless of skip and limit.
func (s *Store) find(q query) ([]map[string]interface{}, int, error) {
	cq := s.build(q)

	if q.sortField != "" {
		cq = cq.Sort(clover.SortOption{Field: q.sortField, Direction: q.sortDir})
	}

	if q.skip > 0 {
		cq = cq.Skip(q.skip)
	}

	if q.limit > 0 {
		cq = cq.Limit(q.limit)
	}

	docs, err := cq.FindAll()
	if err != nil {
		return nil, 0, types.WrapError(err, "failed to find documents")
	}

	total, err := s.build(q).Count()
	if err != nil {
		return nil, 0, types.WrapError(err, "failed to count documents")
	}

	results := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		fields := make(map[string]interface{})
		if err = doc.Unmarshal(&fields); err != nil {
			s.logger.Warn("Skipping unreadable document",
				zap.String("collection", q.collection),
				zap.Error(err))
			continue
		}

		delete(fields, "_id")
		results = append(results, fields)
	}

	return results, total, nil
}

// findByID returns nil fields when no document has the id.
func (s *Store) findByID(collection, id string) (map[string]interface{}, error) {
	results, _, err := s.find(query{
		collection: collection,
		where:      []*clover.Criteria{clover.Field("id").Eq(id)},
		limit:      1,
	})
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

func (s *Store) update(collection, id string, changes map[string]interface{}) (int, error) {
	cq := s.build(query{collection: collection, where: []*clover.Criteria{clover.Field("id").Eq(id)}})

	count, err := cq.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count matching documents")
	}

	if count == 0 {
		return 0, nil
	}

	changes["ch_time"] = time.Now().UnixMilli()
	if err = cq.Update(changes); err != nil {
		return 0, types.WrapError(err, "failed to update documents")
	}

	return count, nil
}

func (s *Store) delete(collection, id string) (int, error) {
	cq := s.build(query{collection: collection, where: []*clover.Criteria{clover.Field("id").Eq(id)}})

	count, err := cq.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count matching documents")
	}

	if count == 0 {
		return 0, nil
	}

	if err = cq.Delete(); err != nil {
		return 0, types.WrapError(err, "failed to delete documents")
	}

	return count, nil
}

func (s *Store) getState() State {
	return State(s.state.Load())
}

func (s *Store) setState(newState State) {
	s.state.Store(int32(newState))
}

func (s *Store) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// toFields flattens a model into the loosely typed form documents are built
// from, following the model's json tags.
func toFields(value interface{}) (map[string]interface{}, error) {
	raw, err := utils.Marshal(value)
	if err != nil {
		return nil, types.WrapError(err, "failed to encode document")
	}

	fields := make(map[string]interface{})
	if err = utils.Unmarshal(raw, &fields); err != nil {
		return nil, types.WrapError(err, "failed to encode document")
	}

	return fields, nil
}

func fromFields[T any](fields map[string]interface{}) (T, error) {
	var out T

	raw, err := utils.Marshal(fields)
	if err != nil {
		return out, types.WrapError(err, "failed to decode document")
	}

	if err = utils.Unmarshal(raw, &out); err != nil {
		return out, types.WrapError(err, "failed to decode document")
	}

	return out, nil
}
