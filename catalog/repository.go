package catalog

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ostafen/clover"

	"github.com/Khoshtrip/backend/types"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 50
	MaxImageSize     = 5 << 20
	dateLayout       = "2006-01-02"
)

type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalized() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

type ProductFilter struct {
	ProviderID string
	Active     *bool
	Category   string
	Search     string
	Page       Page
}

type PackageFilter struct {
	Search    string
	PriceMin  *float64
	PriceMax  *float64
	DateStart string
	DateEnd   string
	Published *bool
	SortBy    string
	Page      Page
}

// Repository is the typed catalog API the HTTP handlers use.
type Repository struct {
	store *Store
	now   func() time.Time
}

func NewRepository(store *Store) *Repository {
	return &Repository{
		store: store,
		now:   time.Now,
	}
}

func (r *Repository) CreateProduct(_ context.Context, product Product) (Product, error) {
	product.ID = ""
	product.IsActive = true
	if product.Images == nil {
		product.Images = []string{}
	}

	id, err := r.store.insert(ProductsCollection, product)
	if err != nil {
		return Product{}, err
	}

	return r.product(id)
}

func (r *Repository) GetProduct(_ context.Context, id string) (Product, error) {
	return r.product(id)
}

func (r *Repository) ListProducts(_ context.Context, filter ProductFilter) ([]Product, int, error) {
	var where []*clover.Criteria

	if filter.ProviderID != "" {
		where = append(where, clover.Field("provider_id").Eq(filter.ProviderID))
	}
	if filter.Active != nil {
		where = append(where, clover.Field("isActive").Eq(*filter.Active))
	}
	if filter.Category != "" {
		where = append(where, clover.Field("category").Eq(filter.Category))
	}
	if filter.Search != "" {
		pattern := containsPattern(filter.Search)
		where = append(where, clover.Field("name").Like(pattern).
			Or(clover.Field("summary").Like(pattern)).
			Or(clover.Field("description").Like(pattern)))
	}

	page := filter.Page.normalized()
	return list[Product](r.store, query{
		collection: ProductsCollection,
		where:      where,
		sortField:  "cr_time",
		sortDir:    -1,
		skip:       page.Offset,
		limit:      page.Limit,
	})
}

// UpdateProduct applies the non-nil fields of update. Only the owning
// provider may change a product.
func (r *Repository) UpdateProduct(_ context.Context, id, providerID string, update ProductUpdate) (Product, error) {
	if _, err := r.owned(id, providerID); err != nil {
		return Product{}, err
	}

	changes := update.changes()
	if len(changes) > 0 {
		if _, err := r.store.update(ProductsCollection, id, changes); err != nil {
			return Product{}, err
		}
	}

	return r.product(id)
}

func (r *Repository) SetProductActive(_ context.Context, id, providerID string, active bool) (Product, error) {
	if _, err := r.owned(id, providerID); err != nil {
		return Product{}, err
	}

	if _, err := r.store.update(ProductsCollection, id, map[string]interface{}{"isActive": active}); err != nil {
		return Product{}, err
	}

	return r.product(id)
}

// DeleteProduct refuses to remove a product that a trip package still uses.
func (r *Repository) DeleteProduct(_ context.Context, id, providerID string) error {
	r.store.writes.Lock()
	defer r.store.writes.Unlock()

	if _, err := r.owned(id, providerID); err != nil {
		return err
	}

	if err := r.checkUnused(id); err != nil {
		return err
	}

	_, err := r.store.delete(ProductsCollection, id)
	return err
}

// DeleteProducts removes every listed product or none of them. All ids must
// exist, belong to providerID and be unused by packages.
func (r *Repository) DeleteProducts(_ context.Context, ids []string, providerID string) error {
	r.store.writes.Lock()
	defer r.store.writes.Unlock()

	if _, err := r.ownedAll(ids, providerID); err != nil {
		return err
	}

	if err := r.checkUnused(ids...); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := r.store.delete(ProductsCollection, id); err != nil {
			return err
		}
	}

	return nil
}

// ChangeStock adds change to the stock of every listed product. Nothing is
// written when any stock would go negative.
func (r *Repository) ChangeStock(_ context.Context, ids []string, providerID string, change int) ([]Product, error) {
	r.store.writes.Lock()
	defer r.store.writes.Unlock()

	products, err := r.ownedAll(ids, providerID)
	if err != nil {
		return nil, err
	}

	var short []string
	for _, product := range products {
		if product.Stock+change < 0 {
			short = append(short, product.ID)
		}
	}
	if len(short) > 0 {
		return nil, types.Errorf(types.ErrCatalogInputInvalid, "insufficient stock for products %v", short)
	}

	updated := make([]Product, 0, len(products))
	for _, product := range products {
		if _, err = r.store.update(ProductsCollection, product.ID, map[string]interface{}{
			"stock": product.Stock + change,
		}); err != nil {
			return nil, err
		}

		product.Stock += change
		updated = append(updated, product)
	}

	return updated, nil
}

func (r *Repository) CreatePackage(_ context.Context, pkg TripPackage) (TripPackage, error) {
	if err := r.checkPackage(pkg); err != nil {
		return TripPackage{}, err
	}

	pkg.ID = ""
	if pkg.Photos == nil {
		pkg.Photos = []string{}
	}
	if pkg.ActivityIDs == nil {
		pkg.ActivityIDs = []string{}
	}

	id, err := r.store.insert(PackagesCollection, pkg)
	if err != nil {
		return TripPackage{}, err
	}

	return r.tripPackage(id)
}

func (r *Repository) GetPackage(_ context.Context, id string) (TripPackage, error) {
	return r.tripPackage(id)
}

func (r *Repository) ListPackages(_ context.Context, filter PackageFilter) ([]TripPackage, int, error) {
	var where []*clover.Criteria

	if filter.Search != "" {
		where = append(where, clover.Field("name").Like(containsPattern(filter.Search)))
	}
	if filter.PriceMin != nil {
		where = append(where, clover.Field("price").GtEq(*filter.PriceMin))
	}
	if filter.PriceMax != nil {
		where = append(where, clover.Field("price").LtEq(*filter.PriceMax))
	}
	if filter.DateStart != "" {
		where = append(where, clover.Field("start_date").GtEq(filter.DateStart))
	}
	if filter.DateEnd != "" {
		where = append(where, clover.Field("end_date").LtEq(filter.DateEnd))
	}
	if filter.Published != nil {
		where = append(where, clover.Field("published").Eq(*filter.Published))
	}

	sortField, sortDir := "cr_time", -1
	switch filter.SortBy {
	case "price":
		sortField, sortDir = "price", 1
	case "date":
		sortField, sortDir = "start_date", 1
	}

	page := filter.Page.normalized()
	return list[TripPackage](r.store, query{
		collection: PackagesCollection,
		where:      where,
		sortField:  sortField,
		sortDir:    sortDir,
		skip:       page.Offset,
		limit:      page.Limit,
	})
}

func (r *Repository) DeletePackage(_ context.Context, id string) error {
	deleted, err := r.store.delete(PackagesCollection, id)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return types.Errorf(types.ErrPackageNotFound, "%s", id)
	}
	return nil
}

// Purchase reserves quantity units of a package for userID and records both
// the completed transaction and the purchase history entry.
func (r *Repository) Purchase(_ context.Context, packageID, userID string, quantity int) (Purchase, error) {
	if quantity < 1 {
		return Purchase{}, types.Errorf(types.ErrCatalogInputInvalid, "quantity must be at least 1")
	}

	r.store.writes.Lock()
	defer r.store.writes.Unlock()

	pkg, err := r.tripPackage(packageID)
	if err != nil {
		return Purchase{}, err
	}

	if pkg.AvailableUnits < quantity {
		return Purchase{}, types.Errorf(types.ErrInsufficientUnits, "%d requested, %d available", quantity, pkg.AvailableUnits)
	}

	if _, err = r.store.update(PackagesCollection, packageID, map[string]interface{}{
		"available_units": pkg.AvailableUnits - quantity,
	}); err != nil {
		return Purchase{}, err
	}

	purchasedAt := r.now().UTC().Format(time.RFC3339)

	transactionID, err := r.store.insert(TransactionsCollection, Transaction{
		UserID:       userID,
		PackageID:    packageID,
		Status:       TransactionCompleted,
		Quantity:     quantity,
		PurchaseDate: purchasedAt,
	})
	if err != nil {
		return Purchase{}, err
	}

	purchaseID, err := r.store.insert(PurchasesCollection, Purchase{
		UserID:        userID,
		PackageID:     packageID,
		PackageName:   pkg.Name,
		TransactionID: transactionID,
		Quantity:      quantity,
		TotalPrice:    pkg.Price * float64(quantity),
		PurchaseDate:  purchasedAt,
	})
	if err != nil {
		return Purchase{}, err
	}

	fields, err := r.store.findByID(PurchasesCollection, purchaseID)
	if err != nil {
		return Purchase{}, err
	}

	return fromFields[Purchase](fields)
}

// PurchaseHistory lists a user's purchases, newest first.
func (r *Repository) PurchaseHistory(_ context.Context, userID string) ([]Purchase, error) {
	purchases, _, err := list[Purchase](r.store, query{
		collection: PurchasesCollection,
		where:      []*clover.Criteria{clover.Field("user_id").Eq(userID)},
		sortField:  "cr_time",
		sortDir:    -1,
	})
	return purchases, err
}

func (r *Repository) CreateImage(_ context.Context, content []byte) (Image, error) {
	if len(content) == 0 {
		return Image{}, types.Errorf(types.ErrCatalogInputInvalid, "no file provided")
	}
	if len(content) > MaxImageSize {
		return Image{}, types.Errorf(types.ErrCatalogInputInvalid, "image exceeds %d bytes", MaxImageSize)
	}

	detected := mimetype.Detect(content)
	if !strings.HasPrefix(detected.String(), "image/") {
		return Image{}, types.Errorf(types.ErrCatalogInputInvalid, "file is %s, not an image", detected.String())
	}

	image := Image{
		ContentType: detected.String(),
		Size:        len(content),
		Content:     content,
		UploadedAt:  r.now().UTC().Format(time.RFC3339),
	}

	id, err := r.store.insert(ImagesCollection, image)
	if err != nil {
		return Image{}, err
	}

	image.ID = id
	return image, nil
}

func (r *Repository) GetImage(_ context.Context, id string) (Image, error) {
	fields, err := r.store.findByID(ImagesCollection, id)
	if err != nil {
		return Image{}, err
	}
	if fields == nil {
		return Image{}, types.Errorf(types.ErrImageNotFound, "%s", id)
	}
	return fromFields[Image](fields)
}

func (r *Repository) DeleteImage(_ context.Context, id string) error {
	deleted, err := r.store.delete(ImagesCollection, id)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return types.Errorf(types.ErrImageNotFound, "%s", id)
	}
	return nil
}

func (r *Repository) product(id string) (Product, error) {
	fields, err := r.store.findByID(ProductsCollection, id)
	if err != nil {
		return Product{}, err
	}
	if fields == nil {
		return Product{}, types.Errorf(types.ErrProductNotFound, "%s", id)
	}
	return fromFields[Product](fields)
}

func (r *Repository) tripPackage(id string) (TripPackage, error) {
	fields, err := r.store.findByID(PackagesCollection, id)
	if err != nil {
		return TripPackage{}, err
	}
	if fields == nil {
		return TripPackage{}, types.Errorf(types.ErrPackageNotFound, "%s", id)
	}
	return fromFields[TripPackage](fields)
}

func (r *Repository) owned(id, providerID string) (Product, error) {
	product, err := r.product(id)
	if err != nil {
		return Product{}, err
	}
	if product.ProviderID != providerID {
		return Product{}, types.Errorf(types.ErrNotOwner, "product %s", id)
	}
	return product, nil
}

// ownedAll loads every listed product. A missing or foreign product fails the
// whole set.
func (r *Repository) ownedAll(ids []string, providerID string) ([]Product, error) {
	if len(ids) == 0 {
		return nil, types.Errorf(types.ErrCatalogInputInvalid, "no product ids given")
	}

	products := make([]Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		product, err := r.owned(id, providerID)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}

	return products, nil
}

func (r *Repository) checkUnused(ids ...string) error {
	packages, _, err := list[TripPackage](r.store, query{collection: PackagesCollection})
	if err != nil {
		return err
	}

	for _, pkg := range packages {
		for _, id := range ids {
			if pkg.uses(id) {
				return types.Errorf(types.ErrProductInUse, "product %s in package %s", id, pkg.ID)
			}
		}
	}

	return nil
}

func (r *Repository) checkPackage(pkg TripPackage) error {
	start, err := time.Parse(dateLayout, pkg.StartDate)
	if err != nil {
		return types.Errorf(types.ErrCatalogInputInvalid, "start_date: %v", err)
	}
	end, err := time.Parse(dateLayout, pkg.EndDate)
	if err != nil {
		return types.Errorf(types.ErrCatalogInputInvalid, "end_date: %v", err)
	}
	if !start.Before(end) {
		return types.Errorf(types.ErrCatalogInputInvalid, "start date must be before end date")
	}

	if err = r.checkCategory(pkg.FlightID, CategoryFlight); err != nil {
		return err
	}
	if err = r.checkCategory(pkg.HotelID, CategoryHotel); err != nil {
		return err
	}
	for _, activityID := range pkg.ActivityIDs {
		if err = r.checkCategory(activityID, CategoryTourism, CategoryRestaurant); err != nil {
			return err
		}
	}

	return nil
}

func (r *Repository) checkCategory(productID string, allowed ...string) error {
	product, err := r.product(productID)
	if types.IsError(err, types.ErrProductNotFound) {
		return types.Errorf(types.ErrCatalogInputInvalid, "product %s does not exist", productID)
	}
	if err != nil {
		return err
	}

	for _, category := range allowed {
		if product.Category == category {
			return nil
		}
	}

	return types.Errorf(types.ErrCatalogInputInvalid, "product %s is a %s, expected %v", productID, product.Category, allowed)
}

func (p TripPackage) uses(productID string) bool {
	if p.FlightID == productID || p.HotelID == productID {
		return true
	}
	for _, id := range p.ActivityIDs {
		if id == productID {
			return true
		}
	}
	return false
}

func list[T any](store *Store, q query) ([]T, int, error) {
	docs, total, err := store.find(q)
	if err != nil {
		return nil, 0, err
	}

	items := make([]T, 0, len(docs))
	for _, fields := range docs {
		item, err := fromFields[T](fields)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}

	return items, total, nil
}

func containsPattern(term string) string {
	return "(?i)" + regexp.QuoteMeta(term)
}
