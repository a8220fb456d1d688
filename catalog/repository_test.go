package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khoshtrip/backend/logger"
	"github.com/Khoshtrip/backend/types"
)

func newRepository(t *testing.T) *Repository {
	t.Helper()

	store, err := OpenStore(&types.CatalogConfig{Enabled: true, Path: t.TempDir()}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return NewRepository(store)
}

func product(provider, name, category string, price float64) Product {
	return Product{
		ProviderID:  provider,
		Name:        name,
		Summary:     name + " summary",
		Description: "A " + category + " offer",
		Price:       price,
		Stock:       10,
		Category:    category,
	}
}

func mustCreateProduct(t *testing.T, repo *Repository, p Product) Product {
	t.Helper()
	created, err := repo.CreateProduct(context.Background(), p)
	require.NoError(t, err)
	return created
}

func TestOpenStoreRequiresEnabledCatalog(t *testing.T) {
	_, err := OpenStore(&types.CatalogConfig{Enabled: false, Path: t.TempDir()}, logger.NewNop())
	assert.ErrorIs(t, err, types.ErrCatalogIsDisabled)

	_, err = OpenStore(nil, logger.NewNop())
	assert.ErrorIs(t, err, types.ErrCatalogIsDisabled)
}

func TestCreateAndGetProduct(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	created := mustCreateProduct(t, repo, product("prov-1", "Kish Air", CategoryFlight, 120))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.NotZero(t, created.CreatedAt)
	assert.Equal(t, []string{}, created.Images)

	got, err := repo.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = repo.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrProductNotFound)
}

func TestListProductsFilters(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	mustCreateProduct(t, repo, product("prov-1", "Kish Air", CategoryFlight, 120))
	mustCreateProduct(t, repo, product("prov-1", "Shiraz Hotel", CategoryHotel, 80))
	mustCreateProduct(t, repo, product("prov-2", "Mashhad Express", CategoryTrain, 30))

	active := true

	products, total, err := repo.ListProducts(ctx, ProductFilter{ProviderID: "prov-1", Active: &active})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, products, 2)

	products, total, err = repo.ListProducts(ctx, ProductFilter{Category: CategoryTrain})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "Mashhad Express", products[0].Name)

	products, _, err = repo.ListProducts(ctx, ProductFilter{Search: "SHIRAZ"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, CategoryHotel, products[0].Category)

	products, total, err = repo.ListProducts(ctx, ProductFilter{Page: Page{Offset: 1, Limit: 1}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, products, 1)
}

func TestPageIsClamped(t *testing.T) {
	assert.Equal(t, Page{Offset: 0, Limit: DefaultPageLimit}, Page{Offset: -3}.normalized())
	assert.Equal(t, Page{Offset: 5, Limit: MaxPageLimit}, Page{Offset: 5, Limit: 500}.normalized())
}

func TestUpdateProductChecksOwnerAndKeepsUnsetFields(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	created := mustCreateProduct(t, repo, product("prov-1", "Kish Air", CategoryFlight, 120))

	price := 99.5
	_, err := repo.UpdateProduct(ctx, created.ID, "prov-2", ProductUpdate{Price: &price})
	assert.ErrorIs(t, err, types.ErrNotOwner)

	updated, err := repo.UpdateProduct(ctx, created.ID, "prov-1", ProductUpdate{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, 99.5, updated.Price)
	assert.Equal(t, "Kish Air", updated.Name)
	assert.Equal(t, 10, updated.Stock)

	deactivated, err := repo.SetProductActive(ctx, created.ID, "prov-1", false)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
}

func TestPackageReferencesAndPurchase(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	repo.now = func() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC) }

	flight := mustCreateProduct(t, repo, product("prov-1", "Kish Air", CategoryFlight, 120))
	hotel := mustCreateProduct(t, repo, product("prov-1", "Kish Hotel", CategoryHotel, 200))

	_, err := repo.CreatePackage(ctx, TripPackage{
		Name: "Swapped", FlightID: hotel.ID, HotelID: flight.ID,
		Price: 300, StartDate: "2026-06-01", EndDate: "2026-06-05", AvailableUnits: 3,
	})
	assert.ErrorIs(t, err, types.ErrCatalogInputInvalid)

	_, err = repo.CreatePackage(ctx, TripPackage{
		Name: "Backwards", FlightID: flight.ID, HotelID: hotel.ID,
		Price: 300, StartDate: "2026-06-05", EndDate: "2026-06-01", AvailableUnits: 3,
	})
	assert.ErrorIs(t, err, types.ErrCatalogInputInvalid)

	pkg, err := repo.CreatePackage(ctx, TripPackage{
		Name: "Kish Weekend", FlightID: flight.ID, HotelID: hotel.ID,
		Price: 300, StartDate: "2026-06-01", EndDate: "2026-06-05", AvailableUnits: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{}, pkg.ActivityIDs)

	assert.ErrorIs(t, repo.DeleteProduct(ctx, hotel.ID, "prov-1"), types.ErrProductInUse)

	purchase, err := repo.Purchase(ctx, pkg.ID, "user-9", 2)
	require.NoError(t, err)
	assert.Equal(t, 600.0, purchase.TotalPrice)
	assert.Equal(t, "Kish Weekend", purchase.PackageName)
	assert.Equal(t, "2026-05-04T10:30:00Z", purchase.PurchaseDate)
	assert.NotEmpty(t, purchase.TransactionID)

	_, err = repo.Purchase(ctx, pkg.ID, "user-9", 2)
	assert.ErrorIs(t, err, types.ErrInsufficientUnits)

	reloaded, err := repo.GetPackage(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.AvailableUnits)

	history, err := repo.PurchaseHistory(ctx, "user-9")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, purchase.ID, history[0].ID)

	history, err = repo.PurchaseHistory(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, repo.DeletePackage(ctx, pkg.ID))
	assert.ErrorIs(t, repo.DeletePackage(ctx, pkg.ID), types.ErrPackageNotFound)
	require.NoError(t, repo.DeleteProduct(ctx, hotel.ID, "prov-1"))
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func TestChangeStockIsAllOrNothing(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	a := mustCreateProduct(t, repo, product("prov-1", "Kish Air", CategoryFlight, 120))
	b := mustCreateProduct(t, repo, product("prov-1", "Kish Hotel", CategoryHotel, 200))
	foreign := mustCreateProduct(t, repo, product("prov-2", "Yazd Tour", CategoryTourism, 15))

	_, err := repo.ChangeStock(ctx, []string{a.ID, b.ID}, "prov-1", -11)
	assert.ErrorIs(t, err, types.ErrCatalogInputInvalid)

	_, err = repo.ChangeStock(ctx, []string{a.ID, foreign.ID}, "prov-1", 1)
	assert.ErrorIs(t, err, types.ErrNotOwner)

	_, err = repo.ChangeStock(ctx, []string{a.ID, "missing"}, "prov-1", 1)
	assert.ErrorIs(t, err, types.ErrProductNotFound)

	stored, err := repo.GetProduct(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.Stock)

	updated, err := repo.ChangeStock(ctx, []string{a.ID, b.ID, a.ID}, "prov-1", -4)
	require.NoError(t, err)
	require.Len(t, updated, 2)

	for _, id := range []string{a.ID, b.ID} {
		stored, err = repo.GetProduct(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 6, stored.Stock)
	}
}

func TestDeleteProductsChecksEveryID(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	flight := mustCreateProduct(t, repo, product("prov-1", "Kish Air", CategoryFlight, 120))
	hotel := mustCreateProduct(t, repo, product("prov-1", "Kish Hotel", CategoryHotel, 200))
	bus := mustCreateProduct(t, repo, product("prov-1", "Night Bus", CategoryBus, 12))
	train := mustCreateProduct(t, repo, product("prov-1", "Rail", CategoryTrain, 30))

	_, err := repo.CreatePackage(ctx, TripPackage{
		Name: "Kish", FlightID: flight.ID, HotelID: hotel.ID,
		Price: 300, StartDate: "2026-06-01", EndDate: "2026-06-03", AvailableUnits: 2,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteProducts(ctx, []string{bus.ID, hotel.ID}, "prov-1"), types.ErrProductInUse)
	assert.ErrorIs(t, repo.DeleteProducts(ctx, []string{bus.ID}, "prov-2"), types.ErrNotOwner)
	assert.ErrorIs(t, repo.DeleteProducts(ctx, nil, "prov-1"), types.ErrCatalogInputInvalid)

	_, err = repo.GetProduct(ctx, bus.ID)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteProducts(ctx, []string{bus.ID, train.ID}, "prov-1"))

	_, err = repo.GetProduct(ctx, bus.ID)
	assert.ErrorIs(t, err, types.ErrProductNotFound)
	_, err = repo.GetProduct(ctx, train.ID)
	assert.ErrorIs(t, err, types.ErrProductNotFound)
}

func TestImageLifecycle(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	_, err := repo.CreateImage(ctx, []byte("plain text, not a picture"))
	assert.ErrorIs(t, err, types.ErrCatalogInputInvalid)

	_, err = repo.CreateImage(ctx, nil)
	assert.ErrorIs(t, err, types.ErrCatalogInputInvalid)

	created, err := repo.CreateImage(ctx, pngHeader)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "image/png", created.ContentType)

	stored, err := repo.GetImage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, stored.Content)
	assert.Equal(t, len(pngHeader), stored.Size)

	require.NoError(t, repo.DeleteImage(ctx, created.ID))
	assert.ErrorIs(t, repo.DeleteImage(ctx, created.ID), types.ErrImageNotFound)

	_, err = repo.GetImage(ctx, created.ID)
	assert.ErrorIs(t, err, types.ErrImageNotFound)
}
