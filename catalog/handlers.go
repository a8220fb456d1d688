// Package catalog is the product, trip package and purchase store whose read
// endpoints are served through the view cache.
package catalog

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/middleware"
	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

// ViewTTL is how long catalog list and detail views stay cached. Image bytes
// change only through upload and delete and are kept for StaticTTL.
const (
	ViewTTL   = 5 * time.Minute
	StaticTTL = 15 * time.Minute
)

const (
	ViewProductList         = "product_list"
	ViewAllProductsList     = "all_products_list"
	ViewProductDetail       = "product_detail"
	ViewPackageList         = "package_list"
	ViewPackageDetail       = "package_detail"
	ViewUserPurchaseHistory = "user_purchase_history"
	ViewImageDetail         = "image_detail"
)

const (
	ModelProduct         = "product"
	ModelPackage         = "package"
	ModelTransaction     = "transaction"
	ModelPurchaseHistory = "purchasehistory"
	ModelImage           = "image"
)

type Handlers struct {
	repo        *Repository
	invalidator types.Invalidator
	logger      types.Logger
}

type Envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListData struct {
	Total    int         `json:"total"`
	Offset   int         `json:"offset"`
	Limit    int         `json:"limit"`
	Products interface{} `json:"products,omitempty"`
	Packages interface{} `json:"packages,omitempty"`
}

func NewHandlers(repo *Repository, invalidator types.Invalidator, logger types.Logger) *Handlers {
	return &Handlers{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger,
	}
}

func (h *Handlers) Register(router types.HTTPRouter) {
	products := router.Group("/products")
	products.GET("/", h.ListProducts).WithCache(ViewProductList, ViewTTL)
	products.GET("/all/", h.ListAllProducts).WithCache(ViewAllProductsList, ViewTTL)
	products.GET("/{product_id}/", h.GetProduct).WithCache(ViewProductDetail, ViewTTL)
	products.POST("/", h.CreateProduct)
	products.PUT("/{product_id}/", h.UpdateProduct)
	products.DELETE("/{product_id}/", h.DeleteProduct)
	products.POST("/{product_id}/activate/", h.ActivateProduct)
	products.POST("/{product_id}/deactivate/", h.DeactivateProduct)
	products.Route(fasthttp.MethodPatch, "/stock/", h.ChangeStock)
	products.DELETE("/bulk/", h.DeleteProducts)

	packages := router.Group("/packages")
	packages.GET("/", h.ListPackages).WithCache(ViewPackageList, ViewTTL)
	packages.GET("/{package_id}/", h.GetPackage).WithCache(ViewPackageDetail, ViewTTL)
	packages.POST("/", h.CreatePackage)
	packages.DELETE("/{package_id}/", h.DeletePackage)
	packages.POST("/{package_id}/purchase/", h.PurchasePackage)

	router.GET("/purchases/", h.PurchaseHistory).WithCache(ViewUserPurchaseHistory, ViewTTL)

	images := router.Group("/images")
	images.POST("/upload/", h.UploadImage)
	images.DELETE("/{image_id}/", h.DeleteImage)
	images.GET("/{image_id}/download/", h.DownloadImage).WithCache(ViewImageDetail, StaticTTL)
}

// ListProducts lists the caller's own products. Only active ones are shown
// unless isActive is given.
func (h *Handlers) ListProducts(ctx *fasthttp.RequestCtx) {
	providerID, authed := requireUser(ctx)
	if !authed {
		return
	}

	filter := ProductFilter{
		ProviderID: providerID,
		Category:   queryString(ctx, "category"),
		Search:     queryString(ctx, "search"),
		Page:       queryPage(ctx),
	}

	active := true
	filter.Active = &active
	if raw := queryString(ctx, "isActive"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(ctx, "isActive must be a boolean")
			return
		}
		filter.Active = &parsed
	}

	h.writeProducts(ctx, filter)
}

func (h *Handlers) ListAllProducts(ctx *fasthttp.RequestCtx) {
	active := true
	h.writeProducts(ctx, ProductFilter{
		Active:   &active,
		Category: queryString(ctx, "category"),
		Search:   queryString(ctx, "search"),
		Page:     queryPage(ctx),
	})
}

func (h *Handlers) writeProducts(ctx *fasthttp.RequestCtx, filter ProductFilter) {
	products, total, err := h.repo.ListProducts(ctx, filter)
	if err != nil {
		h.fail(ctx, "Failed to list products", err)
		return
	}

	page := filter.Page.normalized()
	utils.WriteJSON(ctx, fasthttp.StatusOK, Envelope{
		Status:  "success",
		Message: "Products retrieved successfully",
		Data: ListData{
			Total:    total,
			Offset:   page.Offset,
			Limit:    page.Limit,
			Products: products,
		},
	})
}

func (h *Handlers) GetProduct(ctx *fasthttp.RequestCtx) {
	product, err := h.repo.GetProduct(ctx, types.RouteParam(ctx, "product_id"))
	if err != nil {
		h.fail(ctx, "Failed to read product", err)
		return
	}

	ok(ctx, fasthttp.StatusOK, "Product retrieved successfully", product)
}

func (h *Handlers) CreateProduct(ctx *fasthttp.RequestCtx) {
	providerID, authed := requireUser(ctx)
	if !authed {
		return
	}

	var product Product
	if !decodeBody(ctx, &product) {
		return
	}
	product.ProviderID = providerID

	created, err := h.repo.CreateProduct(ctx, product)
	if err != nil {
		h.fail(ctx, "Failed to create product", err)
		return
	}

	h.invalidate(ctx, ModelProduct, created.ID, ModelPackage)
	ok(ctx, fasthttp.StatusCreated, "Product created successfully", created)
}

func (h *Handlers) UpdateProduct(ctx *fasthttp.RequestCtx) {
	providerID, authed := requireUser(ctx)
	if !authed {
		return
	}

	var update ProductUpdate
	if !decodeBody(ctx, &update) {
		return
	}

	id := types.RouteParam(ctx, "product_id")
	product, err := h.repo.UpdateProduct(ctx, id, providerID, update)
	if err != nil {
		h.fail(ctx, "Failed to update product", err)
		return
	}

	h.invalidate(ctx, ModelProduct, id, ModelPackage)
	ok(ctx, fasthttp.StatusOK, "Product updated successfully", product)
}

func (h *Handlers) DeleteProduct(ctx *fasthttp.RequestCtx) {
	providerID, authed := requireUser(ctx)
	if !authed {
		return
	}

	id := types.RouteParam(ctx, "product_id")
	if err := h.repo.DeleteProduct(ctx, id, providerID); err != nil {
		h.fail(ctx, "Failed to delete product", err)
		return
	}

	h.invalidate(ctx, ModelProduct, id, ModelPackage)
	ok(ctx, fasthttp.StatusOK, "Product deleted successfully", nil)
}

func (h *Handlers) ActivateProduct(ctx *fasthttp.RequestCtx) {
	h.setActive(ctx, true, "Product activated successfully")
}

func (h *Handlers) DeactivateProduct(ctx *fasthttp.RequestCtx) {
	h.setActive(ctx, false, "Product deactivated successfully")
}

func (h *Handlers) setActive(ctx *fasthttp.RequestCtx, active bool, message string) {
	providerID, authed := requireUser(ctx)
	if !authed {
		return
	}

	id := types.RouteParam(ctx, "product_id")
	product, err := h.repo.SetProductActive(ctx, id, providerID, active)
	if err != nil {
		h.fail(ctx, "Failed to change product state", err)
		return
	}

	h.invalidate(ctx, ModelProduct, id, ModelPackage)
	ok(ctx, fasthttp.StatusOK, message, product)
}

func (h *Handlers) ChangeStock(ctx *fasthttp.RequestCtx) {
	providerID, authed := requireUser(ctx)
	if !authed {
		return
	}

	var request StockChange
	if !decodeBody(ctx, &request) {
		return
	}

	products, err := h.repo.ChangeStock(ctx, request.Updates, providerID, *request.StockChange)
	if err != nil {
		h.fail(ctx, "Failed to change stock", err)
		return
	}

	for _, product := range products {
		h.invalidate(ctx, ModelProduct, product.ID, ModelPackage)
	}
	ok(ctx, fasthttp.StatusOK, "Stock quantities updated successfully", products)
}

// DeleteProducts removes the comma separated productIds in one step.
func (h *Handlers) DeleteProducts(ctx *fasthttp.RequestCtx) {
	providerID, authed := requireUser(ctx)
	if !authed {
		return
	}

	var ids []string
	for _, id := range strings.Split(queryString(ctx, "productIds"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		badRequest(ctx, "productIds is required")
		return
	}

	if err := h.repo.DeleteProducts(ctx, ids, providerID); err != nil {
		h.fail(ctx, "Failed to delete products", err)
		return
	}

	for _, id := range ids {
		h.invalidate(ctx, ModelProduct, id, ModelPackage)
	}
	ok(ctx, fasthttp.StatusOK, "Products deleted successfully", nil)
}

func (h *Handlers) ListPackages(ctx *fasthttp.RequestCtx) {
	filter := PackageFilter{
		Search:    queryString(ctx, "search"),
		DateStart: queryString(ctx, "date_start"),
		DateEnd:   queryString(ctx, "date_end"),
		SortBy:    queryString(ctx, "sort_by"),
		Page:      queryPage(ctx),
	}

	var err error
	if filter.PriceMin, err = queryFloat(ctx, "price_min"); err != nil {
		badRequest(ctx, "price_min must be a number")
		return
	}
	if filter.PriceMax, err = queryFloat(ctx, "price_max"); err != nil {
		badRequest(ctx, "price_max must be a number")
		return
	}
	if raw := queryString(ctx, "published"); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(ctx, "published must be a boolean")
			return
		}
		filter.Published = &published
	}

	packages, total, err := h.repo.ListPackages(ctx, filter)
	if err != nil {
		h.fail(ctx, "Failed to list packages", err)
		return
	}

	page := filter.Page.normalized()
	utils.WriteJSON(ctx, fasthttp.StatusOK, Envelope{
		Status:  "success",
		Message: "Packages retrieved successfully",
		Data: ListData{
			Total:    total,
			Offset:   page.Offset,
			Limit:    page.Limit,
			Packages: packages,
		},
	})
}

func (h *Handlers) GetPackage(ctx *fasthttp.RequestCtx) {
	pkg, err := h.repo.GetPackage(ctx, types.RouteParam(ctx, "package_id"))
	if err != nil {
		h.fail(ctx, "Failed to read package", err)
		return
	}

	ok(ctx, fasthttp.StatusOK, "Package retrieved successfully", pkg)
}

func (h *Handlers) CreatePackage(ctx *fasthttp.RequestCtx) {
	if _, authed := requireUser(ctx); !authed {
		return
	}

	var pkg TripPackage
	if !decodeBody(ctx, &pkg) {
		return
	}

	created, err := h.repo.CreatePackage(ctx, pkg)
	if err != nil {
		h.fail(ctx, "Failed to create package", err)
		return
	}

	h.invalidate(ctx, ModelPackage, created.ID)
	ok(ctx, fasthttp.StatusCreated, "Package created successfully", created)
}

func (h *Handlers) DeletePackage(ctx *fasthttp.RequestCtx) {
	if _, authed := requireUser(ctx); !authed {
		return
	}

	id := types.RouteParam(ctx, "package_id")
	if err := h.repo.DeletePackage(ctx, id); err != nil {
		h.fail(ctx, "Failed to delete package", err)
		return
	}

	h.invalidate(ctx, ModelPackage, id)
	ok(ctx, fasthttp.StatusOK, "Package deleted successfully", nil)
}

func (h *Handlers) PurchasePackage(ctx *fasthttp.RequestCtx) {
	userID, authed := requireUser(ctx)
	if !authed {
		return
	}

	request := PurchaseRequest{Quantity: 1}
	if len(ctx.PostBody()) > 0 && !decodeBody(ctx, &request) {
		return
	}

	id := types.RouteParam(ctx, "package_id")
	purchase, err := h.repo.Purchase(ctx, id, userID, request.Quantity)
	if err != nil {
		h.fail(ctx, "Failed to purchase package", err)
		return
	}

	h.invalidate(ctx, ModelTransaction, purchase.TransactionID)
	h.invalidate(ctx, ModelPurchaseHistory, purchase.ID)
	h.invalidate(ctx, ModelPackage, id)
	ok(ctx, fasthttp.StatusCreated, "Package purchased successfully", purchase)
}

func (h *Handlers) PurchaseHistory(ctx *fasthttp.RequestCtx) {
	userID, authed := requireUser(ctx)
	if !authed {
		return
	}

	purchases, err := h.repo.PurchaseHistory(ctx, userID)
	if err != nil {
		h.fail(ctx, "Failed to read purchase history", err)
		return
	}

	ok(ctx, fasthttp.StatusOK, "Purchase history retrieved successfully", purchases)
}

func (h *Handlers) UploadImage(ctx *fasthttp.RequestCtx) {
	if _, authed := requireUser(ctx); !authed {
		return
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		badRequest(ctx, "No file provided")
		return
	}

	file, err := header.Open()
	if err != nil {
		h.fail(ctx, "Failed to read upload", err)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, MaxImageSize+1))
	if err != nil {
		h.fail(ctx, "Failed to read upload", err)
		return
	}

	image, err := h.repo.CreateImage(ctx, content)
	if err != nil {
		h.fail(ctx, "Failed to store image", err)
		return
	}

	h.invalidate(ctx, ModelImage, image.ID)
	ok(ctx, fasthttp.StatusCreated, "Image uploaded successfully", map[string]interface{}{
		"imageId":      image.ID,
		"content_type": image.ContentType,
		"size":         image.Size,
	})
}

func (h *Handlers) DeleteImage(ctx *fasthttp.RequestCtx) {
	if _, authed := requireUser(ctx); !authed {
		return
	}

	id := types.RouteParam(ctx, "image_id")
	if err := h.repo.DeleteImage(ctx, id); err != nil {
		h.fail(ctx, "Failed to delete image", err)
		return
	}

	h.invalidate(ctx, ModelImage, id)
	ok(ctx, fasthttp.StatusOK, "Image deleted successfully", nil)
}

// DownloadImage serves the stored bytes with their detected content type.
func (h *Handlers) DownloadImage(ctx *fasthttp.RequestCtx) {
	image, err := h.repo.GetImage(ctx, types.RouteParam(ctx, "image_id"))
	if err != nil {
		h.fail(ctx, "Failed to read image", err)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(image.ContentType)
	ctx.SetBody(image.Content)
}

// invalidate runs after the write is committed. A failed purge is logged and
// never turns a successful write into an error response.
func (h *Handlers) invalidate(ctx *fasthttp.RequestCtx, model, id string, related ...string) {
	if h.invalidator == nil {
		return
	}

	if _, err := h.invalidator.Invalidate(ctx, model, id, related...); err != nil {
		h.logger.Error("Cache invalidation failed after write",
			zap.String("model", model),
			zap.String("id", id),
			zap.Error(err))
	}
}

func (h *Handlers) fail(ctx *fasthttp.RequestCtx, msg string, err error) {
	switch {
	case types.IsError(err, types.ErrProductNotFound), types.IsError(err, types.ErrPackageNotFound),
		types.IsError(err, types.ErrImageNotFound):
		utils.WriteError(ctx, fasthttp.StatusNotFound, err.Error())
	case types.IsError(err, types.ErrNotOwner):
		utils.WriteError(ctx, fasthttp.StatusForbidden, err.Error())
	case types.IsError(err, types.ErrProductInUse), types.IsError(err, types.ErrInsufficientUnits):
		utils.WriteError(ctx, fasthttp.StatusConflict, err.Error())
	case types.IsError(err, types.ErrCatalogInputInvalid):
		badRequest(ctx, err.Error())
	default:
		h.logger.ErrorWithErrStack(msg, err)
		utils.WriteError(ctx, fasthttp.StatusInternalServerError, err.Error())
	}
}

func ok(ctx *fasthttp.RequestCtx, status int, message string, data interface{}) {
	utils.WriteJSON(ctx, status, Envelope{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

func badRequest(ctx *fasthttp.RequestCtx, message string) {
	utils.WriteError(ctx, fasthttp.StatusBadRequest, message)
}

func requireUser(ctx *fasthttp.RequestCtx) (string, bool) {
	userID := middleware.UserID(ctx)
	if userID == "" {
		utils.CreateUnauthorizedResponse(ctx)
		return "", false
	}
	return userID, true
}

func decodeBody[T any](ctx *fasthttp.RequestCtx, target *T) bool {
	if err := utils.Unmarshal(ctx.PostBody(), target); err != nil {
		badRequest(ctx, "invalid JSON body")
		return false
	}

	if err := utils.ValidateStruct(target); err != nil {
		badRequest(ctx, err.Error())
		return false
	}

	return true
}

func queryString(ctx *fasthttp.RequestCtx, name string) string {
	return string(ctx.QueryArgs().Peek(name))
}

func queryFloat(ctx *fasthttp.RequestCtx, name string) (*float64, error) {
	raw := queryString(ctx, name)
	if raw == "" {
		return nil, nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func queryPage(ctx *fasthttp.RequestCtx) Page {
	offset, _ := strconv.Atoi(queryString(ctx, "offset"))
	limit, _ := strconv.Atoi(queryString(ctx, "limit"))
	return Page{Offset: offset, Limit: limit}
}
