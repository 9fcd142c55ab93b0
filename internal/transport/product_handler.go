package transport

import (
	"net/http"

	"pantry-store/internal/middleware"
	"pantry-store/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateProductRequest represents the product creation payload
type CreateProductRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Slug        string          `json:"slug" validate:"omitempty,max=200"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" validate:"gte=0"`
	IsActive    *bool           `json:"is_active"`
	CategoryID  string          `json:"category_id" validate:"required,uuid"`
	ImageURL    string          `json:"image_url" validate:"omitempty,url"`
}

// UpdateProductRequest changes only the fields present in the payload
type UpdateProductRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Slug        *string          `json:"slug" validate:"omitempty,min=1,max=200"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock" validate:"omitempty,gte=0"`
	IsActive    *bool            `json:"is_active"`
	CategoryID  *string          `json:"category_id" validate:"omitempty,uuid"`
	ImageURL    *string          `json:"image_url" validate:"omitempty,url"`
}

// CreateCategoryRequest represents the category creation payload
type CreateCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Slug        string `json:"slug" validate:"omitempty,max=100"`
	Description string `json:"description"`
}

// ProductHandler serves the catalog
type ProductHandler struct {
	catalog service.CatalogService
	logger  *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(catalog service.CatalogService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{catalog: catalog, logger: logger}
}

// RegisterRoutes registers the public catalog and the admin catalog routes
func (h *ProductHandler) RegisterRoutes(r chi.Router, authMiddleware, adminMiddleware Middleware) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/{slug}", h.GetProduct)
	})
	r.Get("/api/categories", h.ListCategories)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authMiddleware, adminMiddleware)
		r.Get("/products", h.ListAllProducts)
		r.Post("/products", h.CreateProduct)
		r.Put("/products/{id}", h.UpdateProduct)
		r.Delete("/products/{id}", h.DeleteProduct)
		r.Post("/categories", h.CreateCategory)
	})
}

// ListProducts lists active products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

// ListAllProducts lists products including inactive ones
func (h *ProductHandler) ListAllProducts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *ProductHandler) list(w http.ResponseWriter, r *http.Request, includeInactive bool) {
	page, pageSize, err := paging(r)
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	q := r.URL.Query()
	result, err := h.catalog.ListProducts(r.Context(), service.ProductQuery{
		CategorySlug:    q.Get("category"),
		Search:          q.Get("search"),
		IncludeInactive: includeInactive,
		Page:            page,
		PageSize:        pageSize,
		SortBy:          q.Get("sort_by"),
		SortOrder:       q.Get("sort_order"),
	})
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, result)
}

// GetProduct returns one active product by slug
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProductBySlug(r.Context(), chi.URLParam(r, "slug"), false)
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// ListCategories handles listing all categories
func (h *ProductHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"categories": categories})
}

// CreateProduct handles admin product creation
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	categoryID, err := parseUUID(req.CategoryID, "category_id")
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), service.ProductInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		IsActive:    req.IsActive,
		CategoryID:  categoryID,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

// UpdateProduct handles admin product edits
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	var req UpdateProductRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	update := service.ProductUpdate{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		IsActive:    req.IsActive,
		ImageURL:    req.ImageURL,
	}
	if req.CategoryID != nil {
		categoryID, err := parseUUID(*req.CategoryID, "category_id")
		if err != nil {
			middleware.RespondWithAppError(w, r, err, h.logger)
			return
		}
		update.CategoryID = &categoryID
	}

	product, err := h.catalog.UpdateProduct(r.Context(), id, update)
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// DeleteProduct handles admin product deletion
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	if err := h.catalog.DeleteProduct(r.Context(), id); err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateCategory handles admin category creation
func (h *ProductHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	category, err := h.catalog.CreateCategory(r.Context(), service.CategoryInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	})
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, category)
}
