package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"pantry-store/internal/apperr"
	"pantry-store/internal/domain"
	"pantry-store/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductQuery is a customer or admin catalog listing request.
type ProductQuery struct {
	CategorySlug    string
	Search          string
	IncludeInactive bool
	Page            int
	PageSize        int
	SortBy          string
	SortOrder       string
}

// ProductPage is one page of products.
type ProductPage struct {
	Products []*domain.Product `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ProductInput creates a product. An empty Slug is derived from Name.
type ProductInput struct {
	Name        string
	Slug        string
	Description string
	Price       decimal.Decimal
	Stock       int
	IsActive    *bool
	CategoryID  uuid.UUID
	ImageURL    string
}

// ProductUpdate changes only the non-nil fields.
type ProductUpdate struct {
	Name        *string
	Slug        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	IsActive    *bool
	CategoryID  *uuid.UUID
	ImageURL    *string
}

// CategoryInput creates a category. An empty Slug is derived from Name.
type CategoryInput struct {
	Name        string
	Slug        string
	Description string
}

// CatalogService defines the product and category operations
type CatalogService interface {
	ListProducts(ctx context.Context, query ProductQuery) (*ProductPage, error)
	GetProductBySlug(ctx context.Context, slug string, includeInactive bool) (*domain.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID, includeInactive bool) (*domain.Product, error)
	CreateProduct(ctx context.Context, input ProductInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, update ProductUpdate) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	CreateCategory(ctx context.Context, input CategoryInput) (*domain.Category, error)
}

type catalogService struct {
	products   repository.ProductRepository
	categories repository.CategoryRepository
	logger     *zap.Logger
	now        func() time.Time
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(products repository.ProductRepository, categories repository.CategoryRepository, logger *zap.Logger) CatalogService {
	return &catalogService{
		products:   products,
		categories: categories,
		logger:     logger,
		now:        nowUTC,
	}
}

// ListProducts returns a filtered page of the catalog.
func (s *catalogService) ListProducts(ctx context.Context, query ProductQuery) (*ProductPage, error) {
	filter := repository.ProductFilter{
		Search:     query.Search,
		ActiveOnly: !query.IncludeInactive,
		Page:       query.Page,
		PageSize:   query.PageSize,
		SortBy:     query.SortBy,
		SortOrder:  repository.SortOrder(strings.ToUpper(query.SortOrder)),
	}

	if query.CategorySlug != "" {
		category, err := s.categories.FindBySlug(ctx, query.CategorySlug)
		if err != nil {
			if errors.Is(err, repository.ErrCategoryNotFound) {
				return nil, apperr.Newf(apperr.CodeNotFound, "category %q not found", query.CategorySlug)
			}
			return nil, internalError(err, "failed to load category")
		}
		filter.CategoryID = &category.ID
	}

	products, total, err := s.products.List(ctx, filter)
	if err != nil {
		return nil, internalError(err, "failed to list products")
	}

	page, pageSize := pageBounds(query.Page, query.PageSize)

	return &ProductPage{Products: products, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *catalogService) GetProductBySlug(ctx context.Context, slug string, includeInactive bool) (*domain.Product, error) {
	product, err := s.products.FindBySlug(ctx, slug)
	return visibleProduct(product, err, includeInactive)
}

func (s *catalogService) GetProduct(ctx context.Context, id uuid.UUID, includeInactive bool) (*domain.Product, error) {
	product, err := s.products.FindByID(ctx, id)
	return visibleProduct(product, err, includeInactive)
}

// visibleProduct hides inactive products from customers.
func visibleProduct(product *domain.Product, err error, includeInactive bool) (*domain.Product, error) {
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "product not found")
		}
		return nil, internalError(err, "failed to load product")
	}
	if !product.IsActive && !includeInactive {
		return nil, apperr.New(apperr.CodeNotFound, "product not found")
	}
	return product, nil
}

// CreateProduct validates and stores a new product.
func (s *catalogService) CreateProduct(ctx context.Context, input ProductInput) (*domain.Product, error) {
	if err := validateProductValues(input.Price, input.Stock); err != nil {
		return nil, err
	}

	slug := input.Slug
	if slug == "" {
		slug = Slugify(input.Name)
	}
	if slug == "" {
		return nil, apperr.New(apperr.CodeValidation, "product slug cannot be empty").WithDetail("field", "slug")
	}

	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	now := s.now()
	product := &domain.Product{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(input.Name),
		Slug:        slug,
		Description: input.Description,
		Price:       input.Price.Round(2),
		Stock:       input.Stock,
		IsActive:    active,
		CategoryID:  input.CategoryID,
		ImageURL:    input.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Create(ctx, product); err != nil {
		return nil, translateProductError(err, "failed to create product")
	}

	s.logger.Info("Product created", zap.String("product_id", product.ID.String()), zap.String("slug", product.Slug))
	return product, nil
}

// UpdateProduct applies the non-nil fields of update.
func (s *catalogService) UpdateProduct(ctx context.Context, id uuid.UUID, update ProductUpdate) (*domain.Product, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, translateProductError(err, "failed to load product")
	}

	if update.Name != nil {
		product.Name = strings.TrimSpace(*update.Name)
	}
	if update.Slug != nil {
		product.Slug = *update.Slug
	}
	if update.Description != nil {
		product.Description = *update.Description
	}
	if update.Price != nil {
		product.Price = update.Price.Round(2)
	}
	if update.Stock != nil {
		product.Stock = *update.Stock
	}
	if update.IsActive != nil {
		product.IsActive = *update.IsActive
	}
	if update.CategoryID != nil {
		product.CategoryID = *update.CategoryID
	}
	if update.ImageURL != nil {
		product.ImageURL = *update.ImageURL
	}

	if err := validateProductValues(product.Price, product.Stock); err != nil {
		return nil, err
	}

	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return nil, translateProductError(err, "failed to update product")
	}

	return product, nil
}

// DeleteProduct removes a product no cart or order references.
func (s *catalogService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return translateProductError(err, "failed to delete product")
	}
	s.logger.Info("Product deleted", zap.String("product_id", id.String()))
	return nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, internalError(err, "failed to list categories")
	}
	return categories, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, input CategoryInput) (*domain.Category, error) {
	slug := input.Slug
	if slug == "" {
		slug = Slugify(input.Name)
	}
	if slug == "" {
		return nil, apperr.New(apperr.CodeValidation, "category slug cannot be empty").WithDetail("field", "slug")
	}

	category := &domain.Category{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(input.Name),
		Slug:        slug,
		Description: input.Description,
		CreatedAt:   s.now(),
	}

	if err := s.categories.Create(ctx, category); err != nil {
		if errors.Is(err, repository.ErrCategoryAlreadyExists) {
			return nil, apperr.New(apperr.CodeConflict, "category with this name or slug already exists")
		}
		return nil, internalError(err, "failed to create category")
	}

	return category, nil
}

func validateProductValues(price decimal.Decimal, stock int) error {
	if price.IsNegative() {
		return apperr.New(apperr.CodeValidation, "price must not be negative").WithDetail("field", "price")
	}
	if stock < 0 {
		return apperr.New(apperr.CodeValidation, "stock must not be negative").WithDetail("field", "stock")
	}
	return nil
}

func translateProductError(err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		return apperr.New(apperr.CodeNotFound, "product not found")
	case errors.Is(err, repository.ErrProductSlugTaken):
		return apperr.New(apperr.CodeConflict, "product with this slug already exists")
	case errors.Is(err, repository.ErrProductInUse):
		return apperr.New(apperr.CodeConflict, "product is referenced by a cart or order and cannot be deleted")
	case errors.Is(err, repository.ErrUnknownProductCategory):
		return apperr.New(apperr.CodeValidation, "category does not exist").WithDetail("field", "category_id")
	case errors.Is(err, repository.ErrInvalidProduct):
		return apperr.New(apperr.CodeValidation, err.Error())
	}
	return internalError(err, message)
}

// Slugify lowercases s and joins its letter and digit runs with hyphens.
func Slugify(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}
