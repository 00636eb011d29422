package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/platform/textutil"
	"github.com/totebags/api/internal/repositories"
)

const (
	productIDPrefix    = "prd_"
	variantIDPrefix    = "var_"
	imageIDPrefix      = "img_"
	collectionIDPrefix = "col_"
)

var (
	// ErrProductInvalidInput signals a product payload that breaks a catalog rule.
	ErrProductInvalidInput = errors.New("catalog: invalid input")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrCollectionNotFound indicates the referenced collection does not exist.
	ErrCollectionNotFound = errors.New("catalog: collection not found")
	// ErrProductConflict indicates a duplicate slug or SKU.
	ErrProductConflict = errors.New("catalog: conflict")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	catalog    repositories.CatalogRepository
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCatalogService wires the product catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("catalog service: order repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		catalog:    deps.Catalog,
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (product Product, err error) {
	ctx, span := tracer.Start(ctx, "catalog.create_product")
	defer func() { endSpan(span, err) }()

	product, err = s.buildProduct(cmd)
	if err != nil {
		return Product{}, err
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		collection, err := s.resolveCollection(txCtx, cmd.CollectionID, cmd.CollectionName)
		if err != nil {
			return err
		}
		product.Collection = collection
		if err := validateVariantSKUs(collection.Name, product.Name, product.Variants); err != nil {
			return err
		}
		if err := s.catalog.InsertProduct(txCtx, product); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.logger(ctx, "catalog.product.created", map[string]any{"productId": product.ID, "slug": product.Slug})
	return product, nil
}

func (s *catalogService) buildProduct(cmd CreateProductCommand) (Product, error) {
	now := s.clock()
	product := Product{
		ID:               productIDPrefix + s.newID(),
		Name:             strings.TrimSpace(cmd.Name),
		Slug:             strings.TrimSpace(cmd.Slug),
		Description:      strings.TrimSpace(cmd.Description),
		BasePrice:        cmd.BasePrice,
		MinPrice:         cmd.MinPrice,
		ComparePrice:     cmd.ComparePrice,
		CostPrice:        cmd.CostPrice,
		Status:           domain.ProductStatusAvailable,
		IsActive:         true,
		Tags:             textutil.NormalizeList(cmd.Tags),
		DeliveryTime:     strings.TrimSpace(cmd.DeliveryTime),
		Material:         strings.TrimSpace(cmd.Material),
		Dimensions:       strings.TrimSpace(cmd.Dimensions),
		CareInstructions: strings.TrimSpace(cmd.CareInstructions),
		SEOTitle:         strings.TrimSpace(cmd.SEOTitle),
		SEODescription:   strings.TrimSpace(cmd.SEODescription),
		Images:           s.buildImages(cmd.Images),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if product.Slug == "" {
		product.Slug = domain.Slugify(product.Name)
	}

	var invalid []string
	if product.Name == "" {
		invalid = append(invalid, "name")
	}
	if product.Slug == "" {
		invalid = append(invalid, "slug")
	}
	if product.Description == "" {
		invalid = append(invalid, "description")
	}
	if product.DeliveryTime == "" {
		invalid = append(invalid, "deliveryTime")
	}
	if strings.TrimSpace(cmd.Status) != "" {
		status, ok := domain.ParseProductStatus(cmd.Status)
		if !ok {
			invalid = append(invalid, "status")
		}
		product.Status = status
	}
	if strings.TrimSpace(cmd.PrintType) != "" {
		printType, ok := domain.ParsePrintType(cmd.PrintType)
		if !ok {
			invalid = append(invalid, "printType")
		}
		product.PrintType = &printType
	}
	for i, img := range product.Images {
		if img.URL == "" {
			invalid = append(invalid, fmt.Sprintf("images[%d].url", i))
		}
	}
	for i, in := range cmd.Variants {
		variant := domain.ProductVariant{
			ID:       variantIDPrefix + s.newID(),
			SKU:      strings.TrimSpace(in.SKU),
			Color:    strings.TrimSpace(in.Color),
			ImageURL: strings.TrimSpace(in.ImageURL),
			Stock:    in.Stock,
		}
		prefix := fmt.Sprintf("variants[%d].", i)
		if variant.SKU == "" {
			invalid = append(invalid, prefix+"sku")
		}
		if variant.Color == "" {
			invalid = append(invalid, prefix+"color")
		}
		if variant.ImageURL == "" {
			invalid = append(invalid, prefix+"imageUrl")
		}
		if variant.Stock < 0 {
			invalid = append(invalid, prefix+"stock")
		}
		product.Variants = append(product.Variants, variant)
	}
	if len(invalid) > 0 {
		return Product{}, fmt.Errorf("%w: missing or invalid fields [%s]", ErrProductInvalidInput, strings.Join(invalid, ", "))
	}
	if err := validatePrices(product); err != nil {
		return Product{}, err
	}
	return product, nil
}

func (s *catalogService) buildImages(inputs []ProductImageInput) []domain.ProductImage {
	images := make([]domain.ProductImage, 0, len(inputs))
	for i, in := range inputs {
		position := i
		if in.Position != nil {
			position = *in.Position
		}
		images = append(images, domain.ProductImage{
			ID:       imageIDPrefix + s.newID(),
			URL:      strings.TrimSpace(in.URL),
			Alt:      strings.TrimSpace(in.Alt),
			Position: position,
		})
	}
	return images
}

func validatePrices(product Product) error {
	if product.BasePrice < 0 || product.MinPrice < 0 {
		return fmt.Errorf("%w: prices must not be negative", ErrProductInvalidInput)
	}
	if product.BasePrice < product.MinPrice {
		return fmt.Errorf("%w: base price (%s) cannot be lower than minimum price (%s)",
			ErrProductInvalidInput, product.BasePrice, product.MinPrice)
	}
	for _, price := range []*domain.Money{product.ComparePrice, product.CostPrice} {
		if price != nil && *price < 0 {
			return fmt.Errorf("%w: prices must not be negative", ErrProductInvalidInput)
		}
	}
	return nil
}

func validateVariantSKUs(collectionName, design string, variants []domain.ProductVariant) error {
	for _, variant := range variants {
		if !domain.ValidSKU(variant.SKU, collectionName, design, variant.Color) {
			return fmt.Errorf("%w: invalid SKU format: %s, expected: %s",
				ErrProductInvalidInput, variant.SKU, domain.ExpectedSKU(collectionName, design, variant.Color))
		}
	}
	return nil
}

// resolveCollection finds the collection by id, or by name/slug creating it when absent.
func (s *catalogService) resolveCollection(ctx context.Context, collectionID, collectionName string) (domain.Collection, error) {
	collectionID = strings.TrimSpace(collectionID)
	collectionName = textutil.Sanitize(collectionName)

	switch {
	case collectionID != "":
		collection, err := s.catalog.FindCollectionByID(ctx, collectionID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return domain.Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
			}
			return domain.Collection{}, s.mapRepositoryError(err)
		}
		return collection, nil
	case collectionName != "":
		slug := domain.Slugify(collectionName)
		collection, err := s.catalog.FindCollectionByNameOrSlug(ctx, collectionName, slug)
		if err == nil {
			return collection, nil
		}
		if !repositories.IsNotFound(err) {
			return domain.Collection{}, s.mapRepositoryError(err)
		}
		collection = domain.Collection{ID: collectionIDPrefix + s.newID(), Name: collectionName, Slug: slug}
		if err := s.catalog.InsertCollection(ctx, collection); err != nil {
			return domain.Collection{}, s.mapRepositoryError(err)
		}
		s.logger(ctx, "catalog.collection.created", map[string]any{"collectionId": collection.ID, "slug": slug})
		return collection, nil
	default:
		return domain.Collection{}, fmt.Errorf("%w: either collectionId or collectionName is required", ErrProductInvalidInput)
	}
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.catalog.FindProductByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Product{}, fmt.Errorf("%w: slug is required", ErrProductInvalidInput)
	}
	product, err := s.catalog.FindProductBySlug(ctx, slug)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, collectionID string) ([]Product, error) {
	products, err := s.catalog.ListProducts(ctx, repositories.ProductListFilter{CollectionID: strings.TrimSpace(collectionID)})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (product Product, err error) {
	ctx, span := tracer.Start(ctx, "catalog.update_product")
	defer func() { endSpan(span, err) }()

	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.catalog.FindProductByID(txCtx, productID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		product, err = s.applyPatch(current, cmd)
		if err != nil {
			return err
		}
		if cmd.CollectionID != nil || cmd.CollectionName != nil {
			collection, err := s.resolveCollection(txCtx, derefString(cmd.CollectionID), derefString(cmd.CollectionName))
			if err != nil {
				return err
			}
			product.Collection = collection
		}
		if err := s.catalog.UpdateProduct(txCtx, product, cmd.Images != nil); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

func (s *catalogService) applyPatch(product Product, cmd UpdateProductCommand) (Product, error) {
	var invalid []string
	setText := func(field string, target *string, value *string, required bool) {
		if value == nil {
			return
		}
		trimmed := strings.TrimSpace(*value)
		if required && trimmed == "" {
			invalid = append(invalid, field)
			return
		}
		*target = trimmed
	}
	setText("name", &product.Name, cmd.Name, true)
	setText("slug", &product.Slug, cmd.Slug, true)
	setText("description", &product.Description, cmd.Description, true)
	setText("deliveryTime", &product.DeliveryTime, cmd.DeliveryTime, true)
	setText("material", &product.Material, cmd.Material, false)
	setText("dimensions", &product.Dimensions, cmd.Dimensions, false)
	setText("careInstructions", &product.CareInstructions, cmd.CareInstructions, false)
	setText("seoTitle", &product.SEOTitle, cmd.SEOTitle, false)
	setText("seoDescription", &product.SEODescription, cmd.SEODescription, false)

	if cmd.BasePrice != nil {
		product.BasePrice = *cmd.BasePrice
	}
	if cmd.MinPrice != nil {
		product.MinPrice = *cmd.MinPrice
	}
	if cmd.ComparePrice != nil {
		product.ComparePrice = cmd.ComparePrice
	}
	if cmd.CostPrice != nil {
		product.CostPrice = cmd.CostPrice
	}
	if cmd.IsActive != nil {
		product.IsActive = *cmd.IsActive
	}
	if cmd.Tags != nil {
		product.Tags = textutil.NormalizeList(*cmd.Tags)
	}
	if cmd.Status != nil {
		status, ok := domain.ParseProductStatus(*cmd.Status)
		if !ok {
			invalid = append(invalid, "status")
		} else {
			product.Status = status
		}
	}
	if cmd.PrintType != nil {
		if strings.TrimSpace(*cmd.PrintType) == "" {
			product.PrintType = nil
		} else if printType, ok := domain.ParsePrintType(*cmd.PrintType); ok {
			product.PrintType = &printType
		} else {
			invalid = append(invalid, "printType")
		}
	}
	if cmd.Images != nil {
		product.Images = s.buildImages(*cmd.Images)
		for i, img := range product.Images {
			if img.URL == "" {
				invalid = append(invalid, fmt.Sprintf("images[%d].url", i))
			}
		}
	}
	if len(invalid) > 0 {
		return Product{}, fmt.Errorf("%w: missing or invalid fields [%s]", ErrProductInvalidInput, strings.Join(invalid, ", "))
	}
	if err := validatePrices(product); err != nil {
		return Product{}, err
	}
	product.UpdatedAt = s.clock()
	return product, nil
}

func (s *catalogService) RemoveProduct(ctx context.Context, productID string) (ProductRemoval, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductRemoval{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	var removal ProductRemoval
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.catalog.FindProductByID(txCtx, productID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		references, err := s.orders.CountItemsForProduct(txCtx, productID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if references == 0 {
			if err := s.catalog.DeleteProduct(txCtx, productID); err != nil {
				return s.mapRepositoryError(err)
			}
			removal = ProductRemoval{Product: product}
			return nil
		}

		product.IsActive = false
		product.Status = domain.ProductStatusMadeToOrder
		product.UpdatedAt = s.clock()
		if err := s.catalog.UpdateProduct(txCtx, product, false); err != nil {
			return s.mapRepositoryError(err)
		}
		removal = ProductRemoval{Product: product, SoftDeleted: true}
		return nil
	})
	if err != nil {
		return ProductRemoval{}, err
	}
	s.logger(ctx, "catalog.product.removed", map[string]any{"productId": productID, "soft": removal.SoftDeleted})
	return removal, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProductInvalidInput) || errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrProductConflict) {
		return err
	}
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrProductNotFound, err)
	case repositories.IsConflict(err):
		return fmt.Errorf("%w: slug or SKU already exists: %v", ErrProductConflict, err)
	case repositories.KindOf(err) == repositories.ErrorKindInvalidInput:
		return fmt.Errorf("%w: %v", ErrProductInvalidInput, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("catalog: repository unavailable: %w", err)
	}
	return fmt.Errorf("catalog: %w", err)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
