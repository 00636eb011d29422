package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/services"
)

const maxProductBodySize = 256 * 1024

// ProductHandlers exposes catalog reads publicly and catalog writes to admins.
type ProductHandlers struct {
	access  Access
	catalog services.CatalogService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(access Access, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{access: access, catalog: catalog}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	admin := h.access.admin()
	r.Get("/", h.listProducts)
	r.Get("/slug/{slug}", h.getProductBySlug)
	r.Get("/{productID}", h.getProduct)
	r.With(admin).Post("/", h.createProduct)
	r.With(admin).Patch("/{productID}", h.updateProduct)
	r.With(admin).Delete("/{productID}", h.deleteProduct)
}

type productImageRequest struct {
	URL      string `json:"url"`
	Alt      string `json:"alt"`
	Position *int   `json:"position"`
}

type productVariantRequest struct {
	SKU      string `json:"sku"`
	Color    string `json:"color"`
	ImageURL string `json:"imageUrl"`
	Stock    int    `json:"stock"`
}

type createProductRequest struct {
	Name             string                  `json:"name"`
	Slug             string                  `json:"slug"`
	Description      string                  `json:"description"`
	BasePrice        domain.Money            `json:"basePrice"`
	MinPrice         domain.Money            `json:"minPrice"`
	ComparePrice     *domain.Money           `json:"comparePrice"`
	CostPrice        *domain.Money           `json:"costPrice"`
	Status           string                  `json:"status"`
	CollectionID     string                  `json:"collectionId"`
	CollectionName   string                  `json:"collectionName"`
	Tags             []string                `json:"tags"`
	DeliveryTime     string                  `json:"deliveryTime"`
	Material         string                  `json:"material"`
	Dimensions       string                  `json:"dimensions"`
	CareInstructions string                  `json:"careInstructions"`
	PrintType        string                  `json:"printType"`
	SEOTitle         string                  `json:"seoTitle"`
	SEODescription   string                  `json:"seoDescription"`
	Images           []productImageRequest   `json:"images"`
	Variants         []productVariantRequest `json:"variants"`
}

type updateProductRequest struct {
	Name             *string                `json:"name"`
	Slug             *string                `json:"slug"`
	Description      *string                `json:"description"`
	BasePrice        *domain.Money          `json:"basePrice"`
	MinPrice         *domain.Money          `json:"minPrice"`
	ComparePrice     *domain.Money          `json:"comparePrice"`
	CostPrice        *domain.Money          `json:"costPrice"`
	Status           *string                `json:"status"`
	IsActive         *bool                  `json:"isActive"`
	CollectionID     *string                `json:"collectionId"`
	CollectionName   *string                `json:"collectionName"`
	Tags             *[]string              `json:"tags"`
	DeliveryTime     *string                `json:"deliveryTime"`
	Material         *string                `json:"material"`
	Dimensions       *string                `json:"dimensions"`
	CareInstructions *string                `json:"careInstructions"`
	PrintType        *string                `json:"printType"`
	SEOTitle         *string                `json:"seoTitle"`
	SEODescription   *string                `json:"seoDescription"`
	Images           *[]productImageRequest `json:"images"`
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createProductRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}

	variants := make([]services.ProductVariantInput, 0, len(req.Variants))
	for _, variant := range req.Variants {
		variants = append(variants, services.ProductVariantInput{
			SKU:      variant.SKU,
			Color:    variant.Color,
			ImageURL: variant.ImageURL,
			Stock:    variant.Stock,
		})
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		Name:             req.Name,
		Slug:             req.Slug,
		Description:      req.Description,
		BasePrice:        req.BasePrice,
		MinPrice:         req.MinPrice,
		ComparePrice:     req.ComparePrice,
		CostPrice:        req.CostPrice,
		Status:           req.Status,
		CollectionID:     req.CollectionID,
		CollectionName:   req.CollectionName,
		Tags:             req.Tags,
		DeliveryTime:     req.DeliveryTime,
		Material:         req.Material,
		Dimensions:       req.Dimensions,
		CareInstructions: req.CareInstructions,
		PrintType:        req.PrintType,
		SEOTitle:         req.SEOTitle,
		SEODescription:   req.SEODescription,
		Images:           imageInputs(req.Images),
		Variants:         variants,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, buildProductPayload(product), nil)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	products, err := h.catalog.ListProducts(ctx, strings.TrimSpace(r.URL.Query().Get("collectionId")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product))
	}
	httpx.WriteData(w, http.StatusOK, items, nil)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	product, err := h.catalog.GetProduct(ctx, urlParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildProductPayload(product), nil)
}

func (h *ProductHandlers) getProductBySlug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	product, err := h.catalog.GetProductBySlug(ctx, urlParam(r, "slug"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildProductPayload(product), nil)
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateProductRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}

	cmd := services.UpdateProductCommand{
		ProductID:        urlParam(r, "productID"),
		Name:             req.Name,
		Slug:             req.Slug,
		Description:      req.Description,
		BasePrice:        req.BasePrice,
		MinPrice:         req.MinPrice,
		ComparePrice:     req.ComparePrice,
		CostPrice:        req.CostPrice,
		Status:           req.Status,
		IsActive:         req.IsActive,
		CollectionID:     req.CollectionID,
		CollectionName:   req.CollectionName,
		Tags:             req.Tags,
		DeliveryTime:     req.DeliveryTime,
		Material:         req.Material,
		Dimensions:       req.Dimensions,
		CareInstructions: req.CareInstructions,
		PrintType:        req.PrintType,
		SEOTitle:         req.SEOTitle,
		SEODescription:   req.SEODescription,
	}
	if req.Images != nil {
		images := imageInputs(*req.Images)
		cmd.Images = &images
	}

	product, err := h.catalog.UpdateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildProductPayload(product), nil)
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	removal, err := h.catalog.RemoveProduct(ctx, urlParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildProductPayload(removal.Product), map[string]any{
		"soft_deleted": removal.SoftDeleted,
	})
}

func imageInputs(images []productImageRequest) []services.ProductImageInput {
	inputs := make([]services.ProductImageInput, 0, len(images))
	for _, image := range images {
		inputs = append(inputs, services.ProductImageInput{
			URL:      image.URL,
			Alt:      image.Alt,
			Position: image.Position,
		})
	}
	return inputs
}

type productPayload struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Slug             string                  `json:"slug"`
	Description      string                  `json:"description"`
	BasePrice        domain.Money            `json:"basePrice"`
	MinPrice         domain.Money            `json:"minPrice"`
	ComparePrice     *domain.Money           `json:"comparePrice,omitempty"`
	CostPrice        *domain.Money           `json:"costPrice,omitempty"`
	Status           string                  `json:"status"`
	IsActive         bool                    `json:"isActive"`
	Collection       *collectionPayload      `json:"collection,omitempty"`
	Tags             []string                `json:"tags"`
	DeliveryTime     string                  `json:"deliveryTime,omitempty"`
	Material         string                  `json:"material,omitempty"`
	Dimensions       string                  `json:"dimensions,omitempty"`
	CareInstructions string                  `json:"careInstructions,omitempty"`
	PrintType        string                  `json:"printType,omitempty"`
	SEOTitle         string                  `json:"seoTitle,omitempty"`
	SEODescription   string                  `json:"seoDescription,omitempty"`
	Images           []productImagePayload   `json:"images"`
	Variants         []productVariantPayload `json:"variants"`
	CreatedAt        string                  `json:"createdAt"`
	UpdatedAt        string                  `json:"updatedAt,omitempty"`
}

type collectionPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type productImagePayload struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Alt      string `json:"alt,omitempty"`
	Position int    `json:"position"`
}

type productVariantPayload struct {
	ID       string `json:"id"`
	SKU      string `json:"sku"`
	Color    string `json:"color"`
	ImageURL string `json:"imageUrl,omitempty"`
	Stock    int    `json:"stock"`
}

func buildProductPayload(product domain.Product) productPayload {
	payload := productPayload{
		ID:               product.ID,
		Name:             product.Name,
		Slug:             product.Slug,
		Description:      product.Description,
		BasePrice:        product.BasePrice,
		MinPrice:         product.MinPrice,
		ComparePrice:     product.ComparePrice,
		CostPrice:        product.CostPrice,
		Status:           string(product.Status),
		IsActive:         product.IsActive,
		Tags:             product.Tags,
		DeliveryTime:     product.DeliveryTime,
		Material:         product.Material,
		Dimensions:       product.Dimensions,
		CareInstructions: product.CareInstructions,
		SEOTitle:         product.SEOTitle,
		SEODescription:   product.SEODescription,
		Images:           make([]productImagePayload, 0, len(product.Images)),
		Variants:         make([]productVariantPayload, 0, len(product.Variants)),
		CreatedAt:        formatTime(product.CreatedAt),
		UpdatedAt:        formatTime(product.UpdatedAt),
	}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}
	if product.Collection.ID != "" {
		payload.Collection = &collectionPayload{
			ID:   product.Collection.ID,
			Name: product.Collection.Name,
			Slug: product.Collection.Slug,
		}
	}
	if product.PrintType != nil {
		payload.PrintType = string(*product.PrintType)
	}
	for _, image := range product.Images {
		payload.Images = append(payload.Images, productImagePayload{
			ID:       image.ID,
			URL:      image.URL,
			Alt:      image.Alt,
			Position: image.Position,
		})
	}
	for _, variant := range product.Variants {
		payload.Variants = append(payload.Variants, productVariantPayload{
			ID:       variant.ID,
			SKU:      variant.SKU,
			Color:    variant.Color,
			ImageURL: variant.ImageURL,
			Stock:    variant.Stock,
		})
	}
	return payload
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrProductInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCollectionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("collection_not_found", "collection not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductConflict):
		httpx.WriteError(ctx, w, httpx.NewError("product_conflict", err.Error(), http.StatusConflict))
	default:
		writeUnexpectedError(ctx, w, "catalog_error", err)
	}
}
