package firestore

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
)

const (
	productTypesCollection = "productTypes"
	listingsCollection     = "listings"
)

// CatalogRepository reads listing and product-type metadata mirrored from the
// catalog service. This subsystem never writes these collections.
type CatalogRepository struct {
	productTypes *pfirestore.BaseRepository[productTypeDocument]
	listings     *pfirestore.BaseRepository[listingDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog mirror reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository: firestore provider is required")
	}
	return &CatalogRepository{
		productTypes: pfirestore.NewBaseRepository[productTypeDocument](provider, productTypesCollection, nil, nil),
		listings:     pfirestore.NewBaseRepository[listingDocument](provider, listingsCollection, nil, nil),
	}, nil
}

// GetProductType fetches production pipeline metadata for a product type.
func (r *CatalogRepository) GetProductType(ctx context.Context, productTypeID string) (domain.ProductTypeInfo, error) {
	if r == nil || r.productTypes == nil {
		return domain.ProductTypeInfo{}, errors.New("catalog repository not initialised")
	}
	productTypeID = strings.TrimSpace(productTypeID)
	if productTypeID == "" {
		return domain.ProductTypeInfo{}, errors.New("catalog repository: product type id is required")
	}

	doc, err := r.productTypes.Get(ctx, productTypeID)
	if err != nil {
		return domain.ProductTypeInfo{}, err
	}
	return domain.ProductTypeInfo{
		ID:                   productTypeID,
		RequiresConsultation: doc.Data.RequiresConsultation,
		DefaultMaxRevisions:  doc.Data.DefaultMaxRevisions,
		PerRevisionFee:       doc.Data.PerRevisionFee,
		RequiredSpecFields:   cloneStrings(doc.Data.RequiredSpecFields),
		ConcurrentOrderLimit: doc.Data.ConcurrentOrderLimit,
	}, nil
}

// ResolveListingProductType maps a listing to its product type.
func (r *CatalogRepository) ResolveListingProductType(ctx context.Context, listingID string) (string, error) {
	if r == nil || r.listings == nil {
		return "", errors.New("catalog repository not initialised")
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return "", errors.New("catalog repository: listing id is required")
	}

	doc, err := r.listings.Get(ctx, listingID)
	if err != nil {
		return "", err
	}
	productTypeID := strings.TrimSpace(doc.Data.ProductTypeID)
	if productTypeID == "" {
		return "", pfirestore.WrapError("listings.resolve_product_type",
			status.Errorf(codes.NotFound, "listing %s carries no product type", listingID))
	}
	return productTypeID, nil
}

type productTypeDocument struct {
	RequiresConsultation bool     `firestore:"requiresConsultation"`
	DefaultMaxRevisions  int      `firestore:"defaultMaxRevisions"`
	PerRevisionFee       int64    `firestore:"perRevisionFee"`
	RequiredSpecFields   []string `firestore:"requiredSpecFields,omitempty"`
	ConcurrentOrderLimit int      `firestore:"concurrentOrderLimit"`
}

type listingDocument struct {
	ProductTypeID string `firestore:"productTypeId"`
}
