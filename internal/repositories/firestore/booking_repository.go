package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
)

const bookingsCollection = "bookings"

// BookingRepository stores native and synthesized booking records.
type BookingRepository struct {
	base *pfirestore.BaseRepository[bookingDocument]
}

// NewBookingRepository constructs a Firestore-backed booking repository.
func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[bookingDocument](provider, bookingsCollection, nil, nil)
	return &BookingRepository{base: base}, nil
}

// Insert stores a new booking. The ID must be unique.
func (r *BookingRepository) Insert(ctx context.Context, booking domain.Booking) error {
	if r == nil || r.base == nil {
		return errors.New("booking repository not initialised")
	}
	bookingID := strings.TrimSpace(booking.ID)
	if bookingID == "" {
		return errors.New("booking repository: booking id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, bookingID)
	if err != nil {
		return err
	}
	doc := bookingDocument{
		OrderID:        strings.TrimSpace(booking.OrderID),
		CustomerID:     strings.TrimSpace(booking.CustomerID),
		ProviderID:     strings.TrimSpace(booking.ProviderID),
		ListingID:      strings.TrimSpace(booking.ListingID),
		Virtual:        booking.Virtual,
		FinalPrice:     booking.FinalPrice,
		EscrowAmount:   booking.EscrowAmount,
		Currency:       strings.TrimSpace(booking.Currency),
		ReviewEligible: booking.ReviewEligible,
		CreatedAt:      booking.CreatedAt.UTC(),
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("bookings.insert", err)
	}
	return nil
}

// FindByOrder returns the booking attached to the order, if any.
func (r *BookingRepository) FindByOrder(ctx context.Context, orderID string) (domain.Booking, error) {
	if r == nil || r.base == nil {
		return domain.Booking{}, errors.New("booking repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Booking{}, errors.New("booking repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).Limit(1)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	if len(docs) == 0 {
		return domain.Booking{}, pfirestore.WrapError("bookings.find_by_order",
			status.Errorf(codes.NotFound, "no booking for order %s", orderID))
	}

	doc := docs[0]
	return domain.Booking{
		ID:             doc.ID,
		OrderID:        strings.TrimSpace(doc.Data.OrderID),
		CustomerID:     strings.TrimSpace(doc.Data.CustomerID),
		ProviderID:     strings.TrimSpace(doc.Data.ProviderID),
		ListingID:      strings.TrimSpace(doc.Data.ListingID),
		Virtual:        doc.Data.Virtual,
		FinalPrice:     doc.Data.FinalPrice,
		EscrowAmount:   doc.Data.EscrowAmount,
		Currency:       strings.TrimSpace(doc.Data.Currency),
		ReviewEligible: doc.Data.ReviewEligible,
		CreatedAt:      chooseTime(doc.Data.CreatedAt, doc.CreateTime),
	}, nil
}

type bookingDocument struct {
	OrderID        string    `firestore:"orderId"`
	CustomerID     string    `firestore:"customerId"`
	ProviderID     string    `firestore:"providerId"`
	ListingID      string    `firestore:"listingId,omitempty"`
	Virtual        bool      `firestore:"virtual"`
	FinalPrice     int64     `firestore:"finalPrice"`
	EscrowAmount   int64     `firestore:"escrowAmount"`
	Currency       string    `firestore:"currency"`
	ReviewEligible bool      `firestore:"reviewEligible"`
	CreatedAt      time.Time `firestore:"createdAt"`
}
