package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
)

const personalizationConfigsCollection = "personalizationConfigs"

// PersonalizationConfigRepository persists provider-authored personalization
// declarations.
type PersonalizationConfigRepository struct {
	base *pfirestore.BaseRepository[personalizationConfigDocument]
}

// NewPersonalizationConfigRepository constructs a Firestore-backed config repository.
func NewPersonalizationConfigRepository(provider *pfirestore.Provider) (*PersonalizationConfigRepository, error) {
	if provider == nil {
		return nil, errors.New("personalization config repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[personalizationConfigDocument](provider, personalizationConfigsCollection, nil, nil)
	return &PersonalizationConfigRepository{base: base}, nil
}

// Upsert stores the config and returns the persisted state.
func (r *PersonalizationConfigRepository) Upsert(ctx context.Context, config domain.PersonalizationConfig) (domain.PersonalizationConfig, error) {
	if r == nil || r.base == nil {
		return domain.PersonalizationConfig{}, errors.New("personalization config repository not initialised")
	}
	configID := strings.TrimSpace(config.ID)
	if configID == "" {
		return domain.PersonalizationConfig{}, errors.New("personalization config repository: config id is required")
	}
	if _, err := r.base.Set(ctx, configID, encodePersonalizationConfig(config)); err != nil {
		return domain.PersonalizationConfig{}, err
	}
	return config, nil
}

// FindByID fetches a single config.
func (r *PersonalizationConfigRepository) FindByID(ctx context.Context, configID string) (domain.PersonalizationConfig, error) {
	if r == nil || r.base == nil {
		return domain.PersonalizationConfig{}, errors.New("personalization config repository not initialised")
	}
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return domain.PersonalizationConfig{}, errors.New("personalization config repository: config id is required")
	}
	doc, err := r.base.Get(ctx, configID)
	if err != nil {
		return domain.PersonalizationConfig{}, err
	}
	return decodePersonalizationConfig(configID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListByListing returns the listing's configs in creation order.
func (r *PersonalizationConfigRepository) ListByListing(ctx context.Context, listingID string, onlyEnabled bool) ([]domain.PersonalizationConfig, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("personalization config repository not initialised")
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return nil, errors.New("personalization config repository: listing id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("listingId", "==", listingID)
		if onlyEnabled {
			q = q.Where("enabled", "==", true)
		}
		return q.OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.PersonalizationConfig, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodePersonalizationConfig(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return items, nil
}

// Delete removes the config document.
func (r *PersonalizationConfigRepository) Delete(ctx context.Context, configID string) error {
	if r == nil || r.base == nil {
		return errors.New("personalization config repository not initialised")
	}
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return errors.New("personalization config repository: config id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, configID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("personalization_configs.delete", err)
	}
	return nil
}

type personalizationConfigDocument struct {
	ListingID       string                     `firestore:"listingId"`
	OptionID        string                     `firestore:"optionId,omitempty"`
	ProviderID      string                     `firestore:"providerId"`
	Label           string                     `firestore:"label"`
	Enabled         bool                       `firestore:"enabled"`
	Required        bool                       `firestore:"required"`
	Kind            string                     `firestore:"kind"`
	Text            *textConstraintsDocument   `firestore:"text,omitempty"`
	Image           *imageConstraintsDocument  `firestore:"image,omitempty"`
	Choice          *choiceConstraintsDocument `firestore:"choice,omitempty"`
	LivePreviewMode string                     `firestore:"livePreviewMode"`
	PriceImpact     priceImpactDocument        `firestore:"priceImpact"`
	LockAfterStage  string                     `firestore:"lockAfterStage"`
	CreatedAt       time.Time                  `firestore:"createdAt"`
	UpdatedAt       time.Time                  `firestore:"updatedAt"`
}

type textConstraintsDocument struct {
	MinLength            int      `firestore:"minLength"`
	MaxLength            int      `firestore:"maxLength"`
	DisallowedCharacters string   `firestore:"disallowedCharacters,omitempty"`
	AllowedScripts       []string `firestore:"allowedScripts,omitempty"`
}

type imageConstraintsDocument struct {
	AllowedFormats []string `firestore:"allowedFormats,omitempty"`
	MinWidth       int      `firestore:"minWidth"`
	MinHeight      int      `firestore:"minHeight"`
	MaxWidth       int      `firestore:"maxWidth"`
	MaxHeight      int      `firestore:"maxHeight"`
	MaxSizeBytes   int64    `firestore:"maxSizeBytes"`
	MaxImages      int      `firestore:"maxImages"`
}

type choiceConstraintsDocument struct {
	Options    []string `firestore:"options,omitempty"`
	PaletteRef string   `firestore:"paletteRef,omitempty"`
	MaxChoices int      `firestore:"maxChoices"`
}

type priceImpactDocument struct {
	Rule     string  `firestore:"rule"`
	Amount   int64   `firestore:"amount"`
	Percent  float64 `firestore:"percent"`
	Currency string  `firestore:"currency,omitempty"`
}

func encodePersonalizationConfig(config domain.PersonalizationConfig) personalizationConfigDocument {
	doc := personalizationConfigDocument{
		ListingID:       strings.TrimSpace(config.ListingID),
		ProviderID:      strings.TrimSpace(config.ProviderID),
		Label:           strings.TrimSpace(config.Label),
		Enabled:         config.Enabled,
		Required:        config.Required,
		Kind:            strings.TrimSpace(string(config.Kind)),
		LivePreviewMode: strings.TrimSpace(string(config.LivePreviewMode)),
		PriceImpact: priceImpactDocument{
			Rule:     strings.TrimSpace(string(config.PriceImpact.Rule)),
			Amount:   config.PriceImpact.Amount,
			Percent:  config.PriceImpact.Percent,
			Currency: strings.TrimSpace(config.PriceImpact.Currency),
		},
		LockAfterStage: strings.TrimSpace(string(config.LockAfterStage)),
		CreatedAt:      config.CreatedAt.UTC(),
		UpdatedAt:      config.UpdatedAt.UTC(),
	}
	if config.OptionID != nil {
		doc.OptionID = strings.TrimSpace(*config.OptionID)
	}
	if config.Text != nil {
		doc.Text = &textConstraintsDocument{
			MinLength:            config.Text.MinLength,
			MaxLength:            config.Text.MaxLength,
			DisallowedCharacters: config.Text.DisallowedCharacters,
			AllowedScripts:       cloneStrings(config.Text.AllowedScripts),
		}
	}
	if config.Image != nil {
		doc.Image = &imageConstraintsDocument{
			AllowedFormats: cloneStrings(config.Image.AllowedFormats),
			MinWidth:       config.Image.MinWidth,
			MinHeight:      config.Image.MinHeight,
			MaxWidth:       config.Image.MaxWidth,
			MaxHeight:      config.Image.MaxHeight,
			MaxSizeBytes:   config.Image.MaxSizeBytes,
			MaxImages:      config.Image.MaxImages,
		}
	}
	if config.Choice != nil {
		doc.Choice = &choiceConstraintsDocument{
			Options:    cloneStrings(config.Choice.Options),
			PaletteRef: strings.TrimSpace(config.Choice.PaletteRef),
			MaxChoices: config.Choice.MaxChoices,
		}
	}
	return doc
}

func decodePersonalizationConfig(id string, doc personalizationConfigDocument, createdAt, updatedAt time.Time) domain.PersonalizationConfig {
	config := domain.PersonalizationConfig{
		ID:              strings.TrimSpace(id),
		ListingID:       strings.TrimSpace(doc.ListingID),
		ProviderID:      strings.TrimSpace(doc.ProviderID),
		Label:           strings.TrimSpace(doc.Label),
		Enabled:         doc.Enabled,
		Required:        doc.Required,
		Kind:            domain.PersonalizationKind(strings.TrimSpace(doc.Kind)),
		LivePreviewMode: domain.LivePreviewMode(strings.TrimSpace(doc.LivePreviewMode)),
		PriceImpact: domain.PriceImpact{
			Rule:     domain.PriceImpactRule(strings.TrimSpace(doc.PriceImpact.Rule)),
			Amount:   doc.PriceImpact.Amount,
			Percent:  doc.PriceImpact.Percent,
			Currency: strings.TrimSpace(doc.PriceImpact.Currency),
		},
		LockAfterStage: domain.LockStage(strings.TrimSpace(doc.LockAfterStage)),
		CreatedAt:      chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:      chooseTime(doc.UpdatedAt, updatedAt),
	}
	if optionID := strings.TrimSpace(doc.OptionID); optionID != "" {
		config.OptionID = &optionID
	}
	if doc.Text != nil {
		config.Text = &domain.TextConstraints{
			MinLength:            doc.Text.MinLength,
			MaxLength:            doc.Text.MaxLength,
			DisallowedCharacters: doc.Text.DisallowedCharacters,
			AllowedScripts:       cloneStrings(doc.Text.AllowedScripts),
		}
	}
	if doc.Image != nil {
		config.Image = &domain.ImageConstraints{
			AllowedFormats: cloneStrings(doc.Image.AllowedFormats),
			MinWidth:       doc.Image.MinWidth,
			MinHeight:      doc.Image.MinHeight,
			MaxWidth:       doc.Image.MaxWidth,
			MaxHeight:      doc.Image.MaxHeight,
			MaxSizeBytes:   doc.Image.MaxSizeBytes,
			MaxImages:      doc.Image.MaxImages,
		}
	}
	if doc.Choice != nil {
		config.Choice = &domain.ChoiceConstraints{
			Options:    cloneStrings(doc.Choice.Options),
			PaletteRef: strings.TrimSpace(doc.Choice.PaletteRef),
			MaxChoices: doc.Choice.MaxChoices,
		}
	}
	return config
}
