package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/repositories"
)

const (
	personalizationConfigIDPrefix = "pcf_"
	submissionIDPrefix            = "sub_"
)

var (
	// ErrPersonalizationInvalidInput signals the caller provided invalid request data.
	ErrPersonalizationInvalidInput = errors.New("personalization: invalid input")
	// ErrPersonalizationNotFound indicates the config or submission could not be located.
	ErrPersonalizationNotFound = errors.New("personalization: not found")
	// ErrPersonalizationConflict indicates a concurrent update won.
	ErrPersonalizationConflict = errors.New("personalization: conflict")
	// ErrPersonalizationLocked indicates a write against a locked submission.
	ErrPersonalizationLocked = errors.New("personalization: locked")
	// ErrInvalidPersonalizationInput indicates a submitted value violates config constraints.
	ErrInvalidPersonalizationInput = errors.New("personalization: input violates constraints")
)

// ValidationError carries the structured list of violated constraints so
// callers can surface immediate feedback.
type ValidationError struct {
	Violations []ConstraintViolation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("personalization: input violates constraints: %d violation(s)", len(e.Violations))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPersonalizationInput
}

// PersonalizationServiceDeps bundles collaborators for the personalization service.
type PersonalizationServiceDeps struct {
	Configs     repositories.PersonalizationConfigRepository
	Submissions repositories.SubmissionRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Sanitizer   *bluemonday.Policy
}

type personalizationService struct {
	configs     repositories.PersonalizationConfigRepository
	submissions repositories.SubmissionRepository
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
	sanitizer   *bluemonday.Policy
}

// NewPersonalizationService wires dependencies into a concrete PersonalizationService.
func NewPersonalizationService(deps PersonalizationServiceDeps) (PersonalizationService, error) {
	if deps.Configs == nil {
		return nil, errors.New("personalization service: config repository is required")
	}
	if deps.Submissions == nil {
		return nil, errors.New("personalization service: submission repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}

	return &personalizationService{
		configs:     deps.Configs,
		submissions: deps.Submissions,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		sanitizer: sanitizer,
	}, nil
}

func (s *personalizationService) UpsertConfig(ctx context.Context, cmd UpsertPersonalizationConfigCommand) (PersonalizationConfig, error) {
	config := cmd.Config
	config.ListingID = strings.TrimSpace(config.ListingID)
	config.ProviderID = strings.TrimSpace(config.ProviderID)
	if config.ListingID == "" {
		return PersonalizationConfig{}, fmt.Errorf("%w: listing id is required", ErrPersonalizationInvalidInput)
	}
	if config.ProviderID == "" {
		return PersonalizationConfig{}, fmt.Errorf("%w: provider id is required", ErrPersonalizationInvalidInput)
	}
	if cmd.Actor.Role != ActorRoleStaff && cmd.Actor.ID != config.ProviderID {
		return PersonalizationConfig{}, fmt.Errorf("%w: config for listing %s", ErrPersonalizationNotFound, config.ListingID)
	}
	if err := validateConfigShape(config); err != nil {
		return PersonalizationConfig{}, err
	}

	now := s.now()
	if strings.TrimSpace(config.ID) == "" {
		config.ID = personalizationConfigIDPrefix + s.newID()
		config.CreatedAt = now
	}
	config.UpdatedAt = now
	if config.LivePreviewMode == "" {
		config.LivePreviewMode = domain.LivePreviewDisabled
	}
	if config.LockAfterStage == "" {
		config.LockAfterStage = domain.LockStageCheckout
	}
	if config.PriceImpact.Rule == "" {
		config.PriceImpact.Rule = domain.PriceImpactNone
	}

	saved, err := s.configs.Upsert(ctx, config)
	if err != nil {
		return PersonalizationConfig{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *personalizationService) GetConfig(ctx context.Context, configID string) (PersonalizationConfig, error) {
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return PersonalizationConfig{}, fmt.Errorf("%w: config id is required", ErrPersonalizationInvalidInput)
	}
	config, err := s.configs.FindByID(ctx, configID)
	if err != nil {
		return PersonalizationConfig{}, s.mapRepositoryError(err)
	}
	return config, nil
}

func (s *personalizationService) ListConfigs(ctx context.Context, listingID string, onlyEnabled bool) ([]PersonalizationConfig, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return nil, fmt.Errorf("%w: listing id is required", ErrPersonalizationInvalidInput)
	}
	configs, err := s.configs.ListByListing(ctx, listingID, onlyEnabled)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return configs, nil
}

func (s *personalizationService) DeleteConfig(ctx context.Context, cmd DeletePersonalizationConfigCommand) error {
	configID := strings.TrimSpace(cmd.ConfigID)
	if configID == "" {
		return fmt.Errorf("%w: config id is required", ErrPersonalizationInvalidInput)
	}

	config, err := s.configs.FindByID(ctx, configID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if cmd.Actor.Role != ActorRoleStaff && cmd.Actor.ID != config.ProviderID {
		return fmt.Errorf("%w: config %s", ErrPersonalizationNotFound, configID)
	}

	return s.mapRepositoryError(s.configs.Delete(ctx, configID))
}

// SubmitInput validates the customer's value against the config at submission
// time so feedback is immediate, then upserts the submission with its
// computed price impact. Locked submissions reject the write outright, and
// the repository re-checks the lock at write time so a lock landing after
// the read here still wins.
func (s *personalizationService) SubmitInput(ctx context.Context, cmd SubmitPersonalizationCommand) (PersonalizationSubmission, error) {
	configID := strings.TrimSpace(cmd.ConfigID)
	cartLineID := strings.TrimSpace(cmd.CartLineID)
	if configID == "" {
		return PersonalizationSubmission{}, fmt.Errorf("%w: config id is required", ErrPersonalizationInvalidInput)
	}
	if cartLineID == "" {
		return PersonalizationSubmission{}, fmt.Errorf("%w: cart line id is required", ErrPersonalizationInvalidInput)
	}

	config, err := s.configs.FindByID(ctx, configID)
	if err != nil {
		return PersonalizationSubmission{}, s.mapRepositoryError(err)
	}
	if !config.Enabled {
		return PersonalizationSubmission{}, fmt.Errorf("%w: config %s is disabled", ErrPersonalizationInvalidInput, configID)
	}

	now := s.now()
	submission := PersonalizationSubmission{
		ID:         submissionIDPrefix + s.newID(),
		ConfigID:   configID,
		CustomerID: cmd.Actor.ID,
		ListingID:  strings.TrimSpace(cmd.ListingID),
		CartLineID: cartLineID,
		CreatedAt:  now,
	}

	if cmd.SubmissionID != nil && strings.TrimSpace(*cmd.SubmissionID) != "" {
		existing, err := s.submissions.FindByID(ctx, strings.TrimSpace(*cmd.SubmissionID))
		if err != nil {
			return PersonalizationSubmission{}, s.mapRepositoryError(err)
		}
		if existing.CustomerID != cmd.Actor.ID && cmd.Actor.Role != ActorRoleStaff {
			return PersonalizationSubmission{}, fmt.Errorf("%w: submission %s", ErrPersonalizationNotFound, existing.ID)
		}
		if existing.IsLocked {
			return PersonalizationSubmission{}, fmt.Errorf("%w: submission %s", ErrPersonalizationLocked, existing.ID)
		}
		submission = existing
	}

	value := s.normalizeValue(cmd.Value)
	if violations := ValidateSubmissionValue(config, value); len(violations) > 0 {
		return PersonalizationSubmission{}, &ValidationError{Violations: violations}
	}

	submission.Value = value
	submission.PriceImpact = ComputePriceImpact(config, value, len(value.ImageRefs))
	submission.ValidationStatus = domain.ValidationStatusValid
	submission.UpdatedAt = now

	saved, err := s.submissions.Upsert(ctx, submission)
	if err != nil {
		if errors.Is(err, repositories.ErrSubmissionLocked) {
			return PersonalizationSubmission{}, fmt.Errorf("%w: submission %s", ErrPersonalizationLocked, submission.ID)
		}
		return PersonalizationSubmission{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *personalizationService) ListSubmissions(ctx context.Context, cartLineID string, actor Actor) ([]PersonalizationSubmission, error) {
	cartLineID = strings.TrimSpace(cartLineID)
	if cartLineID == "" {
		return nil, fmt.Errorf("%w: cart line id is required", ErrPersonalizationInvalidInput)
	}

	submissions, err := s.submissions.ListByCartLine(ctx, cartLineID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	if actor.Role == ActorRoleStaff || actor.Role == ActorRoleSystem {
		return submissions, nil
	}
	visible := make([]PersonalizationSubmission, 0, len(submissions))
	for _, submission := range submissions {
		if submission.CustomerID == actor.ID {
			visible = append(visible, submission)
		}
	}
	return visible, nil
}

func (s *personalizationService) PreviewPriceImpact(ctx context.Context, cmd PreviewPriceImpactCommand) (PriceImpactBreakdown, error) {
	config, err := s.GetConfig(ctx, cmd.ConfigID)
	if err != nil {
		return PriceImpactBreakdown{}, err
	}
	imageCount := cmd.ImageCount
	if imageCount == 0 {
		imageCount = len(cmd.Value.ImageRefs)
	}
	return ComputePriceImpact(config, s.normalizeValue(cmd.Value), imageCount), nil
}

// normalizeValue NFC-normalizes and sanitizes text before validation and
// pricing so both operate on the same canonical form.
func (s *personalizationService) normalizeValue(value SubmissionValue) SubmissionValue {
	if value.Text != nil {
		text := norm.NFC.String(strings.TrimSpace(s.sanitizer.Sanitize(*value.Text)))
		value.Text = &text
	}
	value.ImageRefs = cloneStrings(value.ImageRefs)
	value.Choices = cloneStrings(value.Choices)
	value.Extra = cloneMap(value.Extra)
	return value
}

func (s *personalizationService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPersonalizationNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPersonalizationConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("personalization: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *personalizationService) now() time.Time {
	return s.clock()
}

// ComputePriceImpact is pure and side-effect free so live previews and final
// snapshot totals never diverge. Percentage rules defer to order-total
// computation and report a zero amount here.
func ComputePriceImpact(config PersonalizationConfig, value SubmissionValue, imageCount int) PriceImpactBreakdown {
	breakdown := PriceImpactBreakdown{
		ConfigID: config.ID,
		Rule:     config.PriceImpact.Rule,
		Currency: config.PriceImpact.Currency,
	}

	switch config.PriceImpact.Rule {
	case domain.PriceImpactFixed:
		breakdown.Units = 1
		breakdown.UnitAmount = config.PriceImpact.Amount
		breakdown.Amount = config.PriceImpact.Amount
		breakdown.Description = "fixed charge"
	case domain.PriceImpactPerCharacter:
		var count int
		if value.Text != nil {
			count = len([]rune(norm.NFC.String(*value.Text)))
		}
		breakdown.Units = count
		breakdown.UnitAmount = config.PriceImpact.Amount
		breakdown.Amount = int64(count) * config.PriceImpact.Amount
		breakdown.Description = fmt.Sprintf("%d characters", count)
	case domain.PriceImpactPerImage:
		if imageCount < 0 {
			imageCount = 0
		}
		breakdown.Units = imageCount
		breakdown.UnitAmount = config.PriceImpact.Amount
		breakdown.Amount = int64(imageCount) * config.PriceImpact.Amount
		breakdown.Description = fmt.Sprintf("%d images", imageCount)
	case domain.PriceImpactPercentage:
		breakdown.Description = fmt.Sprintf("%.2f%% of order total", config.PriceImpact.Percent)
	}

	return breakdown
}

// ValidateSubmissionValue checks a value against the config constraints and
// returns every violated rule in structured form.
func ValidateSubmissionValue(config PersonalizationConfig, value SubmissionValue) []ConstraintViolation {
	var violations []ConstraintViolation
	add := func(field, rule, message string) {
		violations = append(violations, ConstraintViolation{
			ConfigID: config.ID,
			Field:    field,
			Rule:     rule,
			Message:  message,
		})
	}

	hasText := value.Text != nil && strings.TrimSpace(*value.Text) != ""
	hasImages := len(value.ImageRefs) > 0
	hasChoices := len(value.Choices) > 0

	if config.Required && !hasText && !hasImages && !hasChoices {
		add("value", "missing_required", "a value is required for this personalization")
		return violations
	}

	if config.Text != nil && hasText {
		runes := []rune(norm.NFC.String(*value.Text))
		if config.Text.MinLength > 0 && len(runes) < config.Text.MinLength {
			add("text", "length", fmt.Sprintf("text must be at least %d characters", config.Text.MinLength))
		}
		if config.Text.MaxLength > 0 && len(runes) > config.Text.MaxLength {
			add("text", "length", fmt.Sprintf("text must be at most %d characters", config.Text.MaxLength))
		}
		if config.Text.DisallowedCharacters != "" && strings.ContainsAny(*value.Text, config.Text.DisallowedCharacters) {
			add("text", "disallowed_characters", "text contains disallowed characters")
		}
	}

	if config.Image != nil && hasImages {
		if config.Image.MaxImages > 0 && len(value.ImageRefs) > config.Image.MaxImages {
			add("images", "count", fmt.Sprintf("at most %d images allowed", config.Image.MaxImages))
		}
		if len(config.Image.AllowedFormats) > 0 {
			for _, ref := range value.ImageRefs {
				if !matchesAllowedFormat(ref, config.Image.AllowedFormats) {
					add("images", "format", fmt.Sprintf("image %s has an unsupported format", ref))
				}
			}
		}
		if width, height, ok := imageDimensions(value.Extra); ok {
			if config.Image.MinWidth > 0 && width < config.Image.MinWidth {
				add("images", "resolution", fmt.Sprintf("image width must be at least %dpx", config.Image.MinWidth))
			}
			if config.Image.MinHeight > 0 && height < config.Image.MinHeight {
				add("images", "resolution", fmt.Sprintf("image height must be at least %dpx", config.Image.MinHeight))
			}
		}
	}

	if config.Choice != nil && hasChoices {
		if config.Choice.MaxChoices > 0 && len(value.Choices) > config.Choice.MaxChoices {
			add("choices", "count", fmt.Sprintf("at most %d selections allowed", config.Choice.MaxChoices))
		}
		if len(config.Choice.Options) > 0 {
			for _, choice := range value.Choices {
				if !slices.Contains(config.Choice.Options, choice) {
					add("choices", "option", fmt.Sprintf("%q is not an offered option", choice))
				}
			}
		}
	}

	return violations
}

func validateConfigShape(config PersonalizationConfig) error {
	switch config.Kind {
	case domain.PersonalizationKindText:
		if config.Text == nil {
			return fmt.Errorf("%w: text constraints are required for kind %q", ErrPersonalizationInvalidInput, config.Kind)
		}
	case domain.PersonalizationKindImageUpload, domain.PersonalizationKindImageSelection:
		if config.Image == nil {
			return fmt.Errorf("%w: image constraints are required for kind %q", ErrPersonalizationInvalidInput, config.Kind)
		}
	case domain.PersonalizationKindFontSelection, domain.PersonalizationKindColorSelection,
		domain.PersonalizationKindPlacementSelection, domain.PersonalizationKindTemplateSelection:
		if config.Choice == nil {
			return fmt.Errorf("%w: choice constraints are required for kind %q", ErrPersonalizationInvalidInput, config.Kind)
		}
	case domain.PersonalizationKindCombined:
		if config.Text == nil && config.Image == nil && config.Choice == nil {
			return fmt.Errorf("%w: combined kind requires at least one constraint set", ErrPersonalizationInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown personalization kind %q", ErrPersonalizationInvalidInput, config.Kind)
	}
	return nil
}

func matchesAllowedFormat(ref string, formats []string) bool {
	lowered := strings.ToLower(ref)
	for _, format := range formats {
		if strings.HasSuffix(lowered, "."+strings.ToLower(strings.TrimPrefix(format, "."))) {
			return true
		}
	}
	return false
}

func imageDimensions(extra map[string]any) (int, int, bool) {
	width, okW := intFromAny(extra["width"])
	height, okH := intFromAny(extra["height"])
	return width, height, okW && okH
}

func intFromAny(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
