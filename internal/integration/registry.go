package integration

import (
	"reflect"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/types"
)

// requiredMethods is the full capability set a provider client must carry.
// Registration asserts it by name so a provider missing a capability fails
// at startup instead of surfacing as a nil-method panic mid-request.
var requiredMethods = []string{
	"ProviderType",
	"CreateCheckoutSession",
	"CreatePaymentLink",
	"CreatePrice",
	"CreateBillingPortalSession",
	"VerifyWebhookEvent",
	"RetrieveCheckoutSession",
	"RetrieveSubscription",
	"RetrieveInvoice",
	"RetrievePrice",
	"ListPrices",
	"ExpireCheckoutSession",
	"CancelSubscription",
	"ListCustomerPaymentMethods",
	"ListCheckoutSessionsByOperationKey",
	"SdkProvenance",
}

// Registry holds the configured provider clients and their translators,
// keyed by provider type. It is assembled once at startup and read-only
// afterwards.
type Registry struct {
	clients     map[types.ProviderType]Client
	translators map[types.ProviderType]EventTranslator
	logger      *logger.Logger
}

func NewRegistry(logger *logger.Logger) *Registry {
	return &Registry{
		clients:     make(map[types.ProviderType]Client),
		translators: make(map[types.ProviderType]EventTranslator),
		logger:      logger,
	}
}

// Register adds a provider client and its translator after asserting the
// client exposes every required capability.
func (r *Registry) Register(client Client, translator EventTranslator) error {
	if client == nil || translator == nil {
		return ierr.NewError("provider client and translator are required").
			WithHint("Provider registration requires both a client and a translator").
			Mark(ierr.ErrSystem)
	}

	provider := client.ProviderType()
	if err := provider.Validate(); err != nil {
		return err
	}
	if _, ok := r.clients[provider]; ok {
		return ierr.NewError("provider already registered").
			WithHint("Each provider may be registered at most once").
			WithReportableDetails(map[string]any{"provider": provider}).
			Mark(ierr.ErrSystem)
	}

	if missing := missingCapabilities(client); len(missing) > 0 {
		return ierr.NewError("provider client is missing required capabilities").
			WithHint("Provider clients must implement the full capability set").
			WithReportableDetails(map[string]any{
				"provider": provider,
				"missing":  missing,
			}).
			Mark(ierr.ErrSystem)
	}

	r.clients[provider] = client
	r.translators[provider] = translator

	prov := client.SdkProvenance()
	r.logger.Infow("registered payment provider",
		"provider", provider,
		"sdk", prov.Name,
		"sdk_version", prov.Version)
	return nil
}

// Client returns the registered client for a provider
func (r *Registry) Client(provider types.ProviderType) (Client, error) {
	client, ok := r.clients[provider]
	if !ok {
		return nil, ierr.NewError("provider is not configured").
			WithHint("The requested payment provider is not enabled").
			WithReportableDetails(map[string]any{"provider": provider}).
			Mark(ierr.ErrNotFound)
	}
	return client, nil
}

// Translator returns the registered event translator for a provider
func (r *Registry) Translator(provider types.ProviderType) (EventTranslator, error) {
	translator, ok := r.translators[provider]
	if !ok {
		return nil, ierr.NewError("provider is not configured").
			WithHint("The requested payment provider is not enabled").
			WithReportableDetails(map[string]any{"provider": provider}).
			Mark(ierr.ErrNotFound)
	}
	return translator, nil
}

// Providers lists the registered provider types
func (r *Registry) Providers() []types.ProviderType {
	providers := make([]types.ProviderType, 0, len(r.clients))
	for p := range r.clients {
		providers = append(providers, p)
	}
	return providers
}

func missingCapabilities(client Client) []string {
	v := reflect.ValueOf(client)
	var missing []string
	for _, name := range requiredMethods {
		m := v.MethodByName(name)
		if !m.IsValid() || m.IsZero() {
			missing = append(missing, name)
		}
	}
	return missing
}
