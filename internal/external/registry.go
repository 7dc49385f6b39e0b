package external

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/types"
)

// Registry maps provider names to gateways. It is the single point through
// which the rest of the application reaches payment providers.
type Registry struct {
	gateways    map[types.ProviderName]PaymentGateway
	defaultName types.ProviderName
}

// NewRegistry builds a Registry from explicit gateways. The first gateway is
// the default unless defaultName names another registered one.
func NewRegistry(defaultName types.ProviderName, gateways ...PaymentGateway) *Registry {
	r := &Registry{gateways: make(map[types.ProviderName]PaymentGateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
		if r.defaultName == "" {
			r.defaultName = g.Name()
		}
	}
	if _, ok := r.gateways[defaultName]; ok {
		r.defaultName = defaultName
	}
	return r
}

// NewRegistryFromConfig instantiates a gateway for every provider with
// credentials. In local mode, providers without credentials get a
// StubGateway so the service boots without secrets; outside local mode they
// are simply not registered and their webhooks return 404.
func NewRegistryFromConfig(cfg config.PaymentsConfig, local bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	var gateways []PaymentGateway
	switch {
	case cfg.RazorpayEnabled():
		gateways = append(gateways, NewRazorpayGateway(httpClient, RazorpayConfig{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookKey(),
			BaseURL:       cfg.RazorpayBaseURL,
			Logger:        logger.With("client", "razorpay"),
		}))
	case local:
		gateways = append(gateways, NewStubGateway(types.ProviderRazorpay, "", logger.With("mode", "stub")))
	}
	switch {
	case cfg.StripeEnabled():
		gateways = append(gateways, NewStripeGateway(httpClient, StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			BaseURL:       cfg.StripeBaseURL,
			Logger:        logger.With("client", "stripe"),
		}))
	case local:
		gateways = append(gateways, NewStubGateway(types.ProviderStripe, "", logger.With("mode", "stub")))
	}

	r := NewRegistry(types.ProviderName(cfg.DefaultProvider), gateways...)
	logger.Info("payment gateways initialized",
		"providers", r.Names(),
		"default", r.defaultName,
		"local", local,
	)
	return r
}

// Gateway returns the gateway registered under name.
func (r *Registry) Gateway(name types.ProviderName) (PaymentGateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundProvider,
			"unknown payment provider", nil, map[string]any{"provider": string(name)})
	}
	return g, nil
}

// Default returns the gateway used when a request names no provider.
func (r *Registry) Default() (PaymentGateway, error) {
	return r.Gateway(r.defaultName)
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []types.ProviderName {
	names := make([]types.ProviderName, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
