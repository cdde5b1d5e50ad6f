package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"golang.org/x/text/language"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
)

const (
	defaultBreakerFailures    = 5
	defaultBreakerOpenTimeout = 30 * time.Second
	defaultSessionTTL         = 30 * time.Minute
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeCouponAPI interface {
	New(params *stripe.CouponParams) (*stripe.Coupon, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	coupons  stripeCouponAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey             string
	AccountID          string
	Backends           *stripe.Backends
	Logger             StripeLogger
	Clock              func() time.Time
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
	Clients            *stripeClients
}

// StripeProvider implements Provider on Stripe Checkout. Calls go through a circuit breaker
// that opens after consecutive server-side failures.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
	breaker *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{sessions: sc.CheckoutSessions, coupons: sc.Coupons}
	}
	if clients.sessions == nil || clients.coupons == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = defaultBreakerFailures
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultBreakerOpenTimeout
	}

	p := &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker[*stripe.CheckoutSession](gobreaker.Settings{
		Name:    "stripe",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isStripeClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger(context.Background(), "payments.stripe.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return p, nil
}

// CreateCheckoutSession creates a Stripe Checkout session in payment mode. Each line item
// carries its product id in product metadata so reconciliation can rebuild order items.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	if len(req.Items) == 0 {
		return CheckoutSession{}, errors.New("stripe: at least one line item is required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Locale:     stripe.String(stripeLocale(req.Locale)),
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if len(req.ShippingCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(req.ShippingCountries),
		}
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	params.LineItems = make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(item.Name),
			Metadata: map[string]string{MetadataProductID: item.ProductID},
		}
		if item.Image != "" {
			product.Images = []*string{stripe.String(item.Image)}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.UnitAmount),
				ProductData: product,
			},
		})
	}

	if req.Discount > 0 {
		couponID, err := p.createDiscount(ctx, req)
		if err != nil {
			return CheckoutSession{}, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(couponID)}}
	}

	session, err := p.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return p.api.sessions.New(params)
	})
	if err != nil {
		return CheckoutSession{}, p.mapError("create checkout session", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"currency":  session.Currency,
		"amount":    session.AmountTotal,
	})

	expiresAt := p.clock().Add(defaultSessionTTL)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// createDiscount registers a single-use amount-off coupon carrying the validated discount.
func (p *StripeProvider) createDiscount(ctx context.Context, req CheckoutSessionRequest) (string, error) {
	params := &stripe.CouponParams{
		AmountOff:      stripe.Int64(req.Discount),
		Currency:       stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		Duration:       stripe.String(string(stripe.CouponDurationOnce)),
		MaxRedemptions: stripe.Int64(1),
	}
	params.Context = ctx
	if code := strings.TrimSpace(req.Metadata[MetadataCouponCode]); code != "" {
		params.Name = stripe.String(code)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key + ":discount")
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	var coupon *stripe.Coupon
	_, err := p.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		var err error
		coupon, err = p.api.coupons.New(params)
		return nil, err
	})
	if err != nil {
		return "", p.mapError("create discount", err)
	}
	return coupon.ID, nil
}

// RetrieveSession fetches a session with its line items and products expanded.
func (p *StripeProvider) RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error) {
	if p == nil {
		return SessionDetails{}, errors.New("stripe: provider is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionDetails{}, ErrSessionNotFound
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")
	params.AddExpand("line_items.data.price.product")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	session, err := p.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return p.api.sessions.Get(sessionID, params)
	})
	if err != nil {
		return SessionDetails{}, p.mapError("retrieve checkout session", err)
	}
	if session == nil {
		return SessionDetails{}, ErrSessionNotFound
	}
	return stripeSessionDetails(session), nil
}

func (p *StripeProvider) mapError(op string, err error) error {
	var stripeErr *stripe.Error
	switch {
	case errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("stripe: %s: %w", op, ErrSessionNotFound)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("stripe: %s: %w: %v", op, ErrProviderUnavailable, err)
	case !isStripeClientError(err):
		return fmt.Errorf("stripe: %s: %w: %v", op, ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
}

func isStripeClientError(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 &&
		stripeErr.HTTPStatusCode != http.StatusTooManyRequests
}

// sessionContact mirrors the parts of the session JSON that hold the delivery contact.
type sessionContact struct {
	ShippingDetails *struct {
		Name    string        `json:"name"`
		Address stripeAddress `json:"address"`
	} `json:"shipping_details"`
	CustomerDetails *struct {
		Name    string        `json:"name"`
		Phone   string        `json:"phone"`
		Address stripeAddress `json:"address"`
	} `json:"customer_details"`
}

type stripeAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

func stripeSessionDetails(session *stripe.CheckoutSession) SessionDetails {
	details := SessionDetails{
		ID:          session.ID,
		Provider:    "stripe",
		Paid:        session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Subtotal:    session.AmountSubtotal,
		AmountTotal: session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
		UserID:      strings.TrimSpace(session.Metadata[MetadataUserID]),
		CouponCode:  domain.NormalizeCouponCode(session.Metadata[MetadataCouponCode]),
		Shipping:    stripeShipping(session),
	}
	if session.LineItems == nil {
		return details
	}
	for _, li := range session.LineItems.Data {
		if li == nil {
			continue
		}
		item := SessionLineItem{
			ProductID:   UnknownProductID,
			Name:        li.Description,
			Quantity:    int(li.Quantity),
			AmountTotal: li.AmountTotal,
		}
		if li.Price != nil {
			item.UnitAmount = li.Price.UnitAmount
			if product := li.Price.Product; product != nil {
				if id := strings.TrimSpace(product.Metadata[MetadataProductID]); id != "" {
					item.ProductID = id
				}
				if product.Name != "" {
					item.Name = product.Name
				}
				if len(product.Images) > 0 {
					item.Image = product.Images[0]
				}
			}
		}
		details.Items = append(details.Items, item)
	}
	return details
}

func stripeShipping(session *stripe.CheckoutSession) domain.ShippingAddress {
	var contact sessionContact
	data, err := json.Marshal(session)
	if err != nil || json.Unmarshal(data, &contact) != nil {
		return domain.ShippingAddress{}
	}

	var addr domain.ShippingAddress
	var source stripeAddress
	if c := contact.CustomerDetails; c != nil {
		addr.Name, addr.Phone, source = c.Name, c.Phone, c.Address
	}
	if s := contact.ShippingDetails; s != nil {
		if s.Name != "" {
			addr.Name = s.Name
		}
		source = s.Address
	}
	addr.Street = strings.TrimSpace(strings.Join([]string{source.Line1, source.Line2}, " "))
	addr.City = source.City
	addr.State = source.State
	addr.ZipCode = source.PostalCode
	return addr
}

var stripeLocales = map[string]struct{}{
	"bg": {}, "cs": {}, "da": {}, "de": {}, "el": {}, "en": {}, "en-GB": {}, "es": {}, "es-419": {},
	"et": {}, "fi": {}, "fil": {}, "fr": {}, "fr-CA": {}, "hr": {}, "hu": {}, "id": {}, "it": {},
	"ja": {}, "ko": {}, "lt": {}, "lv": {}, "ms": {}, "mt": {}, "nb": {}, "nl": {}, "pl": {},
	"pt": {}, "pt-BR": {}, "ro": {}, "ru": {}, "sk": {}, "sl": {}, "sv": {}, "th": {}, "tr": {},
	"vi": {}, "zh": {}, "zh-HK": {}, "zh-TW": {},
}

// stripeLocale maps a BCP 47 tag to the closest Checkout locale, or "auto".
func stripeLocale(raw string) string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "_", "-"))
	if raw == "" {
		return "auto"
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "auto"
	}
	if _, ok := stripeLocales[tag.String()]; ok {
		return tag.String()
	}
	if base, conf := tag.Base(); conf != language.No {
		if _, ok := stripeLocales[base.String()]; ok {
			return base.String()
		}
	}
	return "auto"
}
