package order

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/beanhouse/internal/domain/discount"
	"github.com/xenking/beanhouse/internal/domain/errs"
	"github.com/xenking/beanhouse/internal/domain/loyalty"
	"github.com/xenking/beanhouse/internal/domain/pricing"
)

const (
	maxCreateAttempts      = 5
	maxDisplayCodeAttempts = 10
	defaultNotifyTimeout   = 10 * time.Second
)

// CreateRequest holds the checkout input.
type CreateRequest struct {
	Items         []pricing.Line
	Customer      Customer
	Note          string
	PaymentMethod string
	// ShippingFee overrides the computed fee when set.
	ShippingFee  *decimal.Decimal
	DiscountCode string
	PointsToUse  int64
}

// StatusUpdate is a partial status change. Nil fields are left unchanged.
type StatusUpdate struct {
	Status        *Status
	PaymentStatus *PaymentStatus
	PointsUsed    *int64
}

// CodeCheck is the outcome of ValidateDiscountCode.
type CodeCheck struct {
	Valid          bool
	DiscountAmount decimal.Decimal
	Message        string
}

// Service settles orders: pricing, discount codes, loyalty redemption and
// accrual, and status transitions.
type Service struct {
	orders    Repository
	discounts *discount.Validator
	ledger    *loyalty.Ledger
	calc      *pricing.Calculator
	notifier  Notifier

	now           func() time.Time
	random        io.Reader
	notifyTimeout time.Duration

	tracer        trace.Tracer
	ordersCreated metric.Int64Counter
	codesApplied  metric.Int64Counter
	pointsCredit  metric.Int64Counter
}

// Option configures a Service.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
	random         io.Reader
	notifyTimeout  time.Duration
}

// WithTracerProvider sets the tracer provider used for settlement spans.
func WithTracerProvider(p trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = p }
}

// WithMeterProvider sets the meter provider used for settlement counters.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom overrides the entropy source for display codes.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// WithNotifyTimeout bounds each confirmation dispatch.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *options) { o.notifyTimeout = d }
}

// NewService creates a settlement Service. notifier may be nil.
func NewService(
	orders Repository,
	discounts *discount.Validator,
	ledger *loyalty.Ledger,
	calc *pricing.Calculator,
	notifier Notifier,
	opts ...Option,
) (*Service, error) {
	o := options{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		now:            time.Now,
		notifyTimeout:  defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter("beanhouse/order")
	ordersCreated, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders persisted at checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	codesApplied, err := meter.Int64Counter("discount_codes.applied",
		metric.WithDescription("Discount code uses recorded at checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "discount_codes.applied counter")
	}
	pointsCredit, err := meter.Int64Counter("loyalty.points.credited",
		metric.WithDescription("Loyalty points credited on qualifying transitions"))
	if err != nil {
		return nil, errors.Wrap(err, "loyalty.points.credited counter")
	}

	return &Service{
		orders:        orders,
		discounts:     discounts,
		ledger:        ledger,
		calc:          calc,
		notifier:      notifier,
		now:           o.now,
		random:        o.random,
		notifyTimeout: o.notifyTimeout,
		tracer:        o.tracerProvider.Tracer("beanhouse/order"),
		ordersCreated: ordersCreated,
		codesApplied:  codesApplied,
		pointsCredit:  pointsCredit,
	}, nil
}

// CreateOrder prices the cart, applies the discount code and redeemed points,
// and persists the order. The code's usage counter is incremented right
// before the order is written; the two are not atomic.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer func() { endSpan(span, rerr) }()

	quote, err := s.calc.Quote(req.Items, req.ShippingFee)
	if err != nil {
		return nil, err
	}
	base := quote.Base()

	voucher := decimal.Zero
	if req.DiscountCode != "" {
		res, err := s.discounts.Preview(ctx, req.DiscountCode, base)
		if err != nil {
			return nil, err
		}
		voucher = res.Amount
	}

	var usage loyalty.Usage
	email := strings.TrimSpace(req.Customer.Email)
	if req.PointsToUse > 0 {
		if usage, err = s.redemption(ctx, email, req.PointsToUse, pricing.Total(quote.Subtotal, quote.ShippingFee, voucher)); err != nil {
			return nil, err
		}
	}

	var code *string
	if req.DiscountCode != "" {
		res, err := s.discounts.Apply(ctx, req.DiscountCode, base)
		if err != nil {
			return nil, err
		}
		voucher = res.Amount
		code = &res.Code
		s.codesApplied.Add(ctx, 1)
	}

	disc := voucher.Add(usage.Discount)
	now := s.now()
	o := &Order{
		Items:         quote.Lines,
		Customer:      req.Customer,
		Note:          req.Note,
		PaymentMethod: req.PaymentMethod,
		Subtotal:      quote.Subtotal,
		ShippingFee:   quote.ShippingFee,
		Discount:      disc,
		Total:         pricing.Total(quote.Subtotal, quote.ShippingFee, disc),
		DiscountCode:  code,
		PointsUsed:    usage.Points,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.Customer.Email = email

	if err := s.persist(ctx, o); err != nil {
		return nil, err
	}
	s.ordersCreated.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.id", o.ID))

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	if usage.Points > 0 {
		if err := s.ledger.Debit(ctx, email, o.ID, o.CreatedAt, usage.Points); err != nil {
			lg.Error("Debit loyalty points", zap.Int64("points", usage.Points), zap.Error(err))
		}
	}
	lg.Info("Order created",
		zap.String("total", o.Total.String()),
		zap.Int64("points_used", o.PointsUsed),
	)

	s.notify(ctx, o)
	return o, nil
}

// redemption checks a points request against the customer's balance.
func (s *Service) redemption(ctx context.Context, email string, requested int64, payable decimal.Decimal) (loyalty.Usage, error) {
	if email == "" {
		return loyalty.Usage{}, errs.Validation("customerEmail", "customer email is required to redeem points")
	}
	acc, err := s.ledger.Account(ctx, email)
	if err != nil {
		if errors.Is(err, loyalty.ErrCustomerNotFound) {
			return loyalty.Usage{}, errs.Validation("pointsToUse", "no loyalty account for "+email)
		}
		return loyalty.Usage{}, errs.Persistence("find loyalty account", err)
	}
	usage := s.ledger.Rules().ValidateUsage(acc.CurrentPoints, requested, payable)
	if !usage.OK {
		return loyalty.Usage{}, errs.Validation("pointsToUse", "no loyalty points available")
	}
	return usage, nil
}

// persist assigns the order's identity and writes it, retrying when a
// concurrent checkout took the same sequence or display code.
func (s *Service) persist(ctx context.Context, o *Order) error {
	year := o.CreatedAt.Year()
	for attempt := 1; ; attempt++ {
		seq, err := s.orders.NextSequence(ctx, year)
		if err != nil {
			return errs.Persistence("next order sequence", err)
		}
		display, err := s.displayCode(ctx)
		if err != nil {
			return err
		}
		o.ID = FormatID(year, seq)
		o.DisplayCode = display

		err = s.orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicate) || attempt >= maxCreateAttempts {
			return errs.Persistence("create order", err)
		}
		zctx.From(ctx).Debug("Order identity taken, retrying",
			zap.String("order_id", o.ID),
			zap.Int("attempt", attempt),
		)
	}
}

func (s *Service) displayCode(ctx context.Context) (string, error) {
	for range maxDisplayCodeAttempts {
		code, err := NewDisplayCode(s.random)
		if err != nil {
			return "", errors.Wrap(err, "generate display code")
		}
		taken, err := s.orders.DisplayCodeExists(ctx, code)
		if err != nil {
			return "", errs.Persistence("check display code", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", errs.Persistence("generate display code", errors.New("no free display code"))
}

func (s *Service) notify(ctx context.Context, o *Order) {
	if s.notifier == nil {
		return
	}
	snapshot := *o
	lg := zctx.From(ctx)
	detached := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Send(sendCtx, &snapshot); err != nil {
			lg.Warn("Send order notification",
				zap.String("order_id", snapshot.ID),
				zap.Error(err),
			)
		}
	}()
}

// ValidateDiscountCode previews a code against subtotal + shippingFee without
// consuming it. Business-rule failures come back as an invalid CodeCheck; only
// storage failures are returned as errors.
func (s *Service) ValidateDiscountCode(ctx context.Context, code string, subtotal, shippingFee decimal.Decimal) (CodeCheck, error) {
	res, err := s.discounts.Preview(ctx, code, subtotal.Add(shippingFee))
	if err != nil {
		var pe *errs.PersistenceError
		if errors.As(err, &pe) {
			return CodeCheck{}, err
		}
		return CodeCheck{DiscountAmount: decimal.Zero, Message: errs.UserMessage(err)}, nil
	}
	return CodeCheck{
		Valid:          true,
		DiscountAmount: res.Amount,
		Message:        "discount code applied",
	}, nil
}

// GetOrder returns the order with the given id.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errs.NotFound("order", id)
		}
		return nil, errs.Persistence("find order", err)
	}
	return o, nil
}

// GetOrderByDisplayCode returns the order with the given pickup code.
func (s *Service) GetOrderByDisplayCode(ctx context.Context, code string) (*Order, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	o, err := s.orders.FindByDisplayCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errs.NotFound("order", code)
		}
		return nil, errs.Persistence("find order by display code", err)
	}
	return o, nil
}

// UpdateOrderStatus applies a status change. Redeeming more points and
// crediting earned points are best-effort: loyalty failures are logged and the
// update still succeeds. A changed pointsUsed debits only the increase over
// the points already redeemed, and the stored discount keeps its voucher share
// plus the value of the new point total.
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, upd StatusUpdate) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, rerr) }()

	if upd.Status != nil && !upd.Status.Valid() {
		return nil, errs.Validation("status", "unknown order status "+string(*upd.Status))
	}
	if upd.PaymentStatus != nil && !upd.PaymentStatus.Valid() {
		return nil, errs.Validation("paymentStatus", "unknown payment status "+string(*upd.PaymentStatus))
	}
	if upd.PointsUsed != nil && *upd.PointsUsed < 0 {
		return nil, errs.Validation("pointsUsed", "points used must not be negative")
	}

	cur, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.String("order_id", id))
	rules := s.ledger.Rules()
	patch := Patch{
		Status:        upd.Status,
		PaymentStatus: upd.PaymentStatus,
		UpdatedAt:     s.now(),
	}

	// Redeem more points: keep the voucher part of the stored discount and
	// replace the points part. A raise the balance cannot cover is dropped.
	var debit int64
	if upd.PointsUsed != nil && *upd.PointsUsed != cur.PointsUsed {
		points := *upd.PointsUsed
		delta := points - cur.PointsUsed
		apply := true
		if delta > 0 {
			debit = s.validateDebit(ctx, lg, cur.Customer.Email, delta)
			apply = debit > 0
		} else {
			lg.Info("Points used reduced, balance not refunded",
				zap.Int64("from", cur.PointsUsed),
				zap.Int64("to", points),
			)
		}
		if apply {
			voucher := decimal.Max(decimal.Zero, cur.Discount.Sub(rules.Value(cur.PointsUsed)))
			disc := voucher.Add(rules.Value(points))
			total := pricing.Total(cur.Subtotal, cur.ShippingFee, disc)
			patch.PointsUsed = &points
			patch.Discount = &disc
			patch.Total = &total
		}
	}

	prev, next := cur.State(), cur.State().Apply(upd.Status, upd.PaymentStatus)
	var earned int64
	if Qualifies(IsCOD(cur.PaymentMethod), prev, next) && cur.PointsEarned == 0 {
		disc := cur.Discount
		if patch.Discount != nil {
			disc = *patch.Discount
		}
		earned = rules.PointsEarned(pricing.Total(cur.Subtotal, cur.ShippingFee, disc))
		if earned > 0 {
			patch.PointsEarned = &earned
		}
	}

	updated, err := s.orders.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errs.NotFound("order", id)
		}
		return nil, errs.Persistence("update order", err)
	}

	if debit > 0 {
		if err := s.ledger.Debit(ctx, updated.Customer.Email, updated.ID, updated.CreatedAt, debit); err != nil {
			lg.Error("Debit loyalty points", zap.Int64("points", debit), zap.Error(err))
		}
	}
	if earned > 0 {
		if err := s.ledger.Credit(ctx, updated.Customer.Email, updated.ID, updated.CreatedAt, earned); err != nil {
			lg.Error("Credit loyalty points", zap.Int64("points", earned), zap.Error(err))
		} else {
			s.pointsCredit.Add(ctx, earned)
			lg.Info("Loyalty points credited", zap.Int64("points", earned))
		}
	}

	return updated, nil
}

// validateDebit returns how many of the requested extra points can be
// deducted, or 0 when the customer cannot redeem them.
func (s *Service) validateDebit(ctx context.Context, lg *zap.Logger, email string, delta int64) int64 {
	if email == "" {
		lg.Warn("Points redeemed on order without customer email")
		return 0
	}
	acc, err := s.ledger.Account(ctx, email)
	if err != nil {
		lg.Warn("Find loyalty account", zap.Error(err))
		return 0
	}
	if acc.CurrentPoints < delta {
		lg.Warn("Insufficient loyalty points",
			zap.Int64("available", acc.CurrentPoints),
			zap.Int64("requested", delta),
		)
		return 0
	}
	return delta
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
