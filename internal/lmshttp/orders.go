package lmshttp

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/payments"
	"github.com/keithlinneman/dentalacademy/internal/secure"
	"github.com/keithlinneman/dentalacademy/internal/store"
	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

type orderBody struct {
	CourseID string `json:"courseId" validate:"required,max=64"`
}

type orderStatusBody struct {
	Status string `json:"status" validate:"required,oneof=pending completed failed refunded"`
}

type checkoutView struct {
	Order        *store.Order `json:"order"`
	ClientSecret string       `json:"clientSecret,omitempty"`
}

type orderUpdateView struct {
	Order            *store.Order `json:"order"`
	AlreadyCompleted bool         `json:"alreadyCompleted"`
}

var errPaymentsDisabled = xerrors.New("payments: no provider configured")

func (rt *Routes) createOrder(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[orderBody](c)
	ctx := r.Context()

	course, err := rt.store.Course(ctx, in.CourseID)
	if err != nil {
		return nil, storeErr(err, "Course not found")
	}
	if course.Status != store.CoursePublished {
		return nil, apierr.NotFound("Course not found")
	}
	u, err := rt.store.UserByID(ctx, c.Session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.Unauthorized()
	}
	if err != nil {
		return nil, err
	}
	if u.IsEnrolled(course.ID) {
		return nil, apierr.Conflict("Already enrolled in this course")
	}
	if course.PriceCents > 0 && rt.payments == nil {
		return nil, errPaymentsDisabled
	}

	o := &store.Order{UserID: u.ID, CourseID: course.ID, AmountCents: course.PriceCents, Currency: course.Currency}
	if err := rt.store.CreateOrder(ctx, o); err != nil {
		return nil, storeErr(err, "Course not found")
	}

	// free courses complete without a payment round trip
	if course.PriceCents == 0 {
		res, err := rt.store.UpdateOrderStatus(ctx, o.ID, store.OrderCompleted)
		if err != nil {
			return nil, err
		}
		if res.Enrolled {
			rt.metrics.IncOrdersCompleted()
		}
		return secure.Created(checkoutView{Order: res.Order}), nil
	}

	intent, err := rt.payments.CreateIntent(ctx, o.AmountCents, o.Currency, map[string]string{
		payments.MetadataOrderID: o.ID,
		"user_id":                u.ID,
		"course_id":              course.ID,
	})
	if err != nil {
		if _, ferr := rt.store.UpdateOrderStatus(ctx, o.ID, store.OrderFailed); ferr != nil {
			c.Logger.Warn(ctx, "marking order failed", "order_id", o.ID, "err", ferr)
		}
		return nil, err
	}
	rt.metrics.IncPaymentIntentsCreated()
	if err := rt.store.SetOrderPaymentIntent(ctx, o.ID, intent.ID); err != nil {
		return nil, err
	}
	o.PaymentIntentID = intent.ID

	c.Logger.Info(ctx, "order created", "order_id", o.ID, "course_id", course.ID, "payment_intent", intent.ID)
	return secure.Created(checkoutView{Order: o, ClientSecret: intent.ClientSecret}), nil
}

func (rt *Routes) updateOrder(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[orderStatusBody](c)
	res, err := rt.store.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), store.OrderStatus(in.Status))
	if err != nil {
		return nil, storeErr(err, "Order not found")
	}
	if res.Enrolled {
		rt.metrics.IncOrdersCompleted()
	}
	c.Logger.Info(r.Context(), "order status changed",
		"order_id", res.Order.ID, "status", res.Order.Status, "already_completed", res.AlreadyCompleted)
	return secure.OK(orderUpdateView{Order: res.Order, AlreadyCompleted: res.AlreadyCompleted}), nil
}

const maxWebhookBody = 64 << 10

// stripeWebhook is called by the payment provider, not a browser, so it sits
// outside the composer. The signature is its authentication.
func (rt *Routes) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		apierr.Write(w, apierr.BadRequest("Invalid payload"))
		return
	}
	lg := log.FromContextOr(ctx, rt.log)
	ev, err := rt.payments.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		rt.metrics.IncWebhookEvents("rejected")
		lg.Warn(ctx, "webhook rejected", "err", err)
		apierr.Write(w, apierr.BadRequest("Invalid signature"))
		return
	}
	rt.metrics.IncWebhookEvents(ev.Kind.String())

	if ev.Kind != payments.EventIgnored {
		if err := rt.applyPaymentEvent(r, lg, ev); err != nil {
			// non-2xx makes the provider redeliver
			lg.Error(ctx, err, "webhook handling failed", "event_id", ev.ID, "type", ev.Type)
			apierr.Write(w, apierr.Internal(err))
			return
		}
	}
	apierr.WriteData(w, http.StatusOK, map[string]bool{"received": true})
}

func (rt *Routes) applyPaymentEvent(r *http.Request, lg log.Logger, ev payments.Event) error {
	ctx := r.Context()
	o, err := rt.store.OrderByPaymentIntent(ctx, ev.IntentID)
	if errors.Is(err, store.ErrNotFound) && ev.Metadata[payments.MetadataOrderID] != "" {
		o, err = rt.store.Order(ctx, ev.Metadata[payments.MetadataOrderID])
	}
	if errors.Is(err, store.ErrNotFound) {
		lg.Warn(ctx, "webhook for unknown order", "event_id", ev.ID, "payment_intent", ev.IntentID)
		return nil
	}
	if err != nil {
		return err
	}

	switch ev.Kind {
	case payments.EventSucceeded:
		res, err := rt.store.UpdateOrderStatus(ctx, o.ID, store.OrderCompleted)
		if err != nil {
			return err
		}
		if res.Enrolled {
			rt.metrics.IncOrdersCompleted()
		}
		lg.Info(ctx, "order completed by webhook",
			"order_id", o.ID, "event_id", ev.ID, "already_completed", res.AlreadyCompleted)
	case payments.EventFailed:
		// a late failure never undoes a completed order
		if o.Status != store.OrderPending {
			return nil
		}
		if _, err := rt.store.UpdateOrderStatus(ctx, o.ID, store.OrderFailed); err != nil {
			return err
		}
	}
	return nil
}
