package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/payments"
)

// CreateCopayPayment opens a Stripe PaymentIntent for the client's copay on
// an appointment. Repeated calls return the same intent.
func (s *Service) CreateCopayPayment(ctx context.Context, clientID, appointmentID uuid.UUID) (*Payment, error) {
	if s.processor == nil {
		return nil, apperr.Unavailable("payments are not configured", nil)
	}
	a, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !containsID(a.ClientIDs, clientID) {
		return nil, apperr.NotFound("appointment")
	}
	if a.Status == scheduling.StatusCancelled {
		return nil, apperr.Conflict("cancelled appointments have no copay")
	}
	policy, err := s.PrimaryPolicy(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if policy == nil || policy.CopayCents <= 0 {
		return nil, apperr.Validation("no copay is due for this appointment")
	}

	intent, err := s.processor.CreateIntent(ctx, payments.CreateIntentRequest{
		AmountCents:    policy.CopayCents,
		Currency:       "usd",
		Description:    "Copay",
		IdempotencyKey: "copay:" + appointmentID.String() + ":" + clientID.String(),
		Metadata: map[string]string{
			"client_id":      clientID.String(),
			"appointment_id": appointmentID.String(),
		},
	})
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			return nil, apperr.Unavailable("payments are not configured", err)
		}
		return nil, apperr.Unavailable("payment processor unavailable", err)
	}
	if intent.Succeeded() {
		if existing, err := s.payments.GetByIntentID(ctx, intent.ID); err == nil && existing.Status == PaymentSucceeded {
			return nil, apperr.Conflict("copay already paid")
		}
	}

	p := &Payment{
		ClientID:              clientID,
		AppointmentID:         &appointmentID,
		AmountCents:           intent.AmountCents,
		Currency:              intent.Currency,
		StripePaymentIntentID: intent.ID,
		Status:                paymentStatus(intent),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	p.ClientSecret = intent.ClientSecret
	return p, nil
}

// RefreshPayment pulls the intent's current state from Stripe.
func (s *Service) RefreshPayment(ctx context.Context, clientID, paymentID uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.ClientID != clientID {
		return nil, apperr.NotFound("payment")
	}
	if p.Status == PaymentSucceeded || s.processor == nil {
		return p, nil
	}
	intent, err := s.processor.GetIntent(ctx, p.StripePaymentIntentID)
	if err != nil {
		return nil, apperr.Unavailable("payment processor unavailable", err)
	}
	if status := paymentStatus(intent); status != p.Status {
		p.Status = status
		if err := s.payments.UpdateStatus(ctx, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *Service) ListClientPayments(ctx context.Context, clientID uuid.UUID) ([]*Payment, error) {
	return s.payments.ListByClient(ctx, clientID)
}

func paymentStatus(i *payments.Intent) string {
	switch {
	case i.Succeeded():
		return PaymentSucceeded
	case i.Status == "canceled":
		return PaymentFailed
	default:
		return PaymentPending
	}
}
